package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/tether/internal/domain"
)

type StatsOutput struct {
	Body *domain.DashboardStats
}

type KnownContractsOutput struct {
	Body []domain.KnownContract
}

func RegisterStatsRoutes(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Dashboard statistics for the last 24 hours",
		Tags:        []string{"Stats"},
	}, func(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
		s, err := svc.Stats(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to compute stats", err)
		}
		return &StatsOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-known-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts/known",
		Summary:     "Catalog of commonly allowlisted contracts",
		Tags:        []string{"Contracts"},
	}, func(_ context.Context, _ *struct{}) (*KnownContractsOutput, error) {
		return &KnownContractsOutput{Body: domain.KnownContracts}, nil
	})
}
