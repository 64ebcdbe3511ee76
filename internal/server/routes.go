package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/tether/internal/api/v1"
	"github.com/gosuda/tether/internal/api/ws"
)

func registerAPIRoutes(api huma.API, store v1.DataStore, svc v1.Service) {
	v1.RegisterPolicyRoutes(api, store, svc)
	v1.RegisterKeyRoutes(api, store, svc)
	v1.RegisterAgentRoutes(api, store, svc)
	v1.RegisterExecutionRoutes(api, store, svc)
	v1.RegisterStatsRoutes(api, svc)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/executions", hub.ServeExecutions)
}
