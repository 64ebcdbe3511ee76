package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/engine"
)

type ProposeExecutionInput struct {
	Body struct {
		AgentID    uuid.UUID         `json:"agentId" doc:"Proposing agent"`
		ActionType domain.ActionType `json:"actionType" enum:"swap,transfer,approve,stake,unstake,vote,custom" doc:"Kind of action"`
		Action     ActionBody        `json:"action" doc:"The action to evaluate"`
		Inputs     map[string]any    `json:"inputs,omitempty" doc:"Caller-supplied inputs recorded with the log"`
	}
}

type ExecutionOutput struct {
	Body *domain.ExecutionLog
}

type ListExecutionsInput struct {
	AgentID    uuid.UUID `query:"agentId" doc:"Filter by agent"`
	PolicyID   uuid.UUID `query:"policyId" doc:"Filter by policy"`
	Result     string    `query:"result" enum:"success,denied,pending,failed,replayed" doc:"Filter by result"`
	ActionType string    `query:"actionType" enum:"swap,transfer,approve,stake,unstake,vote,custom" doc:"Filter by action type"`
	Since      time.Time `query:"since" doc:"Only logs at or after this instant"`
	Search     string    `query:"search" doc:"Match inputCID, logCID or txHash"`
	Limit      int       `query:"limit" minimum:"1" maximum:"200" default:"50" doc:"Max results"`
	Offset     int       `query:"offset" minimum:"0" default:"0" doc:"Offset for pagination"`
}

type ListExecutionsOutput struct {
	Body []*domain.ExecutionLog
}

type ExecutionIDInput struct {
	ID uuid.UUID `path:"id" doc:"Execution log ID"`
}

func RegisterExecutionRoutes(api huma.API, store DataStore, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "propose-execution",
		Method:        http.MethodPost,
		Path:          "/executions",
		Summary:       "Propose an action for evaluation",
		Description:   "Every proposal is recorded, whether permitted or denied.",
		Tags:          []string{"Executions"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *ProposeExecutionInput) (*ExecutionOutput, error) {
		b := input.Body
		entry, err := svc.Propose(ctx, engine.ProposeRequest{
			AgentID:    b.AgentID,
			ActionType: b.ActionType,
			Action:     b.Action.action(),
			Inputs:     b.Inputs,
		})
		if err != nil {
			return nil, apiError(err, "execution")
		}
		return &ExecutionOutput{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-executions",
		Method:      http.MethodGet,
		Path:        "/executions",
		Summary:     "List execution logs, newest first",
		Tags:        []string{"Executions"},
	}, func(ctx context.Context, input *ListExecutionsInput) (*ListExecutionsOutput, error) {
		f := domain.ExecutionFilter{
			Result:     domain.ExecutionResult(input.Result),
			ActionType: domain.ActionType(input.ActionType),
			Search:     input.Search,
			Limit:      input.Limit,
			Offset:     input.Offset,
		}
		if input.AgentID != uuid.Nil {
			f.AgentID = &input.AgentID
		}
		if input.PolicyID != uuid.Nil {
			f.PolicyID = &input.PolicyID
		}
		if !input.Since.IsZero() {
			f.Since = &input.Since
		}
		logs, err := store.Repos().Executions.List(ctx, f)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list executions", err)
		}
		if logs == nil {
			logs = []*domain.ExecutionLog{}
		}
		return &ListExecutionsOutput{Body: logs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-execution",
		Method:      http.MethodGet,
		Path:        "/executions/{id}",
		Summary:     "Get an execution log by ID",
		Tags:        []string{"Executions"},
	}, func(ctx context.Context, input *ExecutionIDInput) (*ExecutionOutput, error) {
		entry, err := store.Repos().Executions.GetByID(ctx, input.ID)
		if err != nil {
			return nil, apiError(err, "execution")
		}
		return &ExecutionOutput{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "replay-execution",
		Method:        http.MethodPost,
		Path:          "/executions/{id}/replay",
		Summary:       "Re-evaluate a recorded action against the current policy",
		Tags:          []string{"Executions"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *ExecutionIDInput) (*ExecutionOutput, error) {
		entry, err := svc.Replay(ctx, input.ID)
		if err != nil {
			return nil, apiError(err, "execution")
		}
		return &ExecutionOutput{Body: entry}, nil
	})
}
