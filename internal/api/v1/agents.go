package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/engine"
)

type CreateAgentInput struct {
	Body struct {
		Name         string                   `json:"name" minLength:"1" maxLength:"255" doc:"Agent name"`
		Description  string                   `json:"description,omitempty" doc:"Free-form description"`
		PolicyID     uuid.UUID                `json:"policyId" doc:"Governing policy"`
		KeyID        uuid.UUID                `json:"keyId" doc:"Key the agent acts with"`
		Status       domain.AgentStatus       `json:"status,omitempty" enum:"active,idle,paused" doc:"Initial status, active by default"`
		Capabilities []domain.AgentCapability `json:"capabilities,omitempty" doc:"Capabilities the agent may use"`
		TaskScope    string                   `json:"taskScope,omitempty" doc:"What the agent is meant to do"`
	}
}

type AgentOutput struct {
	Body *domain.Agent
}

type ListAgentsInput struct {
	Status   string    `query:"status" enum:"active,idle,paused,revoked" doc:"Filter by status"`
	PolicyID uuid.UUID `query:"policyId" doc:"Filter by governing policy"`
	Search   string    `query:"search" doc:"Match name or description"`
}

type ListAgentsOutput struct {
	Body []*domain.Agent
}

type AgentIDInput struct {
	ID uuid.UUID `path:"id" doc:"Agent ID"`
}

type PatchAgentInput struct {
	ID   uuid.UUID `path:"id" doc:"Agent ID"`
	Body struct {
		Name         *string                  `json:"name,omitempty" minLength:"1" maxLength:"255" doc:"Agent name"`
		Description  *string                  `json:"description,omitempty" doc:"Free-form description"`
		KeyID        *uuid.UUID               `json:"keyId,omitempty" doc:"Key the agent acts with"`
		Status       *domain.AgentStatus      `json:"status,omitempty" enum:"active,idle,paused,revoked" doc:"New status"`
		Capabilities []domain.AgentCapability `json:"capabilities,omitempty" doc:"Replacement capabilities"`
		TaskScope    *string                  `json:"taskScope,omitempty" doc:"What the agent is meant to do"`
	}
}

func RegisterAgentRoutes(api huma.API, store DataStore, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
		Tags:        []string{"Agents"},
	}, func(ctx context.Context, input *ListAgentsInput) (*ListAgentsOutput, error) {
		f := domain.AgentFilter{Status: domain.AgentStatus(input.Status), Search: input.Search}
		if input.PolicyID != uuid.Nil {
			f.PolicyID = &input.PolicyID
		}
		list, err := store.Repos().Agents.List(ctx, f)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list agents", err)
		}
		if list == nil {
			list = []*domain.Agent{}
		}
		return &ListAgentsOutput{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{id}",
		Summary:     "Get an agent by ID",
		Tags:        []string{"Agents"},
	}, func(ctx context.Context, input *AgentIDInput) (*AgentOutput, error) {
		a, err := store.Repos().Agents.GetByID(ctx, input.ID)
		if err != nil {
			return nil, apiError(err, "agent")
		}
		return &AgentOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Create an agent bound to a policy and key",
		Tags:          []string{"Agents"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateAgentInput) (*AgentOutput, error) {
		b := input.Body
		a, err := svc.CreateAgent(ctx, &domain.Agent{
			Name:         b.Name,
			Description:  b.Description,
			PolicyID:     b.PolicyID,
			KeyID:        b.KeyID,
			Status:       b.Status,
			Capabilities: b.Capabilities,
			TaskScope:    b.TaskScope,
		})
		if err != nil {
			return nil, apiError(err, "agent")
		}
		return &AgentOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{id}",
		Summary:     "Update an agent",
		Tags:        []string{"Agents"},
	}, func(ctx context.Context, input *PatchAgentInput) (*AgentOutput, error) {
		b := input.Body
		patch := engine.AgentPatch{
			Name:        b.Name,
			Description: b.Description,
			KeyID:       b.KeyID,
			Status:      b.Status,
			TaskScope:   b.TaskScope,
		}
		if b.Capabilities != nil {
			patch.Capabilities = &b.Capabilities
		}
		a, err := svc.UpdateAgent(ctx, input.ID, patch)
		if err != nil {
			return nil, apiError(err, "agent")
		}
		return &AgentOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-agent",
		Method:        http.MethodDelete,
		Path:          "/agents/{id}",
		Summary:       "Delete an agent",
		Tags:          []string{"Agents"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *AgentIDInput) (*struct{}, error) {
		if err := svc.DeleteAgent(ctx, input.ID); err != nil {
			return nil, apiError(err, "agent")
		}
		return nil, nil
	})
}
