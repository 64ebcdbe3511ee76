package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/engine"
	"github.com/gosuda/tether/internal/keys"
	"github.com/gosuda/tether/internal/ledger"
	"github.com/gosuda/tether/internal/policy"
	"github.com/gosuda/tether/internal/revocation"
)

// DataStore abstracts the read side of persistence for handler testing.
// *memory.Store and *postgres.Store satisfy this interface.
type DataStore interface {
	Repos() domain.Repositories
}

// Service abstracts every state-changing operation for handler testing.
// *engine.Engine satisfies this interface.
type Service interface {
	CreatePolicy(ctx context.Context, p *domain.Policy) (*domain.Policy, error)
	UpdatePolicy(ctx context.Context, id uuid.UUID, patch engine.PolicyPatch) (*domain.Policy, error)
	DeletePolicy(ctx context.Context, id uuid.UUID) error
	Revoke(ctx context.Context, policyID uuid.UUID) (revocation.Outcome, error)
	Preview(ctx context.Context, policyID uuid.UUID, action domain.ProposedAction) (policy.Decision, error)
	SpendUsage(ctx context.Context, id uuid.UUID) (*ledger.Usage, error)

	RegisterKey(ctx context.Context, reg engine.KeyRegistration) (*domain.PolicyBoundKey, error)
	GenerateKey(ctx context.Context, req keys.GenerateRequest) (*domain.PolicyBoundKey, error)
	UpdateKey(ctx context.Context, id uuid.UUID, patch engine.KeyPatch) (*domain.PolicyBoundKey, error)
	RevokeKey(ctx context.Context, id uuid.UUID) (*domain.PolicyBoundKey, error)
	DeleteKey(ctx context.Context, id uuid.UUID) error

	CreateAgent(ctx context.Context, a *domain.Agent) (*domain.Agent, error)
	UpdateAgent(ctx context.Context, id uuid.UUID, patch engine.AgentPatch) (*domain.Agent, error)
	DeleteAgent(ctx context.Context, id uuid.UUID) error

	Propose(ctx context.Context, req engine.ProposeRequest) (*domain.ExecutionLog, error)
	Replay(ctx context.Context, executionID uuid.UUID) (*domain.ExecutionLog, error)
	Stats(ctx context.Context) (*domain.DashboardStats, error)
}

var _ Service = (*engine.Engine)(nil)
