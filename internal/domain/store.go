package domain

import (
	"context"

	"github.com/google/uuid"
)

// Repositories groups the collections the engine reads and writes.
type Repositories struct {
	Policies   PolicyRepository
	Keys       KeyRepository
	Agents     AgentRepository
	Spend      SpendRepository
	Executions ExecutionRepository
}

// Store is the persistence capability injected into the engine and the API.
type Store interface {
	Repos() Repositories
	// Atomic runs fn against repositories bound to one transaction scoped to
	// policyID. Either every write fn makes is committed or none is.
	Atomic(ctx context.Context, policyID uuid.UUID, fn func(Repositories) error) error
	Close()
}
