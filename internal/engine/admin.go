package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/keys"
	"github.com/gosuda/tether/internal/ledger"
)

// PolicyPatch edits a policy. Nil fields are left unchanged; the Clear flags
// remove optional parts.
type PolicyPatch struct {
	Name        *string
	Description *string
	Spend       *domain.SpendLimit
	ClearSpend  bool
	Contracts   *[]domain.ContractAllowlistEntry
	Conditions  *[]domain.PolicyCondition
	ExpiresAt   *time.Time
	ClearExpiry bool
	RevokeOn    *[]domain.RevocationTrigger
}

func (pp PolicyPatch) apply(p *domain.Policy) {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Description != nil {
		p.Description = *pp.Description
	}
	if pp.ClearSpend {
		p.Spend = nil
	} else if pp.Spend != nil {
		s := *pp.Spend
		p.Spend = &s
	}
	if pp.Contracts != nil {
		p.Contracts = *pp.Contracts
	}
	if pp.Conditions != nil {
		p.Conditions = *pp.Conditions
	}
	if pp.ClearExpiry {
		p.ExpiresAt = nil
	} else if pp.ExpiresAt != nil {
		t := *pp.ExpiresAt
		p.ExpiresAt = &t
	}
	if pp.RevokeOn != nil {
		p.RevokeOn = *pp.RevokeOn
	}
}

// CreatePolicy stores p as version 1 of a new active policy.
func (e *Engine) CreatePolicy(ctx context.Context, p *domain.Policy) (*domain.Policy, error) {
	now := e.now()
	p.ID = uuid.New()
	p.Version = 1
	p.Status = domain.PolicyStatusActive
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Contracts == nil {
		p.Contracts = []domain.ContractAllowlistEntry{}
	}
	if p.Conditions == nil {
		p.Conditions = []domain.PolicyCondition{}
	}
	if p.RevokeOn == nil {
		p.RevokeOn = []domain.RevocationTrigger{}
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("engine.CreatePolicy: %w", err)
	}
	if err := e.store.Repos().Policies.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("engine.CreatePolicy: %w", err)
	}
	log.Info().Str("policy_id", p.ID.String()).Str("name", p.Name).Msg("policy created")
	return p, nil
}

// UpdatePolicy appends a new version with patch applied. Terminal policies
// are immutable.
func (e *Engine) UpdatePolicy(ctx context.Context, id uuid.UUID, patch PolicyPatch) (*domain.Policy, error) {
	unlock, err := e.acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine.UpdatePolicy: %w", err)
	}
	defer unlock()

	var next *domain.Policy
	err = e.store.Atomic(ctx, id, func(tx domain.Repositories) error {
		head, err := tx.Policies.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if head.Status.IsTerminal() {
			return fmt.Errorf("policy is %s: %w", head.Status, domain.ErrImmutable)
		}
		next = head.NextVersion(e.now())
		patch.apply(next)
		if err := next.Validate(); err != nil {
			return err
		}
		return tx.Policies.Update(ctx, next)
	})
	if err != nil {
		return nil, fmt.Errorf("engine.UpdatePolicy: %w", err)
	}
	log.Info().Str("policy_id", id.String()).Int("version", next.Version).Msg("policy updated")
	return next, nil
}

// DeletePolicy removes a policy from listings and revokes every key and agent
// bound to it. Its versions stay readable for audit.
func (e *Engine) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	unlock, err := e.acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("engine.DeletePolicy: %w", err)
	}
	defer unlock()

	err = e.store.Atomic(ctx, id, func(tx domain.Repositories) error {
		if err := tx.Policies.Delete(ctx, id); err != nil {
			return err
		}
		if _, err := tx.Keys.RevokeByPolicy(ctx, id); err != nil {
			return err
		}
		_, err := tx.Agents.RevokeByPolicy(ctx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("engine.DeletePolicy: %w", err)
	}
	log.Info().Str("policy_id", id.String()).Msg("policy deleted")
	return nil
}

// SpendUsage reports the policy's consumption in its current window.
func (e *Engine) SpendUsage(ctx context.Context, id uuid.UUID) (*ledger.Usage, error) {
	repos := e.store.Repos()
	p, err := repos.Policies.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine.SpendUsage: %w", err)
	}
	u, err := ledger.New(repos.Spend, e.rates).Usage(ctx, p, e.now())
	if err != nil {
		return nil, fmt.Errorf("engine.SpendUsage: %w", err)
	}
	return u, nil
}

// KeyRegistration adds a watch-only key from its public half.
type KeyRegistration struct {
	Type           domain.KeyType
	PublicKey      string
	PolicyID       *uuid.UUID
	AgentID        *uuid.UUID
	ParentKeyID    *uuid.UUID
	DerivationPath string
	ExpiresAt      *time.Time
}

func (e *Engine) RegisterKey(ctx context.Context, reg KeyRegistration) (*domain.PolicyBoundKey, error) {
	id, err := keys.Inspect(reg.PublicKey)
	if err != nil {
		verr := &domain.ValidationError{}
		verr.Add("publicKey", "%s", err.Error())
		return nil, fmt.Errorf("engine.RegisterKey: %w", verr)
	}
	k := &domain.PolicyBoundKey{
		ID:             uuid.New(),
		Fingerprint:    id.Fingerprint,
		Type:           reg.Type,
		PolicyID:       reg.PolicyID,
		AgentID:        reg.AgentID,
		Address:        id.Address,
		PublicKey:      id.PublicKey,
		Status:         domain.KeyStatusActive,
		ExpiresAt:      reg.ExpiresAt,
		ParentKeyID:    reg.ParentKeyID,
		DerivationPath: reg.DerivationPath,
		CreatedAt:      e.now(),
	}
	if err := e.storeKey(ctx, k); err != nil {
		return nil, fmt.Errorf("engine.RegisterKey: %w", err)
	}
	return k, nil
}

// GenerateKey creates a key pair. The private key is kept only when the
// engine has a vault.
func (e *Engine) GenerateKey(ctx context.Context, req keys.GenerateRequest) (*domain.PolicyBoundKey, error) {
	k, err := e.keys.Generate(req, e.now())
	if err != nil {
		return nil, fmt.Errorf("engine.GenerateKey: %w", err)
	}
	if err := e.storeKey(ctx, k); err != nil {
		return nil, fmt.Errorf("engine.GenerateKey: %w", err)
	}
	return k, nil
}

func (e *Engine) storeKey(ctx context.Context, k *domain.PolicyBoundKey) error {
	if err := k.Validate(); err != nil {
		return err
	}
	repos := e.store.Repos()
	if err := e.checkPolicyRef(ctx, repos, k.PolicyID); err != nil {
		return err
	}
	if k.AgentID != nil {
		if _, err := repos.Agents.GetByID(ctx, *k.AgentID); err != nil {
			return err
		}
	}
	if k.ParentKeyID != nil {
		parent, err := repos.Keys.GetByID(ctx, *k.ParentKeyID)
		if err != nil {
			return err
		}
		if parent.Status != domain.KeyStatusActive {
			verr := &domain.ValidationError{}
			verr.Add("parentKeyId", "parent key is %s", parent.Status)
			return verr
		}
	}
	if err := repos.Keys.Create(ctx, k); err != nil {
		return err
	}
	log.Info().Str("key_id", k.ID.String()).Str("fingerprint", k.Fingerprint).Str("type", string(k.Type)).Msg("key created")
	return nil
}

// checkPolicyRef requires a referenced policy to exist and be active.
func (e *Engine) checkPolicyRef(ctx context.Context, repos domain.Repositories, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	p, err := repos.Policies.GetByID(ctx, *id)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() {
		verr := &domain.ValidationError{}
		verr.Add("policyId", "policy is %s", p.Status)
		return verr
	}
	return nil
}

type KeyPatch struct {
	PolicyID    *uuid.UUID
	AgentID     *uuid.UUID
	ExpiresAt   *time.Time
	ClearExpiry bool
	Status      *domain.KeyStatus
}

// UpdateKey edits an active key. Revoked and expired keys are immutable.
func (e *Engine) UpdateKey(ctx context.Context, id uuid.UUID, patch KeyPatch) (*domain.PolicyBoundKey, error) {
	current, err := e.store.Repos().Keys.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine.UpdateKey: %w", err)
	}

	var k *domain.PolicyBoundKey
	err = e.store.Atomic(ctx, scope(current.PolicyID), func(tx domain.Repositories) error {
		k, err = tx.Keys.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if k.Status != domain.KeyStatusActive {
			return fmt.Errorf("key is %s: %w", k.Status, domain.ErrImmutable)
		}
		if patch.PolicyID != nil {
			if err := e.checkPolicyRef(ctx, tx, patch.PolicyID); err != nil {
				return err
			}
			k.PolicyID = patch.PolicyID
		}
		if patch.AgentID != nil {
			if _, err := tx.Agents.GetByID(ctx, *patch.AgentID); err != nil {
				return err
			}
			k.AgentID = patch.AgentID
		}
		if patch.ClearExpiry {
			k.ExpiresAt = nil
		} else if patch.ExpiresAt != nil {
			k.ExpiresAt = patch.ExpiresAt
		}
		if patch.Status != nil && *patch.Status != k.Status {
			if !k.Status.ValidTransition(*patch.Status) {
				return fmt.Errorf("%s -> %s: %w", k.Status, *patch.Status, domain.ErrInvalidTransition)
			}
			k.Status = *patch.Status
		}
		if err := k.Validate(); err != nil {
			return err
		}
		return tx.Keys.Update(ctx, k)
	})
	if err != nil {
		return nil, fmt.Errorf("engine.UpdateKey: %w", err)
	}
	return k, nil
}

// RevokeKey moves an active key to revoked. Keys that are no longer active
// are returned unchanged.
func (e *Engine) RevokeKey(ctx context.Context, id uuid.UUID) (*domain.PolicyBoundKey, error) {
	current, err := e.store.Repos().Keys.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine.RevokeKey: %w", err)
	}

	var k *domain.PolicyBoundKey
	err = e.store.Atomic(ctx, scope(current.PolicyID), func(tx domain.Repositories) error {
		k, err = tx.Keys.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if k.Status != domain.KeyStatusActive {
			return nil
		}
		k.Status = domain.KeyStatusRevoked
		return tx.Keys.Update(ctx, k)
	})
	if err != nil {
		return nil, fmt.Errorf("engine.RevokeKey: %w", err)
	}
	log.Info().Str("key_id", id.String()).Str("status", string(k.Status)).Msg("key revoked")
	return k, nil
}

func (e *Engine) DeleteKey(ctx context.Context, id uuid.UUID) error {
	if err := e.store.Repos().Keys.Delete(ctx, id); err != nil {
		return fmt.Errorf("engine.DeleteKey: %w", err)
	}
	return nil
}

// CreateAgent registers an agent against an active policy and an existing
// key. A key bound to a different policy is rejected.
func (e *Engine) CreateAgent(ctx context.Context, a *domain.Agent) (*domain.Agent, error) {
	a.ID = uuid.New()
	a.CreatedAt = e.now()
	a.TotalActions = 0
	a.SuccessRate = 0
	a.LastActiveAt = nil
	if a.Status == "" {
		a.Status = domain.AgentStatusActive
	}
	if a.Capabilities == nil {
		a.Capabilities = []domain.AgentCapability{}
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("engine.CreateAgent: %w", err)
	}
	if a.Status == domain.AgentStatusRevoked {
		verr := &domain.ValidationError{}
		verr.Add("status", "cannot create a revoked agent")
		return nil, fmt.Errorf("engine.CreateAgent: %w", verr)
	}

	repos := e.store.Repos()
	if err := e.checkAgentRefs(ctx, repos, a); err != nil {
		return nil, fmt.Errorf("engine.CreateAgent: %w", err)
	}
	if err := repos.Agents.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("engine.CreateAgent: %w", err)
	}
	log.Info().Str("agent_id", a.ID.String()).Str("policy_id", a.PolicyID.String()).Msg("agent created")
	return a, nil
}

func (e *Engine) checkAgentRefs(ctx context.Context, repos domain.Repositories, a *domain.Agent) error {
	if err := e.checkPolicyRef(ctx, repos, &a.PolicyID); err != nil {
		return err
	}
	k, err := repos.Keys.GetByID(ctx, a.KeyID)
	if err != nil {
		return err
	}
	if k.PolicyID != nil && *k.PolicyID != a.PolicyID {
		verr := &domain.ValidationError{}
		verr.Add("keyId", "key is bound to policy %s", k.PolicyID)
		return verr
	}
	return nil
}

type AgentPatch struct {
	Name         *string
	Description  *string
	KeyID        *uuid.UUID
	Status       *domain.AgentStatus
	Capabilities *[]domain.AgentCapability
	TaskScope    *string
}

// UpdateAgent edits an agent. Revoked agents are immutable.
func (e *Engine) UpdateAgent(ctx context.Context, id uuid.UUID, patch AgentPatch) (*domain.Agent, error) {
	current, err := e.store.Repos().Agents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine.UpdateAgent: %w", err)
	}

	var a *domain.Agent
	err = e.store.Atomic(ctx, current.PolicyID, func(tx domain.Repositories) error {
		a, err = tx.Agents.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == domain.AgentStatusRevoked {
			return fmt.Errorf("agent is revoked: %w", domain.ErrImmutable)
		}
		if patch.Name != nil {
			a.Name = *patch.Name
		}
		if patch.Description != nil {
			a.Description = *patch.Description
		}
		if patch.TaskScope != nil {
			a.TaskScope = *patch.TaskScope
		}
		if patch.Capabilities != nil {
			a.Capabilities = *patch.Capabilities
		}
		if patch.Status != nil && *patch.Status != a.Status {
			if !a.Status.ValidTransition(*patch.Status) {
				return fmt.Errorf("%s -> %s: %w", a.Status, *patch.Status, domain.ErrInvalidTransition)
			}
			a.Status = *patch.Status
		}
		if patch.KeyID != nil {
			a.KeyID = *patch.KeyID
			if err := e.checkAgentRefs(ctx, tx, a); err != nil {
				return err
			}
		}
		if err := a.Validate(); err != nil {
			return err
		}
		return tx.Agents.Update(ctx, a)
	})
	if err != nil {
		return nil, fmt.Errorf("engine.UpdateAgent: %w", err)
	}
	return a, nil
}

func (e *Engine) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	if err := e.store.Repos().Agents.Delete(ctx, id); err != nil {
		return fmt.Errorf("engine.DeleteAgent: %w", err)
	}
	return nil
}

// scope picks the transaction scope for a record that may not be bound to a
// policy.
func scope(policyID *uuid.UUID) uuid.UUID {
	if policyID == nil {
		return uuid.Nil
	}
	return *policyID
}
