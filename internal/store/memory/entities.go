package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/domain"
)

func cloneKey(k *domain.PolicyBoundKey) *domain.PolicyBoundKey {
	c := *k
	return &c
}

func cloneAgent(a *domain.Agent) *domain.Agent {
	c := *a
	c.Capabilities = slices.Clone(a.Capabilities)
	return &c
}

type KeyRepo struct {
	t *tx
}

func (r *KeyRepo) Create(_ context.Context, k *domain.PolicyBoundKey) error {
	return r.t.write(func() error {
		s := r.t.s
		if _, ok := s.keys[k.ID]; ok {
			return fmt.Errorf("keyRepo.Create: %w", domain.ErrConflict)
		}
		s.keys[k.ID] = cloneKey(k)
		r.t.onRollback(func() { delete(s.keys, k.ID) })
		return nil
	})
}

func (r *KeyRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.PolicyBoundKey, error) {
	var out *domain.PolicyBoundKey
	r.t.read(func() {
		if k, ok := r.t.s.keys[id]; ok {
			out = cloneKey(k)
		}
	})
	if out == nil {
		return nil, fmt.Errorf("keyRepo.GetByID: %w", domain.ErrKeyNotFound)
	}
	return out, nil
}

func (r *KeyRepo) List(_ context.Context, f domain.KeyFilter) ([]*domain.PolicyBoundKey, error) {
	out := []*domain.PolicyBoundKey{}
	r.t.read(func() {
		for _, k := range r.t.s.keys {
			if f.Match(k) {
				out = append(out, cloneKey(k))
			}
		}
	})
	slices.SortFunc(out, func(a, b *domain.PolicyBoundKey) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (r *KeyRepo) Update(_ context.Context, k *domain.PolicyBoundKey) error {
	return r.t.write(func() error {
		s := r.t.s
		prev, ok := s.keys[k.ID]
		if !ok {
			return fmt.Errorf("keyRepo.Update: %w", domain.ErrKeyNotFound)
		}
		s.keys[k.ID] = cloneKey(k)
		r.t.onRollback(func() { s.keys[k.ID] = prev })
		return nil
	})
}

func (r *KeyRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.t.write(func() error {
		s := r.t.s
		prev, ok := s.keys[id]
		if !ok {
			return fmt.Errorf("keyRepo.Delete: %w", domain.ErrKeyNotFound)
		}
		delete(s.keys, id)
		r.t.onRollback(func() { s.keys[id] = prev })
		return nil
	})
}

func (r *KeyRepo) RevokeByPolicy(_ context.Context, policyID uuid.UUID) (int, error) {
	n := 0
	err := r.t.write(func() error {
		s := r.t.s
		for id, k := range s.keys {
			if k.Status != domain.KeyStatusActive || !k.BoundTo(policyID) {
				continue
			}
			prev := k
			next := cloneKey(k)
			next.Status = domain.KeyStatusRevoked
			s.keys[id] = next
			r.t.onRollback(func() { s.keys[id] = prev })
			n++
		}
		return nil
	})
	return n, err
}

type AgentRepo struct {
	t *tx
}

func (r *AgentRepo) Create(_ context.Context, a *domain.Agent) error {
	return r.t.write(func() error {
		s := r.t.s
		if _, ok := s.agents[a.ID]; ok {
			return fmt.Errorf("agentRepo.Create: %w", domain.ErrConflict)
		}
		s.agents[a.ID] = cloneAgent(a)
		r.t.onRollback(func() { delete(s.agents, a.ID) })
		return nil
	})
}

func (r *AgentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Agent, error) {
	var out *domain.Agent
	r.t.read(func() {
		if a, ok := r.t.s.agents[id]; ok {
			out = cloneAgent(a)
		}
	})
	if out == nil {
		return nil, fmt.Errorf("agentRepo.GetByID: %w", domain.ErrAgentNotFound)
	}
	return out, nil
}

func (r *AgentRepo) List(_ context.Context, f domain.AgentFilter) ([]*domain.Agent, error) {
	out := []*domain.Agent{}
	r.t.read(func() {
		for _, a := range r.t.s.agents {
			if f.Match(a) {
				out = append(out, cloneAgent(a))
			}
		}
	})
	slices.SortFunc(out, func(a, b *domain.Agent) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (r *AgentRepo) Update(_ context.Context, a *domain.Agent) error {
	return r.t.write(func() error {
		s := r.t.s
		prev, ok := s.agents[a.ID]
		if !ok {
			return fmt.Errorf("agentRepo.Update: %w", domain.ErrAgentNotFound)
		}
		s.agents[a.ID] = cloneAgent(a)
		r.t.onRollback(func() { s.agents[a.ID] = prev })
		return nil
	})
}

func (r *AgentRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.t.write(func() error {
		s := r.t.s
		prev, ok := s.agents[id]
		if !ok {
			return fmt.Errorf("agentRepo.Delete: %w", domain.ErrAgentNotFound)
		}
		delete(s.agents, id)
		r.t.onRollback(func() { s.agents[id] = prev })
		return nil
	})
}

func (r *AgentRepo) RevokeByPolicy(_ context.Context, policyID uuid.UUID) (int, error) {
	n := 0
	err := r.t.write(func() error {
		s := r.t.s
		for id, a := range s.agents {
			if a.Status == domain.AgentStatusRevoked || a.PolicyID != policyID {
				continue
			}
			prev := a
			next := cloneAgent(a)
			next.Status = domain.AgentStatusRevoked
			s.agents[id] = next
			r.t.onRollback(func() { s.agents[id] = prev })
			n++
		}
		return nil
	})
	return n, err
}
