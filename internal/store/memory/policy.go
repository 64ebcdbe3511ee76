package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/domain"
)

type PolicyRepo struct {
	t *tx
}

func (r *PolicyRepo) Create(_ context.Context, p *domain.Policy) error {
	return r.t.write(func() error {
		s := r.t.s
		if _, ok := s.policies[p.ID]; ok {
			return fmt.Errorf("policyRepo.Create: %w", domain.ErrConflict)
		}
		s.policies[p.ID] = []*domain.Policy{p.Clone()}
		r.t.onRollback(func() { delete(s.policies, p.ID) })
		return nil
	})
}

func (r *PolicyRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Policy, error) {
	var out *domain.Policy
	r.t.read(func() {
		s := r.t.s
		if versions, ok := s.policies[id]; ok && !s.deleted[id] {
			out = versions[len(versions)-1].Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("policyRepo.GetByID: %w", domain.ErrPolicyNotFound)
	}
	return out, nil
}

// GetVersion stays readable after Delete so recorded executions can still be
// traced to the version they were evaluated against.
func (r *PolicyRepo) GetVersion(_ context.Context, id uuid.UUID, version int) (*domain.Policy, error) {
	var out *domain.Policy
	r.t.read(func() {
		versions := r.t.s.policies[id]
		if version >= 1 && version <= len(versions) {
			out = versions[version-1].Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("policyRepo.GetVersion: %w", domain.ErrPolicyNotFound)
	}
	return out, nil
}

func (r *PolicyRepo) ListVersions(_ context.Context, id uuid.UUID) ([]*domain.Policy, error) {
	var out []*domain.Policy
	r.t.read(func() {
		for _, p := range r.t.s.policies[id] {
			out = append(out, p.Clone())
		}
	})
	if len(out) == 0 {
		return nil, fmt.Errorf("policyRepo.ListVersions: %w", domain.ErrPolicyNotFound)
	}
	return out, nil
}

func (r *PolicyRepo) List(_ context.Context) ([]*domain.Policy, error) {
	out := []*domain.Policy{}
	r.t.read(func() {
		s := r.t.s
		for id, versions := range s.policies {
			if s.deleted[id] {
				continue
			}
			out = append(out, versions[len(versions)-1].Clone())
		}
	})
	slices.SortFunc(out, func(a, b *domain.Policy) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (r *PolicyRepo) Update(_ context.Context, p *domain.Policy) error {
	return r.t.write(func() error {
		s := r.t.s
		versions, ok := s.policies[p.ID]
		if !ok || s.deleted[p.ID] {
			return fmt.Errorf("policyRepo.Update: %w", domain.ErrPolicyNotFound)
		}
		head := versions[len(versions)-1]
		if p.Version != head.Version+1 {
			return fmt.Errorf("policyRepo.Update: version %d after head %d: %w", p.Version, head.Version, domain.ErrConflict)
		}
		s.policies[p.ID] = append(versions, p.Clone())
		r.t.onRollback(func() { s.policies[p.ID] = versions })
		return nil
	})
}

func (r *PolicyRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.t.write(func() error {
		s := r.t.s
		if _, ok := s.policies[id]; !ok || s.deleted[id] {
			return fmt.Errorf("policyRepo.Delete: %w", domain.ErrPolicyNotFound)
		}
		s.deleted[id] = true
		r.t.onRollback(func() { delete(s.deleted, id) })
		return nil
	})
}
