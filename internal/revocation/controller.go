// Package revocation moves policies to terminal statuses and cascades the
// change to every key and agent bound to them.
package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/policy"
)

// Outcome describes what Apply or Revoke changed.
type Outcome struct {
	Policy        *domain.Policy
	Changed       bool
	KeysRevoked   int
	AgentsRevoked int
}

type Controller struct {
	repos domain.Repositories
}

// New binds a controller to repos, which may be scoped to a transaction.
func New(repos domain.Repositories) *Controller {
	return &Controller{repos: repos}
}

// Target returns the status a decision moves p to, if any.
func Target(p *domain.Policy, d policy.Decision) (domain.PolicyStatus, bool) {
	if d.Permitted() || p.Status.IsTerminal() {
		return "", false
	}
	switch {
	case d.Cause == policy.CauseExpiry && p.RevokesOn(domain.TriggerExpiry):
		return domain.PolicyStatusExpired, true
	case d.Cause.Violation() && p.RevokesOn(domain.TriggerViolation):
		return domain.PolicyStatusViolated, true
	case d.Cause == policy.CauseSpend && p.RevokesOn(domain.TriggerSpendExceeded):
		return domain.PolicyStatusViolated, true
	default:
		return "", false
	}
}

// Apply reacts to a decision made against p, which must be the current head
// version. Decisions that trigger nothing leave p untouched.
func (c *Controller) Apply(ctx context.Context, p *domain.Policy, d policy.Decision, now time.Time) (Outcome, error) {
	to, ok := Target(p, d)
	if !ok {
		return Outcome{Policy: p}, nil
	}
	out, err := c.transition(ctx, p, to, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("revocation.Apply: %w", err)
	}
	return out, nil
}

// Revoke is manual revocation. It applies regardless of p.RevokeOn and is a
// no-op once p is terminal.
func (c *Controller) Revoke(ctx context.Context, p *domain.Policy, now time.Time) (Outcome, error) {
	if p.Status.IsTerminal() {
		return Outcome{Policy: p}, nil
	}
	out, err := c.transition(ctx, p, domain.PolicyStatusRevoked, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("revocation.Revoke: %w", err)
	}
	return out, nil
}

// transition re-reads the head so that a stale p cannot fork the version
// history or resurrect a terminal policy.
func (c *Controller) transition(ctx context.Context, p *domain.Policy, to domain.PolicyStatus, now time.Time) (Outcome, error) {
	head, err := c.repos.Policies.GetByID(ctx, p.ID)
	if err != nil {
		return Outcome{}, err
	}
	if head.Status.IsTerminal() {
		return Outcome{Policy: head}, nil
	}
	if !head.Status.ValidTransition(to) {
		return Outcome{}, fmt.Errorf("%s -> %s: %w", head.Status, to, domain.ErrInvalidTransition)
	}

	next := head.NextVersion(now)
	next.Status = to
	if err := c.repos.Policies.Update(ctx, next); err != nil {
		return Outcome{}, err
	}

	keys, err := c.repos.Keys.RevokeByPolicy(ctx, p.ID)
	if err != nil {
		return Outcome{}, err
	}
	agents, err := c.repos.Agents.RevokeByPolicy(ctx, p.ID)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{Policy: next, Changed: true, KeysRevoked: keys, AgentsRevoked: agents}, nil
}
