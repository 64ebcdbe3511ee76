// Package engine runs the evaluation pipeline: it serializes proposals per
// policy, evaluates them and commits the log, the spend debit and any
// revocation in one transaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/events"
	"github.com/gosuda/tether/internal/fx"
	"github.com/gosuda/tether/internal/keys"
	"github.com/gosuda/tether/internal/ledger"
	"github.com/gosuda/tether/internal/policy"
	"github.com/gosuda/tether/internal/recorder"
	"github.com/gosuda/tether/internal/revocation"
)

type Engine struct {
	store     domain.Store
	rates     *fx.Table
	eval      *policy.Evaluator
	keys      *keys.Manager
	locker    Locker
	publisher events.Publisher
	lock      LockConfig
	now       func() time.Time
	metrics   *metrics
}

type Option func(*Engine)

// WithLocker replaces the in-process policy lock, e.g. with a Redis lock
// shared between instances.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithPublisher sets where committed executions and revocations are announced.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithKeyManager enables key generation and log signing.
func WithKeyManager(m *keys.Manager) Option {
	return func(e *Engine) { e.keys = m }
}

func WithLockConfig(c LockConfig) Option {
	return func(e *Engine) { e.lock = c }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store domain.Store, rates *fx.Table, opts ...Option) (*Engine, error) {
	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("engine.New: metrics: %w", err)
	}
	e := &Engine{
		store:     store,
		rates:     rates,
		eval:      policy.NewEvaluator(rates),
		keys:      keys.NewManager(nil),
		locker:    NewLocalLocker(),
		publisher: events.Discard{},
		now:       time.Now,
		metrics:   m,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lock = e.lock.withDefaults()
	return e, nil
}

// ProposeRequest is an agent asking to perform one action. The key used is
// the agent's bound key.
type ProposeRequest struct {
	AgentID    uuid.UUID
	ActionType domain.ActionType
	Action     domain.ProposedAction
	Inputs     map[string]any
}

func (r *ProposeRequest) Validate() error {
	verr := &domain.ValidationError{}
	if r.AgentID == uuid.Nil {
		verr.Add("agentId", "is required")
	}
	if _, ok := r.ActionType.Capability(); !ok {
		verr.Add("actionType", "unknown action type %q", r.ActionType)
	}
	if err := r.Action.Validate(); err != nil {
		var inner *domain.ValidationError
		if errors.As(err, &inner) {
			verr.Fields = append(verr.Fields, inner.Fields...)
		}
	}
	return verr.Err()
}

// Propose evaluates req against the agent's policy and records the outcome.
// A denial is a recorded log, not an error. Errors mean nothing was recorded.
func (e *Engine) Propose(ctx context.Context, req ProposeRequest) (*domain.ExecutionLog, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "engine.Propose")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("engine.Propose: %w", err)
	}
	start := e.now()

	agent, err := e.store.Repos().Agents.GetByID(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("engine.Propose: %w", err)
	}
	policyID := agent.PolicyID
	span.SetAttributes(attribute.String("policy_id", policyID.String()))

	unlock, err := e.acquire(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("engine.Propose: %w", err)
	}
	defer unlock()

	var (
		entry   *domain.ExecutionLog
		outcome revocation.Outcome
	)
	err = e.store.Atomic(ctx, policyID, func(tx domain.Repositories) error {
		now := e.now()

		// Re-read under the lock; the agent may have changed while we waited.
		agent, err := tx.Agents.GetByID(ctx, req.AgentID)
		if err != nil {
			return err
		}
		if agent.PolicyID != policyID {
			return fmt.Errorf("agent %s moved to another policy: %w", agent.ID, domain.ErrConflict)
		}
		key, err := tx.Keys.GetByID(ctx, agent.KeyID)
		if err != nil {
			return err
		}
		p, err := tx.Policies.GetByID(ctx, policyID)
		if err != nil {
			return err
		}

		d, err := e.decide(ctx, tx, p, agent, key, req, now)
		if err != nil {
			return err
		}

		entry = &domain.ExecutionLog{
			AgentID:          agent.ID,
			PolicyID:         p.ID,
			KeyID:            key.ID,
			PolicyVersion:    p.Version,
			ActionType:       req.ActionType,
			Action:           req.Action,
			Result:           d.Result,
			DenialReason:     d.Reason,
			Timestamp:        now,
			DurationMS:       e.now().Sub(start).Milliseconds(),
			Inputs:           req.Inputs,
			Outputs:          outputs(d),
			PolicyEvaluation: &d.Checks,
		}
		if err := recorder.New(tx.Executions).Append(ctx, entry, p, e.signer(key)); err != nil {
			return err
		}

		if entry.Result == domain.ResultSuccess && req.Action.Amount.IsPositive() {
			usd, err := e.rates.ToUSD(req.Action.Amount, req.Action.Currency)
			if err != nil {
				log.Warn().Err(err).Str("currency", string(req.Action.Currency)).Msg("no USD rate, spend recorded at zero USD value")
				usd = decimal.Zero
			}
			if _, err := ledger.New(tx.Spend, e.rates).Record(ctx, p.ID, req.Action.Amount, req.Action.Currency, usd, entry.ID, now); err != nil {
				return err
			}
		}

		agent.RecordOutcome(entry.Result == domain.ResultSuccess, now)
		if err := tx.Agents.Update(ctx, agent); err != nil {
			return err
		}

		outcome, err = revocation.New(tx).Apply(ctx, p, d, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("engine.Propose: %w", err)
	}

	e.metrics.recorded(ctx, entry, e.now().Sub(start))
	log.Info().
		Str("execution_id", entry.ID.String()).
		Str("policy_id", entry.PolicyID.String()).
		Str("agent_id", entry.AgentID.String()).
		Str("result", string(entry.Result)).
		Str("reason", entry.DenialReason).
		Msg("execution recorded")

	e.announce(ctx, entry, outcome)
	return entry, nil
}

// decide runs the pre-checks that do not belong to the policy itself, then
// the evaluator. Pre-check denials never trigger revocation.
func (e *Engine) decide(ctx context.Context, tx domain.Repositories, p *domain.Policy, agent *domain.Agent, key *domain.PolicyBoundKey, req ProposeRequest, now time.Time) (policy.Decision, error) {
	if p.Status.IsTerminal() {
		return policy.Denied("policy is " + string(p.Status)), nil
	}
	if !agent.Status.CanAct() {
		return policy.Denied("agent is " + string(agent.Status)), nil
	}
	if key.Status == domain.KeyStatusActive && key.Expired(now) {
		key.Status = domain.KeyStatusExpired
		if err := tx.Keys.Update(ctx, key); err != nil {
			return policy.Decision{}, err
		}
	}
	if key.Status != domain.KeyStatusActive {
		return policy.Denied("key is " + string(key.Status)), nil
	}
	if !key.BoundTo(p.ID) {
		return policy.Denied("key is not bound to the agent's policy"), nil
	}
	capability, _ := req.ActionType.Capability()
	if !agent.Allows(capability) {
		return policy.Denied("capability " + string(capability) + " not enabled"), nil
	}

	history, err := e.history(ctx, tx, p, now)
	if err != nil {
		return policy.Decision{}, err
	}
	return e.eval.Evaluate(p, req.Action, history, now), nil
}

func (e *Engine) history(ctx context.Context, tx domain.Repositories, p *domain.Policy, now time.Time) ([]*domain.SpendRecord, error) {
	if p.Spend == nil {
		return nil, nil
	}
	return ledger.New(tx.Spend, e.rates).History(ctx, p.ID, p.Spend.Window, now)
}

func (e *Engine) signer(key *domain.PolicyBoundKey) recorder.SignFunc {
	if key.EncryptedPrivateKey == "" || !e.keys.CanSign() {
		return nil
	}
	return func(logCID string) (string, error) {
		return e.keys.Sign(key, []byte(logCID))
	}
}

func outputs(d policy.Decision) map[string]any {
	out := map[string]any{"permitted": d.Permitted()}
	if d.Cause != policy.CauseNone {
		out["cause"] = string(d.Cause)
	}
	if !d.Spent.IsZero() {
		out["spentInWindow"] = d.Spent.String()
	}
	return out
}

// Preview evaluates action against the current policy version without
// recording anything or taking the policy lock.
func (e *Engine) Preview(ctx context.Context, policyID uuid.UUID, action domain.ProposedAction) (policy.Decision, error) {
	if err := action.Validate(); err != nil {
		return policy.Decision{}, fmt.Errorf("engine.Preview: %w", err)
	}
	repos := e.store.Repos()
	p, err := repos.Policies.GetByID(ctx, policyID)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("engine.Preview: %w", err)
	}
	if p.Status.IsTerminal() {
		return policy.Denied("policy is " + string(p.Status)), nil
	}
	now := e.now()
	history, err := e.history(ctx, repos, p, now)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("engine.Preview: %w", err)
	}
	return e.eval.Evaluate(p, action, history, now), nil
}

// Replay re-evaluates a recorded action against the policy's current version
// and records the outcome as a replayed log. It consumes no spend and never
// revokes.
func (e *Engine) Replay(ctx context.Context, executionID uuid.UUID) (*domain.ExecutionLog, error) {
	orig, err := e.store.Repos().Executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("engine.Replay: %w", err)
	}
	start := e.now()

	unlock, err := e.acquire(ctx, orig.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("engine.Replay: %w", err)
	}
	defer unlock()

	var entry *domain.ExecutionLog
	err = e.store.Atomic(ctx, orig.PolicyID, func(tx domain.Repositories) error {
		now := e.now()
		p, err := tx.Policies.GetByID(ctx, orig.PolicyID)
		if err != nil {
			return err
		}

		var d policy.Decision
		if p.Status.IsTerminal() {
			d = policy.Denied("policy is " + string(p.Status))
		} else {
			history, err := e.history(ctx, tx, p, now)
			if err != nil {
				return err
			}
			d = e.eval.Evaluate(p, orig.Action, history, now)
		}

		out := outputs(d)
		out["originalResult"] = string(orig.Result)
		replayOf := orig.ID
		entry = &domain.ExecutionLog{
			AgentID:          orig.AgentID,
			PolicyID:         p.ID,
			KeyID:            orig.KeyID,
			PolicyVersion:    p.Version,
			ActionType:       orig.ActionType,
			Action:           orig.Action,
			Result:           domain.ResultReplayed,
			DenialReason:     d.Reason,
			Timestamp:        now,
			DurationMS:       e.now().Sub(start).Milliseconds(),
			Inputs:           orig.Inputs,
			Outputs:          out,
			PolicyEvaluation: &d.Checks,
			ReplayOf:         &replayOf,
		}
		return recorder.New(tx.Executions).Append(ctx, entry, p, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("engine.Replay: %w", err)
	}

	e.metrics.recorded(ctx, entry, e.now().Sub(start))
	e.announce(ctx, entry, revocation.Outcome{})
	return entry, nil
}

// Revoke manually revokes a policy and cascades to its keys and agents.
// Revoking a terminal policy changes nothing.
func (e *Engine) Revoke(ctx context.Context, policyID uuid.UUID) (revocation.Outcome, error) {
	unlock, err := e.acquire(ctx, policyID)
	if err != nil {
		return revocation.Outcome{}, fmt.Errorf("engine.Revoke: %w", err)
	}
	defer unlock()

	var outcome revocation.Outcome
	err = e.store.Atomic(ctx, policyID, func(tx domain.Repositories) error {
		p, err := tx.Policies.GetByID(ctx, policyID)
		if err != nil {
			return err
		}
		outcome, err = revocation.New(tx).Revoke(ctx, p, e.now())
		return err
	})
	if err != nil {
		return revocation.Outcome{}, fmt.Errorf("engine.Revoke: %w", err)
	}

	e.announce(ctx, nil, outcome)
	return outcome, nil
}

func (e *Engine) acquire(ctx context.Context, policyID uuid.UUID) (func(), error) {
	unlock, err := acquire(ctx, e.locker, policyID.String(), e.lock)
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		e.metrics.conflict(ctx)
		log.Warn().Str("policy_id", policyID.String()).Msg("policy lock not acquired")
	}
	return unlock, err
}

// announce publishes after commit. Delivery failures are the publisher's
// concern and never undo a committed evaluation.
func (e *Engine) announce(ctx context.Context, entry *domain.ExecutionLog, outcome revocation.Outcome) {
	if entry != nil {
		agentID := entry.AgentID
		executionID := entry.ID
		_ = e.publisher.Publish(ctx, events.Event{
			Type:          events.TypeExecution,
			ExecutionID:   &executionID,
			PolicyID:      entry.PolicyID,
			AgentID:       &agentID,
			Result:        entry.Result,
			Reason:        entry.DenialReason,
			PolicyVersion: entry.PolicyVersion,
			Timestamp:     entry.Timestamp,
		})
	}
	if outcome.Changed {
		p := outcome.Policy
		e.metrics.revoked(ctx, p.Status)
		log.Warn().
			Str("policy_id", p.ID.String()).
			Str("status", string(p.Status)).
			Int("keys_revoked", outcome.KeysRevoked).
			Int("agents_revoked", outcome.AgentsRevoked).
			Msg("policy revoked")
		ev := events.Event{
			Type:          events.TypeRevoked,
			PolicyID:      p.ID,
			PolicyStatus:  p.Status,
			PolicyVersion: p.Version,
			KeysRevoked:   outcome.KeysRevoked,
			AgentsRevoked: outcome.AgentsRevoked,
			Timestamp:     p.UpdatedAt,
		}
		if entry != nil {
			ev.ExecutionID = &entry.ID
			ev.Reason = entry.DenialReason
		}
		_ = e.publisher.Publish(ctx, ev)
	}
}
