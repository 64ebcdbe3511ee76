// Package policy decides whether a proposed action is permitted by a policy.
// Evaluation is pure: it reads the policy, the action, the spend history it is
// handed and the clock value it is given, and touches nothing else.
package policy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gosuda/tether/internal/domain"
)

const (
	ReasonExpired        = "policy expired"
	ReasonContract       = "contract/function not permitted"
	ReasonSpend          = "spend limit exceeded"
	ReasonConversion     = "currency conversion unavailable"
	reasonConditionFmt   = "condition %d (%s) not satisfied"
	reasonObservationFmt = "condition %d (%s) not satisfied: no observation"
)

// Cause identifies which check produced a denial.
type Cause string

const (
	CauseNone         Cause = ""
	CauseExpiry       Cause = "expiry"
	CauseContract     Cause = "contract"
	CauseSpend        Cause = "spend"
	CauseConversion   Cause = "conversion"
	CauseCondition    Cause = "condition"
	CausePrecondition Cause = "precondition"
)

// Violation reports whether the cause is a breach of the policy's own
// constraints, as opposed to expiry or an infrastructure problem.
func (c Cause) Violation() bool {
	return c == CauseContract || c == CauseSpend || c == CauseCondition
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Result domain.ExecutionResult
	Reason string
	Cause  Cause
	Checks domain.PolicyEvaluation
	// Spent is the in-window total before this action, in the limit currency.
	Spent decimal.Decimal
}

func (d Decision) Permitted() bool { return d.Result == domain.ResultSuccess }

// Denied builds a denial that happened before evaluation proper, such as a
// paused agent. No check is marked as evaluated.
func Denied(reason string) Decision {
	return Decision{Result: domain.ResultDenied, Reason: reason, Cause: CausePrecondition}
}

// Converter converts amounts between currencies.
type Converter interface {
	Convert(amount decimal.Decimal, from, to domain.Currency) (decimal.Decimal, error)
}

type Evaluator struct {
	fx Converter
}

func NewEvaluator(fx Converter) *Evaluator {
	return &Evaluator{fx: fx}
}

// Evaluate runs the checks in fixed order (expiry, contract, spend,
// conditions) and stops at the first failure. history must hold the policy's
// spend records; records outside the window ending at now are ignored.
func (e *Evaluator) Evaluate(p *domain.Policy, action domain.ProposedAction, history []*domain.SpendRecord, now time.Time) Decision {
	var d Decision

	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		d.Checks.TimeCheck = boolPtr(false)
		return d.deny(CauseExpiry, ReasonExpired)
	}
	d.Checks.TimeCheck = boolPtr(true)

	if !contractPermitted(p.Contracts, action) {
		d.Checks.ContractCheck = boolPtr(false)
		return d.deny(CauseContract, ReasonContract)
	}
	d.Checks.ContractCheck = boolPtr(true)

	if p.Spend != nil && action.Amount.IsPositive() {
		spent, amount, err := e.spendInWindow(p.Spend, action, history, now)
		if err != nil {
			d.Checks.SpendCheck = boolPtr(false)
			return d.deny(CauseConversion, ReasonConversion)
		}
		d.Spent = spent
		if spent.Add(amount).GreaterThan(p.Spend.Max) {
			d.Checks.SpendCheck = boolPtr(false)
			return d.deny(CauseSpend, ReasonSpend)
		}
	}
	d.Checks.SpendCheck = boolPtr(true)

	for i, c := range p.Conditions {
		ok, reason := conditionHolds(i, c, action.Observations, now)
		if !ok {
			d.Checks.ConditionCheck = boolPtr(false)
			return d.deny(CauseCondition, reason)
		}
	}
	d.Checks.ConditionCheck = boolPtr(true)

	d.Result = domain.ResultSuccess
	return d
}

func (d Decision) deny(cause Cause, reason string) Decision {
	d.Result = domain.ResultDenied
	d.Cause = cause
	d.Reason = reason
	return d
}

func contractPermitted(allow []domain.ContractAllowlistEntry, action domain.ProposedAction) bool {
	if len(allow) == 0 {
		return true
	}
	for _, e := range allow {
		if e.Permits(action.Target, action.Selector) {
			return true
		}
	}
	return false
}

// spendInWindow returns the window total and the action amount, both in the
// limit currency.
func (e *Evaluator) spendInWindow(limit *domain.SpendLimit, action domain.ProposedAction, history []*domain.SpendRecord, now time.Time) (decimal.Decimal, decimal.Decimal, error) {
	start := limit.Window.Start(now)
	lifetime := limit.Window == domain.WindowLifetime

	total := decimal.Zero
	for _, r := range history {
		if r.Timestamp.After(now) {
			continue
		}
		if !lifetime && r.Timestamp.Before(start) {
			continue
		}
		v, err := e.fx.Convert(r.Amount, r.Currency, limit.Currency)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("policy.spendInWindow: record %s: %w", r.ID, err)
		}
		total = total.Add(v)
	}

	amount, err := e.fx.Convert(action.Amount, action.Currency, limit.Currency)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("policy.spendInWindow: action: %w", err)
	}
	return total, amount, nil
}

func conditionHolds(i int, c domain.PolicyCondition, obs domain.Observations, now time.Time) (bool, string) {
	observed, ok := observe(c, obs, now)
	if !ok {
		return false, fmt.Sprintf(reasonObservationFmt, i, c.Type)
	}
	holds, err := c.Holds(observed)
	if err != nil || !holds {
		return false, fmt.Sprintf(reasonConditionFmt, i, c.Type)
	}
	return true, ""
}

func observe(c domain.PolicyCondition, obs domain.Observations, now time.Time) (decimal.Decimal, bool) {
	switch c.Type {
	case domain.ConditionOracle:
		v, ok := obs.Oracles[c.Oracle]
		return v, ok
	case domain.ConditionTime:
		return decimal.NewFromInt(now.Unix()), true
	case domain.ConditionBlock:
		if obs.BlockNumber == nil {
			return decimal.Zero, false
		}
		return decimal.NewFromUint64(*obs.BlockNumber), true
	case domain.ConditionBalance:
		if obs.Balance == nil {
			return decimal.Zero, false
		}
		return *obs.Balance, true
	default:
		return decimal.Zero, false
	}
}

func boolPtr(b bool) *bool { return &b }
