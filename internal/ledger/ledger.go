// Package ledger records spend debits against policies and aggregates them
// over rolling windows.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/policy"
)

type Ledger struct {
	repo domain.SpendRepository
	fx   policy.Converter
}

func New(repo domain.SpendRepository, fx policy.Converter) *Ledger {
	return &Ledger{repo: repo, fx: fx}
}

// Record appends one debit. It never updates or removes an existing record.
func (l *Ledger) Record(ctx context.Context, policyID uuid.UUID, amount decimal.Decimal, currency domain.Currency, usdValue decimal.Decimal, executionID uuid.UUID, at time.Time) (*domain.SpendRecord, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("ledger.Record: amount must be > 0: %w", domain.ErrValidation)
	}
	r := &domain.SpendRecord{
		ID:          uuid.New(),
		PolicyID:    policyID,
		Amount:      amount,
		Currency:    currency,
		USDValue:    usdValue,
		ExecutionID: executionID,
		Timestamp:   at,
	}
	if err := l.repo.Append(ctx, r); err != nil {
		return nil, fmt.Errorf("ledger.Record: %w", err)
	}
	return r, nil
}

// SumInWindow totals the policy's records with start <= timestamp < end,
// converted into currency. A zero start means no lower bound.
func (l *Ledger) SumInWindow(ctx context.Context, policyID uuid.UUID, currency domain.Currency, start, end time.Time) (decimal.Decimal, error) {
	records, err := l.repo.ListByPolicy(ctx, policyID, start, end)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.SumInWindow: %w", err)
	}
	total := decimal.Zero
	for _, r := range records {
		v, err := l.fx.Convert(r.Amount, r.Currency, currency)
		if err != nil {
			return decimal.Zero, fmt.Errorf("ledger.SumInWindow: %w", err)
		}
		total = total.Add(v)
	}
	return total, nil
}

// History returns the records the evaluator needs for window ending at now.
// The upper bound is inclusive of now.
func (l *Ledger) History(ctx context.Context, policyID uuid.UUID, window domain.SpendWindow, now time.Time) ([]*domain.SpendRecord, error) {
	records, err := l.repo.ListByPolicy(ctx, policyID, window.Start(now), now.Add(time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("ledger.History: %w", err)
	}
	return records, nil
}

// Usage describes a policy's consumption of its spend limit.
type Usage struct {
	Spent     decimal.Decimal    `json:"spent"`
	Max       decimal.Decimal    `json:"max"`
	Remaining decimal.Decimal    `json:"remaining"`
	Currency  domain.Currency    `json:"currency"`
	Window    domain.SpendWindow `json:"window"`
	From      *time.Time         `json:"from,omitempty"`
	To        time.Time          `json:"to"`
}

// Usage reports how much of p's limit is consumed at now. p must carry a
// spend limit.
func (l *Ledger) Usage(ctx context.Context, p *domain.Policy, now time.Time) (*Usage, error) {
	if p.Spend == nil {
		return nil, fmt.Errorf("ledger.Usage: policy %s has no spend limit: %w", p.ID, domain.ErrValidation)
	}
	start := p.Spend.Window.Start(now)
	spent, err := l.SumInWindow(ctx, p.ID, p.Spend.Currency, start, now.Add(time.Nanosecond))
	if err != nil {
		return nil, err
	}
	u := &Usage{
		Spent:     spent,
		Max:       p.Spend.Max,
		Remaining: decimal.Max(p.Spend.Max.Sub(spent), decimal.Zero),
		Currency:  p.Spend.Currency,
		Window:    p.Spend.Window,
		To:        now,
	}
	if !start.IsZero() {
		u.From = &start
	}
	return u, nil
}
