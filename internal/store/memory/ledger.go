package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gosuda/tether/internal/domain"
)

type SpendRepo struct {
	t *tx
}

func (r *SpendRepo) Append(_ context.Context, rec *domain.SpendRecord) error {
	return r.t.write(func() error {
		s := r.t.s
		n := len(s.spend)
		c := *rec
		s.spend = append(s.spend, &c)
		r.t.onRollback(func() { s.spend = s.spend[:n] })
		return nil
	})
}

func inRange(ts, from, to time.Time) bool {
	return (from.IsZero() || !ts.Before(from)) && ts.Before(to)
}

func (r *SpendRepo) ListByPolicy(_ context.Context, policyID uuid.UUID, from, to time.Time) ([]*domain.SpendRecord, error) {
	out := []*domain.SpendRecord{}
	r.t.read(func() {
		for _, rec := range r.t.s.spend {
			if rec.PolicyID == policyID && inRange(rec.Timestamp, from, to) {
				c := *rec
				out = append(out, &c)
			}
		}
	})
	slices.SortStableFunc(out, func(a, b *domain.SpendRecord) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}

func (r *SpendRepo) SumUSD(_ context.Context, from, to time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	r.t.read(func() {
		for _, rec := range r.t.s.spend {
			if inRange(rec.Timestamp, from, to) {
				total = total.Add(rec.USDValue)
			}
		}
	})
	return total, nil
}

type ExecutionRepo struct {
	t *tx
}

func (r *ExecutionRepo) Append(_ context.Context, l *domain.ExecutionLog) error {
	return r.t.write(func() error {
		s := r.t.s
		if _, ok := s.execByID[l.ID]; ok {
			return fmt.Errorf("executionRepo.Append: %w", domain.ErrConflict)
		}
		c := l.Clone()
		n := len(s.executions)
		s.executions = append(s.executions, c)
		s.execByID[l.ID] = c
		r.t.onRollback(func() {
			s.executions = s.executions[:n]
			delete(s.execByID, l.ID)
		})
		return nil
	})
}

func (r *ExecutionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.ExecutionLog, error) {
	var out *domain.ExecutionLog
	r.t.read(func() {
		if l, ok := r.t.s.execByID[id]; ok {
			out = l.Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("executionRepo.GetByID: %w", domain.ErrExecutionNotFound)
	}
	return out, nil
}

func (r *ExecutionRepo) List(_ context.Context, f domain.ExecutionFilter) ([]*domain.ExecutionLog, error) {
	out := []*domain.ExecutionLog{}
	r.t.read(func() {
		logs := r.t.s.executions
		for i := len(logs) - 1; i >= 0; i-- {
			if f.Match(logs[i]) {
				out = append(out, logs[i].Clone())
			}
		}
	})
	slices.SortStableFunc(out, func(a, b *domain.ExecutionLog) int { return b.Timestamp.Compare(a.Timestamp) })
	return f.Page(out), nil
}
