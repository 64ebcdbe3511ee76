package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SpendRecord is one ledger debit. Records are never deleted; window
// aggregation filters by timestamp at query time.
type SpendRecord struct {
	ID          uuid.UUID       `json:"id"`
	PolicyID    uuid.UUID       `json:"policyId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    Currency        `json:"currency"`
	USDValue    decimal.Decimal `json:"usdValue"`
	ExecutionID uuid.UUID       `json:"executionId"`
	Timestamp   time.Time       `json:"timestamp"`
}

type SpendRepository interface {
	Append(ctx context.Context, r *SpendRecord) error
	// ListByPolicy returns the records of policyID with from <= timestamp < to,
	// oldest first. A zero from means no lower bound.
	ListByPolicy(ctx context.Context, policyID uuid.UUID, from, to time.Time) ([]*SpendRecord, error)
	// SumUSD totals usdValue across all policies for records with
	// from <= timestamp < to.
	SumUSD(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}
