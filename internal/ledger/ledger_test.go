package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/fx"
	"github.com/gosuda/tether/internal/ledger"
	"github.com/gosuda/tether/internal/store/memory"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // fixed clock

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	rates := fx.DefaultRates()
	rates[domain.CurrencyETH] = decimal.NewFromInt(2000)
	table, err := fx.NewTable(rates)
	require.NoError(t, err)
	return ledger.New(memory.New().Repos().Spend, table)
}

func TestRecord_RejectsNonPositive(t *testing.T) {
	t.Parallel()

	_, err := newLedger(t).Record(context.Background(), uuid.New(), decimal.Zero, domain.CurrencyUSD, decimal.Zero, uuid.New(), now)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSumInWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newLedger(t)
	policyID := uuid.New()

	entries := []struct {
		amount   string
		currency domain.Currency
		at       time.Time
	}{
		{"100", domain.CurrencyUSD, now.Add(-2 * time.Hour)},
		{"0.1", domain.CurrencyETH, now.Add(-30 * time.Minute)}, // 200 USD
		{"50", domain.CurrencyUSDC, now},
	}
	for _, e := range entries {
		_, err := l.Record(ctx, policyID, decimal.RequireFromString(e.amount), e.currency, decimal.Zero, uuid.New(), e.at)
		require.NoError(t, err)
	}

	tests := []struct {
		name       string
		currency   domain.Currency
		start, end time.Time
		want       string
	}{
		{"last hour excludes end", domain.CurrencyUSD, now.Add(-time.Hour), now, "200"},
		{"last hour including now", domain.CurrencyUSD, now.Add(-time.Hour), now.Add(time.Nanosecond), "250"},
		{"no lower bound", domain.CurrencyUSD, time.Time{}, now.Add(time.Second), "350"},
		{"in eth", domain.CurrencyETH, time.Time{}, now.Add(time.Second), "0.175"},
		{"empty window", domain.CurrencyUSD, now.Add(time.Hour), now.Add(2 * time.Hour), "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := l.SumInWindow(ctx, policyID, tt.currency, tt.start, tt.end)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestUsage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newLedger(t)
	p := &domain.Policy{
		ID:    uuid.New(),
		Spend: &domain.SpendLimit{Max: decimal.NewFromInt(500), Currency: domain.CurrencyUSD, Window: domain.Window24h},
	}

	_, err := l.Record(ctx, p.ID, decimal.NewFromInt(450), domain.CurrencyUSD, decimal.NewFromInt(450), uuid.New(), now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = l.Record(ctx, p.ID, decimal.NewFromInt(300), domain.CurrencyUSD, decimal.NewFromInt(300), uuid.New(), now.Add(-48*time.Hour))
	require.NoError(t, err)

	u, err := l.Usage(ctx, p, now)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(450).Equal(u.Spent))
	assert.True(t, decimal.NewFromInt(50).Equal(u.Remaining))
	require.NotNil(t, u.From)
	assert.Equal(t, now.Add(-24*time.Hour), *u.From)

	_, err = l.Usage(ctx, &domain.Policy{ID: uuid.New()}, now)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestHistory_ReturnsWindowRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newLedger(t)
	policyID := uuid.New()

	for _, at := range []time.Time{now.Add(-2 * time.Hour), now.Add(-10 * time.Minute), now} {
		_, err := l.Record(ctx, policyID, decimal.NewFromInt(1), domain.CurrencyUSD, decimal.NewFromInt(1), uuid.New(), at)
		require.NoError(t, err)
	}

	got, err := l.History(ctx, policyID, domain.Window1h, now)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = l.History(ctx, policyID, domain.WindowLifetime, now)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
