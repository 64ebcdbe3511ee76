package policy_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/fx"
	"github.com/gosuda/tether/internal/policy"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // fixed clock

func newEvaluator(t *testing.T) *policy.Evaluator {
	t.Helper()
	rates := fx.DefaultRates()
	rates[domain.CurrencyETH] = decimal.NewFromInt(2000)
	table, err := fx.NewTable(rates)
	require.NoError(t, err)
	return policy.NewEvaluator(table)
}

func usd(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func spend(policyID uuid.UUID, amount int64, cur domain.Currency, at time.Time) *domain.SpendRecord {
	return &domain.SpendRecord{
		ID:        uuid.New(),
		PolicyID:  policyID,
		Amount:    decimal.NewFromInt(amount),
		Currency:  cur,
		Timestamp: at,
	}
}

func scenarioPolicy() *domain.Policy {
	return &domain.Policy{
		ID:      uuid.New(),
		Name:    "scenario",
		Version: 1,
		Spend:   &domain.SpendLimit{Max: usd(500), Currency: domain.CurrencyUSD, Window: domain.Window24h},
		Contracts: []domain.ContractAllowlistEntry{
			{Address: "0xCAFE", Functions: []string{"swap"}},
		},
		Status: domain.PolicyStatusActive,
	}
}

func swap(amount int64) domain.ProposedAction {
	return domain.ProposedAction{Target: "0xCAFE", Selector: "swap", Amount: usd(amount), Currency: domain.CurrencyUSD}
}

func TestEvaluate_ScenarioSuccess(t *testing.T) {
	t.Parallel()

	d := newEvaluator(t).Evaluate(scenarioPolicy(), swap(100), nil, now)

	require.True(t, d.Permitted())
	assert.Empty(t, d.Reason)
	require.NotNil(t, d.Checks.SpendCheck)
	require.NotNil(t, d.Checks.ContractCheck)
	assert.True(t, *d.Checks.SpendCheck)
	assert.True(t, *d.Checks.ContractCheck)
	assert.True(t, *d.Checks.ConditionCheck)
	assert.True(t, *d.Checks.TimeCheck)
}

func TestEvaluate_ScenarioSpendExceeded(t *testing.T) {
	t.Parallel()

	p := scenarioPolicy()
	history := []*domain.SpendRecord{spend(p.ID, 450, domain.CurrencyUSD, now.Add(-time.Hour))}

	d := newEvaluator(t).Evaluate(p, swap(100), history, now)

	assert.Equal(t, domain.ResultDenied, d.Result)
	assert.Equal(t, policy.ReasonSpend, d.Reason)
	assert.Equal(t, policy.CauseSpend, d.Cause)
	assert.False(t, *d.Checks.SpendCheck)
	assert.True(t, *d.Checks.ContractCheck)
	assert.Nil(t, d.Checks.ConditionCheck, "conditions are not evaluated after a spend denial")
}

func TestEvaluate_ScenarioExpired(t *testing.T) {
	t.Parallel()

	p := scenarioPolicy()
	yesterday := now.Add(-24 * time.Hour)
	p.ExpiresAt = &yesterday
	p.RevokeOn = []domain.RevocationTrigger{domain.TriggerExpiry}

	d := newEvaluator(t).Evaluate(p, swap(1), nil, now)

	assert.Equal(t, domain.ResultDenied, d.Result)
	assert.Equal(t, policy.ReasonExpired, d.Reason)
	assert.Equal(t, policy.CauseExpiry, d.Cause)
	assert.False(t, *d.Checks.TimeCheck)
	assert.Nil(t, d.Checks.ContractCheck)
	assert.Nil(t, d.Checks.SpendCheck)
}

func TestEvaluate_ExpiryBoundaryIsInclusive(t *testing.T) {
	t.Parallel()

	p := scenarioPolicy()
	at := now
	p.ExpiresAt = &at

	d := newEvaluator(t).Evaluate(p, swap(1), nil, now)
	assert.Equal(t, policy.CauseExpiry, d.Cause)

	d = newEvaluator(t).Evaluate(p, swap(1), nil, now.Add(-time.Nanosecond))
	assert.True(t, d.Permitted())
}

func TestEvaluate_ScenarioOracleCondition(t *testing.T) {
	t.Parallel()

	p := &domain.Policy{
		ID:      uuid.New(),
		Version: 1,
		Conditions: []domain.PolicyCondition{
			{Type: domain.ConditionOracle, Oracle: "ETH/USD", Operator: domain.OpLT, Value: "4000"},
		},
		Status: domain.PolicyStatusActive,
	}
	action := swap(0)
	action.Observations.Oracles = map[string]decimal.Decimal{"ETH/USD": usd(4200)}

	d := newEvaluator(t).Evaluate(p, action, nil, now)

	assert.Equal(t, domain.ResultDenied, d.Result)
	assert.Equal(t, "condition 0 (oracle) not satisfied", d.Reason)
	assert.False(t, *d.Checks.ConditionCheck)

	action.Observations.Oracles["ETH/USD"] = usd(3900)
	d = newEvaluator(t).Evaluate(p, action, nil, now)
	assert.True(t, d.Permitted())
}

func TestEvaluate_Contracts(t *testing.T) {
	t.Parallel()

	allow := []domain.ContractAllowlistEntry{
		{Address: "0xCAFE", Functions: []string{"swap"}},
		{Address: "0xBEEF", Functions: []string{"supply", "withdraw"}},
	}

	tests := []struct {
		name     string
		target   string
		selector string
		want     bool
	}{
		{"listed", "0xCAFE", "swap", true},
		{"case-insensitive address", "0xcafe", "swap", true},
		{"second entry", "0xbeef", "withdraw", true},
		{"function of other entry", "0xCAFE", "supply", false},
		{"unlisted contract", "0xDEAD", "swap", false},
		{"unlisted function", "0xBEEF", "borrow", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := &domain.Policy{Contracts: allow, Status: domain.PolicyStatusActive}
			action := domain.ProposedAction{Target: tt.target, Selector: tt.selector, Currency: domain.CurrencyUSD}

			d := newEvaluator(t).Evaluate(p, action, nil, now)
			assert.Equal(t, tt.want, d.Permitted())
			if !tt.want {
				assert.Equal(t, policy.ReasonContract, d.Reason)
				assert.Equal(t, policy.CauseContract, d.Cause)
			}
		})
	}
}

func TestEvaluate_SpendWindow(t *testing.T) {
	t.Parallel()

	p := scenarioPolicy()
	history := []*domain.SpendRecord{
		spend(p.ID, 300, domain.CurrencyUSD, now.Add(-25*time.Hour)), // outside 24h
		spend(p.ID, 200, domain.CurrencyUSD, now.Add(-24*time.Hour)), // on the lower edge
		spend(p.ID, 100, domain.CurrencyUSD, now.Add(-time.Minute)),
		spend(p.ID, 900, domain.CurrencyUSD, now.Add(time.Minute)), // future, ignored
	}

	tests := []struct {
		name   string
		amount int64
		want   bool
	}{
		{"fits exactly", 200, true},
		{"one over", 201, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := newEvaluator(t).Evaluate(p, swap(tt.amount), history, now)
			assert.Equal(t, tt.want, d.Permitted())
			assert.True(t, usd(300).Equal(d.Spent), "spent %s", d.Spent)
		})
	}
}

func TestEvaluate_LifetimeWindowHasNoLowerBound(t *testing.T) {
	t.Parallel()

	p := scenarioPolicy()
	p.Spend.Window = domain.WindowLifetime
	history := []*domain.SpendRecord{spend(p.ID, 450, domain.CurrencyUSD, now.Add(-365*24*time.Hour))}

	d := newEvaluator(t).Evaluate(p, swap(51), history, now)
	assert.Equal(t, policy.CauseSpend, d.Cause)
}

func TestEvaluate_SpendConvertsCurrencies(t *testing.T) {
	t.Parallel()

	p := scenarioPolicy()
	history := []*domain.SpendRecord{spend(p.ID, 0, domain.CurrencyETH, now.Add(-time.Hour))}
	history[0].Amount = decimal.RequireFromString("0.2") // 400 USD

	action := swap(0)
	action.Amount = decimal.RequireFromString("0.05") // 100 USD
	action.Currency = domain.CurrencyETH

	d := newEvaluator(t).Evaluate(p, action, history, now)
	assert.True(t, d.Permitted())

	action.Amount = decimal.RequireFromString("0.0501")
	d = newEvaluator(t).Evaluate(p, action, history, now)
	assert.Equal(t, policy.CauseSpend, d.Cause)
}

func TestEvaluate_ConversionUnavailable(t *testing.T) {
	t.Parallel()

	table, err := fx.NewTable(fx.DefaultRates())
	require.NoError(t, err)
	ev := policy.NewEvaluator(table)

	action := swap(0)
	action.Amount = usd(1)
	action.Currency = domain.CurrencyETH

	d := ev.Evaluate(scenarioPolicy(), action, nil, now)
	assert.Equal(t, domain.ResultDenied, d.Result)
	assert.Equal(t, policy.ReasonConversion, d.Reason)
	assert.Equal(t, policy.CauseConversion, d.Cause)
	assert.False(t, d.Cause.Violation())
}

func TestEvaluate_ZeroAmountSkipsSpend(t *testing.T) {
	t.Parallel()

	p := scenarioPolicy()
	history := []*domain.SpendRecord{spend(p.ID, 10_000, domain.CurrencyUSD, now.Add(-time.Minute))}

	d := newEvaluator(t).Evaluate(p, swap(0), history, now)
	assert.True(t, d.Permitted())
}

func TestEvaluate_Conditions(t *testing.T) {
	t.Parallel()

	block := uint64(100)
	balance := usd(50)
	obs := domain.Observations{
		Oracles:     map[string]decimal.Decimal{"ETH/USD": usd(3000)},
		BlockNumber: &block,
		Balance:     &balance,
	}

	tests := []struct {
		name   string
		cond   domain.PolicyCondition
		obs    domain.Observations
		want   bool
		reason string
	}{
		{"block between", domain.PolicyCondition{Type: domain.ConditionBlock, Operator: domain.OpBetween, Value: "100", SecondValue: "200"}, obs, true, ""},
		{"block too low", domain.PolicyCondition{Type: domain.ConditionBlock, Operator: domain.OpGT, Value: "100"}, obs, false, "condition 0 (block) not satisfied"},
		{"balance gte", domain.PolicyCondition{Type: domain.ConditionBalance, Operator: domain.OpGTE, Value: "50"}, obs, true, ""},
		{"time before deadline", domain.PolicyCondition{Type: domain.ConditionTime, Operator: domain.OpLT, Value: "2026-03-02T00:00:00Z"}, obs, true, ""},
		{"time after deadline", domain.PolicyCondition{Type: domain.ConditionTime, Operator: domain.OpLT, Value: "2026-03-01T00:00:00Z"}, obs, false, "condition 0 (time) not satisfied"},
		{"missing block", domain.PolicyCondition{Type: domain.ConditionBlock, Operator: domain.OpGT, Value: "1"}, domain.Observations{}, false, "condition 0 (block) not satisfied: no observation"},
		{"missing oracle", domain.PolicyCondition{Type: domain.ConditionOracle, Oracle: "BTC/USD", Operator: domain.OpGT, Value: "1"}, obs, false, "condition 0 (oracle) not satisfied: no observation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := &domain.Policy{Conditions: []domain.PolicyCondition{tt.cond}, Status: domain.PolicyStatusActive}
			action := swap(0)
			action.Observations = tt.obs

			d := newEvaluator(t).Evaluate(p, action, nil, now)
			assert.Equal(t, tt.want, d.Permitted())
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestEvaluate_ConditionReasonNamesIndex(t *testing.T) {
	t.Parallel()

	balance := usd(10)
	p := &domain.Policy{
		Conditions: []domain.PolicyCondition{
			{Type: domain.ConditionBalance, Operator: domain.OpGT, Value: "1"},
			{Type: domain.ConditionBalance, Operator: domain.OpGT, Value: "100"},
		},
		Status: domain.PolicyStatusActive,
	}
	action := swap(0)
	action.Observations.Balance = &balance

	d := newEvaluator(t).Evaluate(p, action, nil, now)
	assert.Equal(t, "condition 1 (balance) not satisfied", d.Reason)
}

func TestEvaluate_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	p := scenarioPolicy()
	before := p.Clone()
	history := []*domain.SpendRecord{spend(p.ID, 100, domain.CurrencyUSD, now.Add(-time.Hour))}

	newEvaluator(t).Evaluate(p, swap(1000), history, now)

	assert.Equal(t, before, p)
	assert.Len(t, history, 1)
}

func TestDenied(t *testing.T) {
	t.Parallel()

	d := policy.Denied("agent is paused")
	assert.Equal(t, domain.ResultDenied, d.Result)
	assert.Equal(t, policy.CausePrecondition, d.Cause)
	assert.False(t, d.Cause.Violation())
	assert.Nil(t, d.Checks.TimeCheck)
}
