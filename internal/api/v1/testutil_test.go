package v1_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/tether/internal/api/v1"
	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/engine"
	"github.com/gosuda/tether/internal/fx"
	"github.com/gosuda/tether/internal/keys"
	"github.com/gosuda/tether/internal/store/memory"
)

// ---------------------------------------------------------------------------
// Fixture: every route served by a real engine over the memory store
// ---------------------------------------------------------------------------

type fixture struct {
	api    humatest.TestAPI
	engine *engine.Engine
	store  *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	rates := fx.DefaultRates()
	rates[domain.CurrencyETH] = decimal.NewFromInt(2000)
	table, err := fx.NewTable(rates)
	require.NoError(t, err)

	store := memory.New()
	eng, err := engine.New(store, table)
	require.NoError(t, err)

	_, api := humatest.New(t)
	register(api, store, eng)
	return &fixture{api: api, engine: eng, store: store}
}

func register(api humatest.TestAPI, store v1.DataStore, svc v1.Service) {
	v1.RegisterPolicyRoutes(api, store, svc)
	v1.RegisterKeyRoutes(api, store, svc)
	v1.RegisterAgentRoutes(api, store, svc)
	v1.RegisterExecutionRoutes(api, store, svc)
	v1.RegisterStatsRoutes(api, svc)
}

// bind creates a policy allowing swaps on 0xCAFE up to 500 USD per day, a key
// bound to it and an agent able to trade.
func (f *fixture) bind(t *testing.T) (*domain.Policy, *domain.PolicyBoundKey, *domain.Agent) {
	t.Helper()
	ctx := context.Background()

	p, err := f.engine.CreatePolicy(ctx, &domain.Policy{
		Name: "swap budget",
		Spend: &domain.SpendLimit{
			Max: decimal.NewFromInt(500), Currency: domain.CurrencyUSD, Window: domain.Window24h,
		},
		Contracts: []domain.ContractAllowlistEntry{{Address: "0xCAFE", Functions: []string{"swap"}}},
		RevokeOn:  []domain.RevocationTrigger{domain.TriggerManual},
	})
	require.NoError(t, err)

	k, err := f.engine.GenerateKey(ctx, keys.GenerateRequest{Type: domain.KeyTypeAgent, PolicyID: &p.ID})
	require.NoError(t, err)

	a, err := f.engine.CreateAgent(ctx, &domain.Agent{
		Name:         "trader",
		PolicyID:     p.ID,
		KeyID:        k.ID,
		Capabilities: []domain.AgentCapability{{Type: domain.CapabilityTrade, Description: "swaps", Enabled: true}},
	})
	require.NoError(t, err)
	return p, k, a
}

func swapBody(agentID uuid.UUID, amount string) map[string]any {
	return map[string]any{
		"agentId":    agentID,
		"actionType": "swap",
		"action": map[string]any{
			"target":   "0xcafe",
			"selector": "swap",
			"amount":   amount,
			"currency": "USD",
		},
	}
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return out
}

// ---------------------------------------------------------------------------
// Stub Service for failure paths; unimplemented methods panic if reached
// ---------------------------------------------------------------------------

type stubService struct {
	v1.Service
	err error
}

func (s stubService) Propose(context.Context, engine.ProposeRequest) (*domain.ExecutionLog, error) {
	return nil, s.err
}

func (s stubService) UpdatePolicy(context.Context, uuid.UUID, engine.PolicyPatch) (*domain.Policy, error) {
	return nil, s.err
}

func (s stubService) Stats(context.Context) (*domain.DashboardStats, error) {
	return nil, s.err
}

func newStubAPI(t *testing.T, err error) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	register(api, memory.New(), stubService{err: err})
	return api
}
