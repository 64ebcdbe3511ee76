package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/gosuda/tether/internal/domain"
)

func TestWhere_NumbersPlaceholders(t *testing.T) {
	t.Parallel()

	w := &where{}
	assert.Empty(t, w.String())

	w.add("a = ?", 1)
	w.add("(b ILIKE ? OR c ILIKE ?)", "%x%")
	assert.Equal(t, " WHERE a = $1 AND (b ILIKE $2 OR c ILIKE $2)", w.String())
	assert.Equal(t, []any{1, "%x%"}, w.args)
}

func TestContains_EscapesWildcards(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `%0xab%`, contains("0xab"))
	assert.Equal(t, `%50\%\_off\\%`, contains(`50%_off\`))
}

func TestKeyWhere(t *testing.T) {
	t.Parallel()

	policyID := uuid.New()
	w := keyWhere(domain.KeyFilter{Status: domain.KeyStatusActive, PolicyID: &policyID, Search: "cafe"})
	assert.Equal(t, " WHERE status = $1 AND policy_id = $2 AND (fingerprint ILIKE $3 OR address ILIKE $3)", w.String())
	assert.Equal(t, []any{"active", policyID, "%cafe%"}, w.args)
}

func TestAgentWhere(t *testing.T) {
	t.Parallel()

	assert.Empty(t, agentWhere(domain.AgentFilter{}).String())

	w := agentWhere(domain.AgentFilter{Status: domain.AgentStatusPaused, Search: "bot"})
	assert.Equal(t, " WHERE status = $1 AND (name ILIKE $2 OR description ILIKE $2)", w.String())
}

func TestExecutionWhereAndPage(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	agentID := uuid.New()
	f := domain.ExecutionFilter{
		AgentID:    &agentID,
		Result:     domain.ResultDenied,
		ActionType: domain.ActionSwap,
		Since:      &since,
		Search:     "baf",
		Limit:      50,
		Offset:     10,
	}

	w := executionWhere(f)
	assert.Equal(t,
		" WHERE agent_id = $1 AND result = $2 AND action_type = $3 AND ts >= $4"+
			" AND (input_cid ILIKE $5 OR log_cid ILIKE $5 OR tx_hash ILIKE $5)",
		w.String())
	assert.Equal(t, " LIMIT $6 OFFSET $7", page(w, f))
	assert.Len(t, w.args, 7)

	bare := &where{}
	assert.Empty(t, page(bare, domain.ExecutionFilter{}))
	assert.Empty(t, bare.args)
}
