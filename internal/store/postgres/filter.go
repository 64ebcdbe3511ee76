package postgres

import (
	"strconv"
	"strings"

	"github.com/gosuda/tether/internal/domain"
)

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []any
}

// add appends cond after replacing every "?" with the next placeholder.
func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

//nolint:gochecknoglobals // immutable replacer
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// contains builds an ILIKE pattern matching s anywhere.
func contains(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func keyWhere(f domain.KeyFilter) *where {
	w := &where{}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.Type != "" {
		w.add("type = ?", string(f.Type))
	}
	if f.PolicyID != nil {
		w.add("policy_id = ?", *f.PolicyID)
	}
	if f.Search != "" {
		w.add("(fingerprint ILIKE ? OR address ILIKE ?)", contains(f.Search))
	}
	return w
}

func agentWhere(f domain.AgentFilter) *where {
	w := &where{}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.PolicyID != nil {
		w.add("policy_id = ?", *f.PolicyID)
	}
	if f.Search != "" {
		w.add("(name ILIKE ? OR description ILIKE ?)", contains(f.Search))
	}
	return w
}

func executionWhere(f domain.ExecutionFilter) *where {
	w := &where{}
	if f.AgentID != nil {
		w.add("agent_id = ?", *f.AgentID)
	}
	if f.PolicyID != nil {
		w.add("policy_id = ?", *f.PolicyID)
	}
	if f.Result != "" {
		w.add("result = ?", string(f.Result))
	}
	if f.ActionType != "" {
		w.add("action_type = ?", string(f.ActionType))
	}
	if f.Since != nil {
		w.add("ts >= ?", *f.Since)
	}
	if f.Search != "" {
		w.add("(input_cid ILIKE ? OR log_cid ILIKE ? OR tx_hash ILIKE ?)", contains(f.Search))
	}
	return w
}

// page renders LIMIT and OFFSET for f. A zero limit means no limit.
func page(w *where, f domain.ExecutionFilter) string {
	var b strings.Builder
	if f.Limit > 0 {
		w.args = append(w.args, f.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(w.args)))
	}
	if f.Offset > 0 {
		w.args = append(w.args, f.Offset)
		b.WriteString(" OFFSET $" + strconv.Itoa(len(w.args)))
	}
	return b.String()
}
