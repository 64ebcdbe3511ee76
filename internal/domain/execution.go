package domain

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ActionType string

const (
	ActionSwap     ActionType = "swap"
	ActionTransfer ActionType = "transfer"
	ActionApprove  ActionType = "approve"
	ActionStake    ActionType = "stake"
	ActionUnstake  ActionType = "unstake"
	ActionVote     ActionType = "vote"
	ActionCustom   ActionType = "custom"
)

// Capability returns the agent capability an action of this type requires.
func (a ActionType) Capability() (CapabilityType, bool) {
	switch a {
	case ActionSwap, ActionApprove:
		return CapabilityTrade, true
	case ActionTransfer:
		return CapabilityTransfer, true
	case ActionStake, ActionUnstake:
		return CapabilityStake, true
	case ActionVote:
		return CapabilityGovernance, true
	case ActionCustom:
		return CapabilityCustom, true
	default:
		return "", false
	}
}

type ExecutionResult string

const (
	ResultSuccess  ExecutionResult = "success"
	ResultDenied   ExecutionResult = "denied"
	ResultPending  ExecutionResult = "pending"
	ResultFailed   ExecutionResult = "failed"
	ResultReplayed ExecutionResult = "replayed"
)

// Observations are the caller-supplied snapshots conditions are checked
// against. The engine never fetches them itself.
type Observations struct {
	Oracles     map[string]decimal.Decimal `json:"oracles,omitempty"`
	BlockNumber *uint64                    `json:"blockNumber,omitempty"`
	Balance     *decimal.Decimal           `json:"balance,omitempty"`
}

// ProposedAction is what an agent asks to do.
type ProposedAction struct {
	Target       string          `json:"target"`
	Selector     string          `json:"selector"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     Currency        `json:"currency"`
	Observations Observations    `json:"observations"`
}

func (a *ProposedAction) Validate() error {
	verr := &ValidationError{}
	if !ValidAddress(a.Target) {
		verr.Add("action.target", "invalid address %q", a.Target)
	}
	if strings.TrimSpace(a.Selector) == "" {
		verr.Add("action.selector", "is required")
	}
	if a.Amount.IsNegative() {
		verr.Add("action.amount", "must be >= 0")
	}
	if a.Currency == "" {
		verr.Add("action.currency", "is required")
	} else if !a.Currency.Valid() {
		verr.Add("action.currency", "unknown currency %q", a.Currency)
	}
	if a.Observations.Balance != nil && a.Observations.Balance.IsNegative() {
		verr.Add("action.observations.balance", "must be >= 0")
	}
	return verr.Err()
}

// PolicyEvaluation is the per-check breakdown of a decision. A nil field was
// not evaluated because an earlier check failed.
type PolicyEvaluation struct {
	SpendCheck     *bool `json:"spendCheck,omitempty"`
	ContractCheck  *bool `json:"contractCheck,omitempty"`
	ConditionCheck *bool `json:"conditionCheck,omitempty"`
	TimeCheck      *bool `json:"timeCheck,omitempty"`
}

// ExecutionLog is the immutable audit record of one evaluated action.
type ExecutionLog struct {
	ID               uuid.UUID         `json:"id"`
	AgentID          uuid.UUID         `json:"agentId"`
	PolicyID         uuid.UUID         `json:"policyId"`
	KeyID            uuid.UUID         `json:"keyId"`
	PolicyVersion    int               `json:"policyVersion"`
	ActionType       ActionType        `json:"actionType"`
	Action           ProposedAction    `json:"action"`
	InputCID         string            `json:"inputCID"`
	OutputCID        string            `json:"outputCID,omitempty"`
	PolicyCID        string            `json:"policyCID"`
	LogCID           string            `json:"logCID"`
	Signature        string            `json:"signature,omitempty"`
	Result           ExecutionResult   `json:"result"`
	DenialReason     string            `json:"denialReason,omitempty"`
	TxHash           string            `json:"txHash,omitempty"`
	GasUsed          string            `json:"gasUsed,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	DurationMS       int64             `json:"duration"`
	Inputs           map[string]any    `json:"inputs"`
	Outputs          map[string]any    `json:"outputs,omitempty"`
	PolicyEvaluation *PolicyEvaluation `json:"policyEvaluation,omitempty"`
	ReplayOf         *uuid.UUID        `json:"replayOf,omitempty"`
}

// Clone returns a deep copy. Stored logs must not share maps or pointers
// with callers.
func (l *ExecutionLog) Clone() *ExecutionLog {
	c := *l
	c.Action.Observations = l.Action.Observations.clone()
	c.Inputs = cloneMap(l.Inputs)
	c.Outputs = cloneMap(l.Outputs)
	if l.PolicyEvaluation != nil {
		c.PolicyEvaluation = l.PolicyEvaluation.clone()
	}
	if l.ReplayOf != nil {
		id := *l.ReplayOf
		c.ReplayOf = &id
	}
	return &c
}

func (o Observations) clone() Observations {
	c := o
	if o.Oracles != nil {
		c.Oracles = maps.Clone(o.Oracles)
	}
	if o.BlockNumber != nil {
		n := *o.BlockNumber
		c.BlockNumber = &n
	}
	if o.Balance != nil {
		b := *o.Balance
		c.Balance = &b
	}
	return c
}

func (e *PolicyEvaluation) clone() *PolicyEvaluation {
	return &PolicyEvaluation{
		SpendCheck:     cloneBool(e.SpendCheck),
		ContractCheck:  cloneBool(e.ContractCheck),
		ConditionCheck: cloneBool(e.ConditionCheck),
		TimeCheck:      cloneBool(e.TimeCheck),
	}
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the containers JSON decoding produces; other values are
// treated as immutable.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

type ExecutionFilter struct {
	AgentID    *uuid.UUID
	PolicyID   *uuid.UUID
	Result     ExecutionResult
	ActionType ActionType
	Since      *time.Time
	// Search matches case-insensitively against inputCID, logCID and txHash.
	Search string
	Limit  int
	Offset int
}

// Match reports whether l passes the filter. Limit and Offset are ignored.
func (f ExecutionFilter) Match(l *ExecutionLog) bool {
	if f.AgentID != nil && l.AgentID != *f.AgentID {
		return false
	}
	if f.PolicyID != nil && l.PolicyID != *f.PolicyID {
		return false
	}
	if f.Result != "" && l.Result != f.Result {
		return false
	}
	if f.ActionType != "" && l.ActionType != f.ActionType {
		return false
	}
	if f.Since != nil && l.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(l.InputCID), q) &&
			!strings.Contains(strings.ToLower(l.LogCID), q) &&
			!strings.Contains(strings.ToLower(l.TxHash), q) {
			return false
		}
	}
	return true
}

// Page applies Offset and Limit to an already filtered and ordered slice.
func (f ExecutionFilter) Page(logs []*ExecutionLog) []*ExecutionLog {
	if f.Offset >= len(logs) {
		return []*ExecutionLog{}
	}
	logs = logs[max(f.Offset, 0):]
	if f.Limit > 0 && f.Limit < len(logs) {
		logs = logs[:f.Limit]
	}
	return logs
}

// ExecutionRepository is append-only: there is no update or delete.
type ExecutionRepository interface {
	Append(ctx context.Context, l *ExecutionLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*ExecutionLog, error)
	// List returns matching logs newest first.
	List(ctx context.Context, f ExecutionFilter) ([]*ExecutionLog, error)
}
