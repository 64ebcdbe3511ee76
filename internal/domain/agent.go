package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AgentStatus string

const (
	AgentStatusActive  AgentStatus = "active"
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusPaused  AgentStatus = "paused"
	AgentStatusRevoked AgentStatus = "revoked"
)

// ValidTransition checks if an agent status transition is allowed.
// active, idle and paused move freely between each other; revoked is terminal.
func (s AgentStatus) ValidTransition(to AgentStatus) bool {
	switch s {
	case AgentStatusActive, AgentStatusIdle, AgentStatusPaused:
		switch to {
		case AgentStatusActive, AgentStatusIdle, AgentStatusPaused, AgentStatusRevoked:
			return s != to
		}
		return false
	default:
		return false
	}
}

// CanAct reports whether an agent in this status may propose actions.
func (s AgentStatus) CanAct() bool {
	return s == AgentStatusActive || s == AgentStatusIdle
}

type CapabilityType string

const (
	CapabilityTrade      CapabilityType = "trade"
	CapabilityTransfer   CapabilityType = "transfer"
	CapabilityStake      CapabilityType = "stake"
	CapabilityGovernance CapabilityType = "governance"
	CapabilityCustom     CapabilityType = "custom"
)

type AgentCapability struct {
	Type        CapabilityType `json:"type"`
	Description string         `json:"description"`
	Enabled     bool           `json:"enabled"`
}

type Agent struct {
	ID           uuid.UUID         `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	PolicyID     uuid.UUID         `json:"policyId"`
	KeyID        uuid.UUID         `json:"keyId"`
	Status       AgentStatus       `json:"status"`
	Capabilities []AgentCapability `json:"capabilities"`
	TaskScope    string            `json:"taskScope"`
	SuccessRate  float64           `json:"successRate"`
	TotalActions int               `json:"totalActions"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActiveAt *time.Time        `json:"lastActiveAt,omitempty"`
}

// Allows reports whether the agent holds an enabled capability of type c.
func (a *Agent) Allows(c CapabilityType) bool {
	for _, have := range a.Capabilities {
		if have.Type == c && have.Enabled {
			return true
		}
	}
	return false
}

// RecordOutcome folds one recorded execution into the agent's counters.
func (a *Agent) RecordOutcome(success bool, at time.Time) {
	succeeded := a.SuccessRate / 100 * float64(a.TotalActions)
	if success {
		succeeded++
	}
	a.TotalActions++
	a.SuccessRate = succeeded / float64(a.TotalActions) * 100
	a.LastActiveAt = &at
}

func (a *Agent) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(a.Name) == "" {
		verr.Add("name", "is required")
	}
	if a.PolicyID == uuid.Nil {
		verr.Add("policyId", "is required")
	}
	if a.KeyID == uuid.Nil {
		verr.Add("keyId", "is required")
	}
	switch a.Status {
	case AgentStatusActive, AgentStatusIdle, AgentStatusPaused, AgentStatusRevoked:
	default:
		verr.Add("status", "unknown status %q", a.Status)
	}
	for i, c := range a.Capabilities {
		switch c.Type {
		case CapabilityTrade, CapabilityTransfer, CapabilityStake, CapabilityGovernance, CapabilityCustom:
		default:
			verr.Add(indexed("capabilities", i, "type"), "unknown capability %q", c.Type)
		}
	}
	return verr.Err()
}

type AgentFilter struct {
	Status   AgentStatus
	PolicyID *uuid.UUID
	Search   string // case-insensitive over name and description
}

// Match reports whether a passes the filter.
func (f AgentFilter) Match(a *Agent) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.PolicyID != nil && a.PolicyID != *f.PolicyID {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(a.Name), q) && !strings.Contains(strings.ToLower(a.Description), q) {
			return false
		}
	}
	return true
}

type AgentRepository interface {
	Create(ctx context.Context, a *Agent) error
	GetByID(ctx context.Context, id uuid.UUID) (*Agent, error)
	List(ctx context.Context, f AgentFilter) ([]*Agent, error)
	Update(ctx context.Context, a *Agent) error
	Delete(ctx context.Context, id uuid.UUID) error
	// RevokeByPolicy moves every non-revoked agent bound to policyID to revoked
	// and returns how many changed.
	RevokeByPolicy(ctx context.Context, policyID uuid.UUID) (int, error)
}
