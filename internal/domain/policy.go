package domain

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PolicyStatus string

const (
	PolicyStatusActive   PolicyStatus = "active"
	PolicyStatusExpired  PolicyStatus = "expired"
	PolicyStatusViolated PolicyStatus = "violated"
	PolicyStatusRevoked  PolicyStatus = "revoked"
)

// IsTerminal reports whether no further transition is possible.
func (s PolicyStatus) IsTerminal() bool {
	return s == PolicyStatusExpired || s == PolicyStatusViolated || s == PolicyStatusRevoked
}

// ValidTransition checks if a policy status transition is allowed.
// Only active policies move, and only toward a terminal status.
func (s PolicyStatus) ValidTransition(to PolicyStatus) bool {
	return s == PolicyStatusActive && to.IsTerminal()
}

type RevocationTrigger string

const (
	TriggerViolation     RevocationTrigger = "violation"
	TriggerManual        RevocationTrigger = "manual"
	TriggerExpiry        RevocationTrigger = "expiry"
	TriggerSpendExceeded RevocationTrigger = "spend_exceeded"
)

// ValidRevocationTriggers is the canonical set of revocation triggers.
var ValidRevocationTriggers = []RevocationTrigger{ //nolint:gochecknoglobals // canonical enum list
	TriggerViolation,
	TriggerManual,
	TriggerExpiry,
	TriggerSpendExceeded,
}

type SpendWindow string

const (
	Window1h       SpendWindow = "1h"
	Window24h      SpendWindow = "24h"
	Window7d       SpendWindow = "7d"
	Window30d      SpendWindow = "30d"
	WindowLifetime SpendWindow = "lifetime"
)

// Duration returns the rolling window length. The second result is false for
// the lifetime window, which has no lower bound.
func (w SpendWindow) Duration() (time.Duration, bool) {
	switch w {
	case Window1h:
		return time.Hour, true
	case Window24h:
		return 24 * time.Hour, true
	case Window7d:
		return 7 * 24 * time.Hour, true
	case Window30d:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Start returns the inclusive lower bound of the window ending at now, or the
// zero time for the lifetime window.
func (w SpendWindow) Start(now time.Time) time.Time {
	d, ok := w.Duration()
	if !ok {
		return time.Time{}
	}
	return now.Add(-d)
}

func (w SpendWindow) Valid() bool {
	switch w {
	case Window1h, Window24h, Window7d, Window30d, WindowLifetime:
		return true
	default:
		return false
	}
}

type SpendLimit struct {
	Max      decimal.Decimal `json:"max"`
	Currency Currency        `json:"currency"`
	Window   SpendWindow     `json:"window"`
}

// ContractAllowlistEntry permits a set of function selectors on one contract.
// Verified is informational and never affects enforcement.
type ContractAllowlistEntry struct {
	Address   string   `json:"address"`
	Name      string   `json:"name,omitempty"`
	Functions []string `json:"functions"`
	Verified  bool     `json:"verified,omitempty"`
}

// Permits reports whether the entry allows calling selector on address.
// Addresses compare case-insensitively, selectors exactly.
func (e ContractAllowlistEntry) Permits(address, selector string) bool {
	if !strings.EqualFold(e.Address, address) {
		return false
	}
	return slices.Contains(e.Functions, selector)
}

type Policy struct {
	ID          uuid.UUID                `json:"id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Version     int                      `json:"version"`
	Spend       *SpendLimit              `json:"spend,omitempty"`
	Contracts   []ContractAllowlistEntry `json:"contracts"`
	Conditions  []PolicyCondition        `json:"conditions"`
	ExpiresAt   *time.Time               `json:"expiresAt,omitempty"`
	RevokeOn    []RevocationTrigger      `json:"revokeOn"`
	Status      PolicyStatus             `json:"status"`
	CreatedAt   time.Time                `json:"createdAt"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

// RevokesOn reports whether trigger is enabled. Manual revocation is always
// enabled regardless of RevokeOn.
func (p *Policy) RevokesOn(trigger RevocationTrigger) bool {
	if trigger == TriggerManual {
		return true
	}
	return slices.Contains(p.RevokeOn, trigger)
}

// Unconstrained reports whether the policy carries no contract, condition or
// spend constraint.
func (p *Policy) Unconstrained() bool {
	return len(p.Contracts) == 0 && len(p.Conditions) == 0 && p.Spend == nil
}

// Clone returns a deep copy, used to derive the next version.
func (p *Policy) Clone() *Policy {
	c := *p
	if p.Spend != nil {
		s := *p.Spend
		c.Spend = &s
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		c.ExpiresAt = &t
	}
	c.Contracts = make([]ContractAllowlistEntry, len(p.Contracts))
	for i, e := range p.Contracts {
		e.Functions = slices.Clone(e.Functions)
		c.Contracts[i] = e
	}
	c.Conditions = slices.Clone(p.Conditions)
	c.RevokeOn = slices.Clone(p.RevokeOn)
	return &c
}

// NextVersion returns a copy of p stamped as version N+1.
func (p *Policy) NextVersion(now time.Time) *Policy {
	next := p.Clone()
	next.Version = p.Version + 1
	next.UpdatedAt = now
	return next
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{1,40}$`) //nolint:gochecknoglobals // compiled once

// ValidAddress reports whether s is a 0x-prefixed hex address of at most 20 bytes.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// Validate checks the policy document. All problems are reported at once.
func (p *Policy) Validate() error {
	verr := &ValidationError{}

	if strings.TrimSpace(p.Name) == "" {
		verr.Add("name", "is required")
	}
	if p.Version < 1 {
		verr.Add("version", "must be >= 1, got %d", p.Version)
	}
	switch p.Status {
	case PolicyStatusActive, PolicyStatusExpired, PolicyStatusViolated, PolicyStatusRevoked:
	default:
		verr.Add("status", "unknown status %q", p.Status)
	}

	if p.Spend != nil {
		if !p.Spend.Max.IsPositive() {
			verr.Add("spend.max", "must be > 0")
		}
		if !p.Spend.Currency.Valid() {
			verr.Add("spend.currency", "unknown currency %q", p.Spend.Currency)
		}
		if !p.Spend.Window.Valid() {
			verr.Add("spend.window", "unknown window %q", p.Spend.Window)
		}
	}

	for i, c := range p.Contracts {
		if !ValidAddress(c.Address) {
			verr.Add(indexed("contracts", i, "address"), "invalid address %q", c.Address)
		}
		for j, fn := range c.Functions {
			if strings.TrimSpace(fn) == "" {
				verr.Add(indexed("contracts", i, "functions")+"["+itoa(j)+"]", "must not be empty")
			}
		}
	}

	for i, c := range p.Conditions {
		c.validate(verr, indexed("conditions", i, ""))
	}

	for _, t := range p.RevokeOn {
		if !slices.Contains(ValidRevocationTriggers, t) {
			verr.Add("revokeOn", "unknown trigger %q", t)
		}
	}

	return verr.Err()
}

// PolicyRepository keeps every version of every policy. Writes never modify a
// stored version: Update appends the next one.
type PolicyRepository interface {
	Create(ctx context.Context, p *Policy) error
	GetByID(ctx context.Context, id uuid.UUID) (*Policy, error)
	GetVersion(ctx context.Context, id uuid.UUID, version int) (*Policy, error)
	ListVersions(ctx context.Context, id uuid.UUID) ([]*Policy, error)
	List(ctx context.Context) ([]*Policy, error)
	// Update appends p as a new version. p.Version must be exactly one more
	// than the stored head, otherwise ErrConflict is returned.
	Update(ctx context.Context, p *Policy) error
	Delete(ctx context.Context, id uuid.UUID) error
}
