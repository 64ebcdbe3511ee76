package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type KeyType string

const (
	KeyTypeRoot  KeyType = "root"
	KeyTypeChild KeyType = "child"
	KeyTypeAgent KeyType = "agent"
)

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
	KeyStatusExpired KeyStatus = "expired"
)

// ValidTransition checks if a key status transition is allowed.
// Keys only leave active; any non-active status is terminal.
func (s KeyStatus) ValidTransition(to KeyStatus) bool {
	return s == KeyStatusActive && (to == KeyStatusRevoked || to == KeyStatusExpired)
}

// PolicyBoundKey is a signing key optionally bound to one policy. Keys form a
// derivation tree through ParentKeyID.
type PolicyBoundKey struct {
	ID                  uuid.UUID  `json:"id"`
	Fingerprint         string     `json:"fingerprint"`
	Type                KeyType    `json:"type"`
	PolicyID            *uuid.UUID `json:"policyId,omitempty"`
	AgentID             *uuid.UUID `json:"agentId,omitempty"`
	Address             string     `json:"address"`
	PublicKey           string     `json:"publicKey"`
	EncryptedPrivateKey string     `json:"-"`
	Status              KeyStatus  `json:"status"`
	ExpiresAt           *time.Time `json:"expiresAt,omitempty"`
	ParentKeyID         *uuid.UUID `json:"parentKeyId,omitempty"`
	DerivationPath      string     `json:"derivationPath,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// Expired reports whether the key's expiry has passed at now.
func (k *PolicyBoundKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// BoundTo reports whether the key is bound to policyID. Unbound keys are bound
// to nothing.
func (k *PolicyBoundKey) BoundTo(policyID uuid.UUID) bool {
	return k.PolicyID != nil && *k.PolicyID == policyID
}

func (k *PolicyBoundKey) Validate() error {
	verr := &ValidationError{}
	switch k.Type {
	case KeyTypeRoot, KeyTypeChild, KeyTypeAgent:
	default:
		verr.Add("type", "unknown key type %q", k.Type)
	}
	switch k.Status {
	case KeyStatusActive, KeyStatusRevoked, KeyStatusExpired:
	default:
		verr.Add("status", "unknown status %q", k.Status)
	}
	if strings.TrimSpace(k.Fingerprint) == "" {
		verr.Add("fingerprint", "is required")
	}
	if !ValidAddress(k.Address) {
		verr.Add("address", "invalid address %q", k.Address)
	}
	if strings.TrimSpace(k.PublicKey) == "" {
		verr.Add("publicKey", "is required")
	}
	if k.Type == KeyTypeChild && k.ParentKeyID == nil {
		verr.Add("parentKeyId", "is required for child keys")
	}
	if k.Type == KeyTypeRoot && k.ParentKeyID != nil {
		verr.Add("parentKeyId", "root keys have no parent")
	}
	return verr.Err()
}

type KeyFilter struct {
	Status   KeyStatus
	Type     KeyType
	PolicyID *uuid.UUID
	Search   string // case-insensitive over fingerprint and address
}

// Match reports whether k passes the filter.
func (f KeyFilter) Match(k *PolicyBoundKey) bool {
	if f.Status != "" && k.Status != f.Status {
		return false
	}
	if f.Type != "" && k.Type != f.Type {
		return false
	}
	if f.PolicyID != nil && !k.BoundTo(*f.PolicyID) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(k.Fingerprint), q) && !strings.Contains(strings.ToLower(k.Address), q) {
			return false
		}
	}
	return true
}

type KeyRepository interface {
	Create(ctx context.Context, k *PolicyBoundKey) error
	GetByID(ctx context.Context, id uuid.UUID) (*PolicyBoundKey, error)
	List(ctx context.Context, f KeyFilter) ([]*PolicyBoundKey, error)
	Update(ctx context.Context, k *PolicyBoundKey) error
	Delete(ctx context.Context, id uuid.UUID) error
	// RevokeByPolicy moves every active key bound to policyID to revoked and
	// returns how many changed.
	RevokeByPolicy(ctx context.Context, policyID uuid.UUID) (int, error)
}
