// Package keys generates policy-bound secp256k1 keys and signs with them.
// Private key material only ever leaves this package sealed by the vault.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/secrets"
)

var (
	ErrNoPrivateKey = errors.New("keys: private key not held")
	ErrBadSignature = errors.New("keys: malformed signature")
)

type GenerateRequest struct {
	Type           domain.KeyType
	PolicyID       *uuid.UUID
	AgentID        *uuid.UUID
	ParentKeyID    *uuid.UUID
	DerivationPath string
	ExpiresAt      *time.Time
}

// Manager creates keys and signs with them. A Manager without a vault
// produces watch-only keys and cannot sign.
type Manager struct {
	vault *secrets.Vault
}

func NewManager(vault *secrets.Vault) *Manager {
	return &Manager{vault: vault}
}

// CanSign reports whether the manager holds a vault.
func (m *Manager) CanSign() bool { return m.vault != nil }

// Generate creates a fresh secp256k1 key pair. The private key is sealed
// with the key id as associated data.
func (m *Manager) Generate(req GenerateRequest, now time.Time) (*domain.PolicyBoundKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("keys.Generate: %w", err)
	}
	defer priv.Zero()

	pub := priv.PubKey()
	k := &domain.PolicyBoundKey{
		ID:             uuid.New(),
		Fingerprint:    Fingerprint(pub),
		Type:           req.Type,
		PolicyID:       req.PolicyID,
		AgentID:        req.AgentID,
		Address:        Address(pub),
		PublicKey:      "0x" + hex.EncodeToString(pub.SerializeCompressed()),
		Status:         domain.KeyStatusActive,
		ExpiresAt:      req.ExpiresAt,
		ParentKeyID:    req.ParentKeyID,
		DerivationPath: req.DerivationPath,
		CreatedAt:      now,
	}

	if m.vault != nil {
		sealed, err := m.vault.Seal(priv.Serialize(), k.ID[:])
		if err != nil {
			return nil, fmt.Errorf("keys.Generate: %w", err)
		}
		k.EncryptedPrivateKey = sealed
	}

	if err := k.Validate(); err != nil {
		return nil, fmt.Errorf("keys.Generate: %w", err)
	}
	return k, nil
}

// Sign produces an Ethereum-style 65-byte signature (r || s || v, v in
// {27, 28}) over Keccak-256 of message, hex encoded with 0x prefix.
func (m *Manager) Sign(k *domain.PolicyBoundKey, message []byte) (string, error) {
	if m.vault == nil || k.EncryptedPrivateKey == "" {
		return "", ErrNoPrivateKey
	}
	raw, err := m.vault.Open(k.EncryptedPrivateKey, k.ID[:])
	if err != nil {
		return "", fmt.Errorf("keys.Sign: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	defer priv.Zero()
	clear(raw)

	compact := ecdsa.SignCompact(priv, Keccak256(message), false)
	sig := make([]byte, 0, 65)
	sig = append(sig, compact[1:]...)
	sig = append(sig, compact[0])
	return "0x" + hex.EncodeToString(sig), nil
}

// Verify checks that signature over message was made by the holder of the
// compressed public key publicKeyHex.
func Verify(publicKeyHex string, message []byte, signature string) (bool, error) {
	pub, err := parsePublicKey(publicKeyHex)
	if err != nil {
		return false, fmt.Errorf("keys.Verify: %w", err)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return false, ErrBadSignature
	}
	compact := make([]byte, 0, 65)
	compact = append(compact, sig[64])
	compact = append(compact, sig[:64]...)

	recovered, _, err := ecdsa.RecoverCompact(compact, Keccak256(message))
	if err != nil {
		return false, nil //nolint:nilerr // an unrecoverable signature is simply invalid
	}
	return recovered.IsEqual(pub), nil
}

// Identity is what a public key determines about a key record.
type Identity struct {
	PublicKey   string // compressed, 0x-prefixed
	Address     string
	Fingerprint string
}

// Inspect parses a compressed or uncompressed hex public key. It is used to
// register watch-only keys whose private half lives elsewhere.
func Inspect(publicKeyHex string) (Identity, error) {
	pub, err := parsePublicKey(publicKeyHex)
	if err != nil {
		return Identity{}, fmt.Errorf("keys.Inspect: %w", err)
	}
	return Identity{
		PublicKey:   "0x" + hex.EncodeToString(pub.SerializeCompressed()),
		Address:     Address(pub),
		Fingerprint: Fingerprint(pub),
	}, nil
}

func parsePublicKey(s string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	return pub, nil
}
