package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAPIKey is returned when an API key does not match any configured key.
var ErrInvalidAPIKey = errors.New("auth: invalid API key")

const (
	apiKeyPrefix  = "tth_"
	apiKeyRandLen = 16 // 16 bytes = 32 hex chars
)

// GenerateAPIKey returns a new raw key and the SHA-256 hex digest to put in
// the server configuration. Only the digest is ever stored.
func GenerateAPIKey() (raw, hash string, err error) {
	b := make([]byte, apiKeyRandLen)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("auth.GenerateAPIKey: %w", err)
	}
	raw = apiKeyPrefix + hex.EncodeToString(b)
	return raw, HashAPIKey(raw), nil
}

func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type apiKey struct {
	name string
	role string
	hash []byte
}

// Keyring holds the configured API key digests.
type Keyring struct {
	keys []apiKey
}

// ParseKeyring reads "name:role:sha256hex" entries separated by commas.
func ParseKeyring(s string) (*Keyring, error) {
	kr := &Keyring{}
	for entry := range strings.SplitSeq(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("auth.ParseKeyring: entry %q: want name:role:hash", entry)
		}
		name, role, digest := parts[0], parts[1], strings.ToLower(parts[2])
		if name == "" {
			return nil, fmt.Errorf("auth.ParseKeyring: entry %q: empty name", entry)
		}
		if !ValidRole(role) {
			return nil, fmt.Errorf("auth.ParseKeyring: entry %q: unknown role %q", entry, role)
		}
		hash, err := hex.DecodeString(digest)
		if err != nil || len(hash) != sha256.Size {
			return nil, fmt.Errorf("auth.ParseKeyring: entry %q: hash must be 64 hex chars", entry)
		}
		kr.keys = append(kr.keys, apiKey{name: name, role: role, hash: hash})
	}
	return kr, nil
}

func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	return len(k.keys)
}

// Authenticate matches raw against every configured digest in constant time.
func (k *Keyring) Authenticate(raw string) (Principal, error) {
	if k == nil || raw == "" {
		return Principal{}, ErrInvalidAPIKey
	}
	sum := sha256.Sum256([]byte(raw))
	var (
		found Principal
		ok    bool
	)
	for _, key := range k.keys {
		if subtle.ConstantTimeCompare(sum[:], key.hash) == 1 && !ok {
			found = Principal{Subject: key.name, Role: key.role}
			ok = true
		}
	}
	if !ok {
		return Principal{}, ErrInvalidAPIKey
	}
	return found, nil
}
