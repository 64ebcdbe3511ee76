package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

//nolint:gochecknoglobals // sentinel error
var ErrInvalidKey = errors.New("secrets: invalid encryption key")

// argon2id parameters for deriving the vault key from an operator passphrase.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	keyLen       = 32
)

// DeriveKey stretches passphrase into a 32-byte vault key with argon2id.
func DeriveKey(passphrase, salt string) ([]byte, error) {
	if passphrase == "" || salt == "" {
		return nil, ErrInvalidKey
	}
	return argon2.IDKey([]byte(passphrase), []byte(salt), argonTime, argonMemory, argonThreads, keyLen), nil
}

// Vault seals private key material using AES-256-GCM.
type Vault struct {
	aead cipher.AEAD
}

// NewVault creates a Vault with the given 32-byte encryption key.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != keyLen {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets.NewVault: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets.NewVault: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// NewVaultFromPassphrase derives the vault key and builds the Vault.
func NewVaultFromPassphrase(passphrase, salt string) (*Vault, error) {
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return NewVault(key)
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext). aad binds
// the ciphertext to its owner, e.g. the key id.
func (v *Vault) Seal(plaintext, aad []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets.Seal: generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, plaintext, aad)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. aad must match the value given to Seal.
func (v *Vault) Open(ciphertext string, aad []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("secrets.Open: base64 decode: %w", err)
	}

	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("secrets.Open: ciphertext too short")
	}

	plaintext, err := v.aead.Open(nil, data[:nonceSize], data[nonceSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("secrets.Open: %w", err)
	}

	return plaintext, nil
}
