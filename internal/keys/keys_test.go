package keys_test

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/keys"
	"github.com/gosuda/tether/internal/secrets"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // fixed clock

func newManager(t *testing.T) *keys.Manager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	vault, err := secrets.NewVault(key)
	require.NoError(t, err)
	return keys.NewManager(vault)
}

func TestAddress_KnownVector(t *testing.T) {
	t.Parallel()

	one := make([]byte, 32)
	one[31] = 1
	priv := secp256k1.PrivKeyFromBytes(one)

	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", keys.Address(priv.PubKey()))
}

func TestValidChecksum(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED", true},
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD", false},
		{"0xCAFE", false},
		{"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, keys.ValidChecksum(tt.addr))
		})
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	policyID := uuid.New()
	k, err := newManager(t).Generate(keys.GenerateRequest{Type: domain.KeyTypeAgent, PolicyID: &policyID}, now)
	require.NoError(t, err)

	assert.Equal(t, domain.KeyStatusActive, k.Status)
	assert.Equal(t, domain.KeyTypeAgent, k.Type)
	assert.True(t, k.BoundTo(policyID))
	assert.True(t, keys.ValidChecksum(k.Address))
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{4}(:[0-9A-F]{4}){3}$`), k.Fingerprint)
	assert.Len(t, k.PublicKey, 2+66)
	assert.NotEmpty(t, k.EncryptedPrivateKey)
	assert.Equal(t, now, k.CreatedAt)
}

func TestGenerate_ChildNeedsParent(t *testing.T) {
	t.Parallel()

	_, err := newManager(t).Generate(keys.GenerateRequest{Type: domain.KeyTypeChild}, now)
	require.ErrorIs(t, err, domain.ErrValidation)

	parent := uuid.New()
	k, err := newManager(t).Generate(keys.GenerateRequest{Type: domain.KeyTypeChild, ParentKeyID: &parent, DerivationPath: "m/44'/60'/0'/0/1"}, now)
	require.NoError(t, err)
	assert.Equal(t, "m/44'/60'/0'/0/1", k.DerivationPath)
}

func TestSignVerify(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	k, err := m.Generate(keys.GenerateRequest{Type: domain.KeyTypeRoot}, now)
	require.NoError(t, err)

	msg := []byte("bafexamplelogcid")
	sig, err := m.Sign(k, msg)
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	ok, err := keys.Verify(k.PublicKey, msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = keys.Verify(k.PublicKey, []byte("other"), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := m.Generate(keys.GenerateRequest{Type: domain.KeyTypeRoot}, now)
	require.NoError(t, err)
	ok, err = keys.Verify(other.PublicKey, msg, sig)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = keys.Verify(k.PublicKey, msg, "0x1234")
	require.ErrorIs(t, err, keys.ErrBadSignature)
}

func TestSign_WithoutPrivateKey(t *testing.T) {
	t.Parallel()

	watchOnly := keys.NewManager(nil)
	assert.False(t, watchOnly.CanSign())

	k, err := watchOnly.Generate(keys.GenerateRequest{Type: domain.KeyTypeRoot}, now)
	require.NoError(t, err)
	assert.Empty(t, k.EncryptedPrivateKey)

	_, err = newManager(t).Sign(k, []byte("x"))
	require.ErrorIs(t, err, keys.ErrNoPrivateKey)
}

func TestSign_KeyIDIsBoundToCiphertext(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	k, err := m.Generate(keys.GenerateRequest{Type: domain.KeyTypeRoot}, now)
	require.NoError(t, err)

	k.ID = uuid.New()
	_, err = m.Sign(k, []byte("x"))
	require.Error(t, err)
}

func TestInspect(t *testing.T) {
	t.Parallel()

	one := make([]byte, 32)
	one[31] = 1
	pub := secp256k1.PrivKeyFromBytes(one).PubKey()

	compressed := "0x" + hex.EncodeToString(pub.SerializeCompressed())
	uncompressed := hex.EncodeToString(pub.SerializeUncompressed())

	for _, in := range []string{compressed, uncompressed} {
		id, err := keys.Inspect(in)
		require.NoError(t, err)
		assert.Equal(t, compressed, id.PublicKey)
		assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", id.Address)
		assert.Equal(t, keys.Fingerprint(pub), id.Fingerprint)
	}

	_, err := keys.Inspect("0xzz")
	require.Error(t, err)
	_, err = keys.Inspect("0x02")
	require.Error(t, err)
}
