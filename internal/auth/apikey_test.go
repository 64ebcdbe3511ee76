package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/auth"
)

func TestGenerateAPIKey(t *testing.T) {
	t.Parallel()

	raw, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "tth_"))
	assert.Len(t, raw, len("tth_")+32)
	assert.Equal(t, auth.HashAPIKey(raw), hash)
	assert.Len(t, hash, 64)

	other, _, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)
}

func TestKeyring_Authenticate(t *testing.T) {
	t.Parallel()

	botKey, botHash, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	opsKey, opsHash, err := auth.GenerateAPIKey()
	require.NoError(t, err)

	kr, err := auth.ParseKeyring(" trader-bot:agent:" + botHash + " , ops:admin:" + strings.ToUpper(opsHash) + ",")
	require.NoError(t, err)
	assert.Equal(t, 2, kr.Len())

	p, err := kr.Authenticate(botKey)
	require.NoError(t, err)
	assert.Equal(t, auth.Principal{Subject: "trader-bot", Role: auth.RoleAgent}, p)

	p, err = kr.Authenticate(opsKey)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, p.Role)

	_, err = kr.Authenticate("tth_unknown")
	require.ErrorIs(t, err, auth.ErrInvalidAPIKey)
	_, err = kr.Authenticate("")
	require.ErrorIs(t, err, auth.ErrInvalidAPIKey)

	var empty *auth.Keyring
	_, err = empty.Authenticate(botKey)
	require.ErrorIs(t, err, auth.ErrInvalidAPIKey)
}

func TestParseKeyring_Errors(t *testing.T) {
	t.Parallel()

	hash := auth.HashAPIKey("x")
	tests := []struct {
		name  string
		input string
	}{
		{name: "missing parts", input: "bot:" + hash},
		{name: "empty name", input: ":agent:" + hash},
		{name: "unknown role", input: "bot:root:" + hash},
		{name: "short hash", input: "bot:agent:abcd"},
		{name: "non hex", input: "bot:agent:" + strings.Repeat("z", 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := auth.ParseKeyring(tt.input)
			require.Error(t, err)
		})
	}

	kr, err := auth.ParseKeyring("")
	require.NoError(t, err)
	assert.Zero(t, kr.Len())
}
