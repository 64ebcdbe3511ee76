package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/auth"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestRun_IssuesToken(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, run([]string{"-subject", "alice", "-role", "admin", "-ttl", "1h"}, secret, &out))

	claims, err := auth.ValidateToken(secret, strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestRun_APIKeyEntryParses(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, run([]string{"-apikey", "-subject", "bot", "-role", "agent"}, "", &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	raw := strings.TrimSpace(strings.TrimPrefix(lines[0], "key:"))
	entry := strings.TrimSpace(strings.TrimPrefix(lines[1], "entry:"))

	kr, err := auth.ParseKeyring(entry)
	require.NoError(t, err)
	p, err := kr.Authenticate(raw)
	require.NoError(t, err)
	assert.Equal(t, "bot", p.Subject)
	assert.Equal(t, auth.RoleAgent, p.Role)
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		args   []string
		secret string
	}{
		{name: "missing subject", args: []string{"-role", "admin"}, secret: secret},
		{name: "unknown role", args: []string{"-subject", "a", "-role", "root"}, secret: secret},
		{name: "short secret", args: []string{"-subject", "a"}, secret: "short"},
		{name: "non-positive ttl", args: []string{"-subject", "a", "-ttl", "0s"}, secret: secret},
		{name: "unknown flag", args: []string{"-bogus"}, secret: secret},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Error(t, run(tc.args, tc.secret, &bytes.Buffer{}))
		})
	}
}
