package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/auth"
	"github.com/gosuda/tether/internal/config"
	"github.com/gosuda/tether/internal/engine"
	"github.com/gosuda/tether/internal/events"
	"github.com/gosuda/tether/internal/fx"
	"github.com/gosuda/tether/internal/server"
	"github.com/gosuda/tether/internal/store/memory"
)

const secret = "0123456789abcdef0123456789abcdef"

func testConfig(authCfg config.AuthConfig) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Addr:           "127.0.0.1:0",
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
			CORSOrigins:    []string{"http://localhost:5173"},
			RateLimitRPS:   1000,
			RateLimitBurst: 1000,
		},
		Auth: authCfg,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	table, err := fx.NewTable(fx.DefaultRates())
	require.NoError(t, err)
	store := memory.New()
	eng, err := engine.New(store, table)
	require.NoError(t, err)

	srv, err := server.New(ctx, cfg, store, eng, events.NewLocalBroker())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string, header http.Header) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func bearer(t *testing.T, role string) http.Header {
	t.Helper()
	tok, err := auth.IssueToken(secret, "tester", role, time.Hour)
	require.NoError(t, err)
	return http.Header{"Authorization": []string{"Bearer " + tok}}
}

const policyBody = `{"name":"budget","revokeOn":["manual"]}`

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(config.AuthConfig{}))
	resp := do(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestNew_RejectsBadKeyring(t *testing.T) {
	t.Parallel()

	table, err := fx.NewTable(fx.DefaultRates())
	require.NoError(t, err)
	store := memory.New()
	eng, err := engine.New(store, table)
	require.NoError(t, err)

	_, err = server.New(context.Background(), testConfig(config.AuthConfig{APIKeys: "broken"}), store, eng, events.NewLocalBroker())
	require.Error(t, err)
}

func TestAPI_AnonymousWhenAuthDisabled(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(config.AuthConfig{}))

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/policies", policyBody, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/policies", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_RoleEnforcement(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(config.AuthConfig{JWTSecret: secret, TokenTTL: time.Hour}))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		header http.Header
		want   int
	}{
		{name: "no credentials", method: http.MethodGet, path: "/api/v1/policies", want: http.StatusUnauthorized},
		{name: "viewer reads", method: http.MethodGet, path: "/api/v1/policies", header: bearer(t, auth.RoleViewer), want: http.StatusOK},
		{name: "viewer cannot create", method: http.MethodPost, path: "/api/v1/policies", body: policyBody, header: bearer(t, auth.RoleViewer), want: http.StatusForbidden},
		{name: "agent cannot create", method: http.MethodPost, path: "/api/v1/policies", body: policyBody, header: bearer(t, auth.RoleAgent), want: http.StatusForbidden},
		{name: "admin creates", method: http.MethodPost, path: "/api/v1/policies", body: policyBody, header: bearer(t, auth.RoleAdmin), want: http.StatusCreated},
		{name: "agent reads stats", method: http.MethodGet, path: "/api/v1/stats", header: bearer(t, auth.RoleAgent), want: http.StatusOK},
		{name: "websocket needs credentials", method: http.MethodGet, path: "/ws/executions", want: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp := do(t, tc.method, ts.URL+tc.path, tc.body, tc.header)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestAPI_APIKeyAuth(t *testing.T) {
	t.Parallel()

	raw, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	ts := newTestServer(t, testConfig(config.AuthConfig{APIKeys: "ops:admin:" + hash}))

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/policies", policyBody, http.Header{"X-Api-Key": []string{raw}})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/policies", "", http.Header{"X-Api-Key": []string{"nope"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_CORSPreflight(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(config.AuthConfig{}))
	resp := do(t, http.MethodOptions, ts.URL+"/api/v1/policies", "", http.Header{
		"Origin":                        []string{"http://localhost:5173"},
		"Access-Control-Request-Method": []string{http.MethodPost},
	})
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestShutdownBeforeStart(t *testing.T) {
	t.Parallel()

	table, err := fx.NewTable(fx.DefaultRates())
	require.NoError(t, err)
	store := memory.New()
	eng, err := engine.New(store, table)
	require.NoError(t, err)
	srv, err := server.New(context.Background(), testConfig(config.AuthConfig{}), store, eng, events.NewLocalBroker())
	require.NoError(t, err)

	require.NoError(t, srv.Shutdown(context.Background()))
}
