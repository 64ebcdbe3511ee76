package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/auth"
	"github.com/gosuda/tether/internal/server/middleware"
)

const testSecret = "middleware-test-secret"

// capture records the principal the handler saw.
func capture(subject, role *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*subject, _ = middleware.SubjectFromContext(r.Context())
		*role, _ = middleware.RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	_, ok := middleware.SubjectFromContext(context.Background())
	assert.False(t, ok)
	_, ok = middleware.RoleFromContext(context.Background())
	assert.False(t, ok)

	ctx := middleware.WithPrincipal(context.Background(), auth.Principal{Subject: "ops", Role: auth.RoleAdmin})
	subject, ok := middleware.SubjectFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "ops", subject)
	role, ok := middleware.RoleFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, auth.RoleAdmin, role)
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestAuth_JWT_ValidToken_PopulatesContext(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueToken(testSecret, "ops@example.com", auth.RoleViewer, time.Minute)
	require.NoError(t, err)

	var subject, role string
	handler := middleware.Auth(testSecret, nil)(capture(&subject, &role))
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@example.com", subject)
	assert.Equal(t, auth.RoleViewer, role)
}

func TestAuth_JWT_Rejected(t *testing.T) {
	t.Parallel()

	expired, err := auth.IssueToken(testSecret, "x", auth.RoleAdmin, -time.Second)
	require.NoError(t, err)
	foreign, err := auth.IssueToken("other-secret", "x", auth.RoleAdmin, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		secret string
	}{
		{name: "malformed", header: "Bearer nope", secret: testSecret},
		{name: "expired", header: "Bearer " + expired, secret: testSecret},
		{name: "wrong secret", header: "Bearer " + foreign, secret: testSecret},
		{name: "jwt disabled", header: "Bearer " + foreign, secret: ""},
		{name: "basic scheme", header: "Basic abc", secret: testSecret},
		{name: "no credentials", header: "", secret: testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := middleware.Auth(tt.secret, nil)(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuth_BearerIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueToken(testSecret, "x", auth.RoleAdmin, time.Minute)
	require.NoError(t, err)

	for _, scheme := range []string{"Bearer ", "bearer ", "BEARER "} {
		handler := middleware.Auth(testSecret, nil)(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("Authorization", scheme+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, scheme)
	}
}

func TestAuth_APIKey(t *testing.T) {
	t.Parallel()

	raw, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	kr, err := auth.ParseKeyring("trader-bot:agent:" + hash)
	require.NoError(t, err)

	var subject, role string
	handler := middleware.Auth("", kr)(capture(&subject, &role))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", http.NoBody)
	req.Header.Set("X-API-Key", raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trader-bot", subject)
	assert.Equal(t, auth.RoleAgent, role)

	bad := httptest.NewRequest(http.MethodPost, "/api/v1/executions", http.NoBody)
	bad.Header.Set("X-API-Key", raw+"x")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAnonymous_IsAdmin(t *testing.T) {
	t.Parallel()

	var subject, role string
	handler := middleware.Anonymous()(capture(&subject, &role))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, "anonymous", subject)
	assert.Equal(t, auth.RoleAdmin, role)
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestRateLimit_NoSubject_PassesThrough(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimit(t.Context(), 1, 1)(okHandler)
	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimit_BurstExceeded_Returns429(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimit(t.Context(), 0.001, 2)(okHandler)
	as := func(subject string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		return req.WithContext(middleware.WithPrincipal(req.Context(), auth.Principal{Subject: subject, Role: auth.RoleViewer}))
	}

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, as("a"))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another subject has its own bucket.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, as("b"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitByIP(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimitByIP(t.Context(), 0.001, 1)(okHandler)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
