package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/auth"
	"github.com/gosuda/tether/internal/server/middleware"
)

// setRole injects a role into the request context using the same context key
// that the Auth middleware uses.
func setRole(r *http.Request, role string) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.ContextKeyUserRole, role)
	return r.WithContext(ctx)
}

// okHandler is a simple handler that writes 200 OK.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { //nolint:gochecknoglobals // shared test handler
	w.WriteHeader(http.StatusOK)
})

func TestRequireRole_AllowsMatchingRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		allowedRoles []string
		userRole     string
	}{
		{name: "admin allowed for admin-only", allowedRoles: []string{auth.RoleAdmin}, userRole: auth.RoleAdmin},
		{name: "agent allowed for agent-only", allowedRoles: []string{auth.RoleAgent}, userRole: auth.RoleAgent},
		{name: "viewer allowed for viewer-only", allowedRoles: []string{auth.RoleViewer}, userRole: auth.RoleViewer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := middleware.RequireRole(tt.allowedRoles...)(okHandler)
			req := setRole(httptest.NewRequest(http.MethodGet, "/", http.NoBody), tt.userRole)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestRequireRole_BlocksNonMatchingRole(t *testing.T) {
	t.Parallel()

	handler := middleware.RequireAdmin()(okHandler)
	req := setRole(httptest.NewRequest(http.MethodGet, "/", http.NoBody), auth.RoleViewer)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "insufficient permissions")
}

func TestRequireRole_NoRoleReturns401(t *testing.T) {
	t.Parallel()

	handler := middleware.RequireAdmin()(okHandler)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMethodRoles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{name: "viewer reads", method: http.MethodGet, path: "/api/v1/policies", role: auth.RoleViewer, want: http.StatusOK},
		{name: "viewer cannot create", method: http.MethodPost, path: "/api/v1/policies", role: auth.RoleViewer, want: http.StatusForbidden},
		{name: "viewer cannot propose", method: http.MethodPost, path: "/api/v1/executions", role: auth.RoleViewer, want: http.StatusForbidden},
		{name: "agent proposes", method: http.MethodPost, path: "/api/v1/executions", role: auth.RoleAgent, want: http.StatusOK},
		{name: "agent previews", method: http.MethodPost, path: "/api/v1/policies/x/evaluate", role: auth.RoleAgent, want: http.StatusOK},
		{name: "agent cannot revoke", method: http.MethodPost, path: "/api/v1/policies/x/revoke", role: auth.RoleAgent, want: http.StatusForbidden},
		{name: "agent cannot delete", method: http.MethodDelete, path: "/api/v1/keys/x", role: auth.RoleAgent, want: http.StatusForbidden},
		{name: "admin patches", method: http.MethodPatch, path: "/api/v1/agents/x", role: auth.RoleAdmin, want: http.StatusOK},
	}

	handler := middleware.MethodRoles()(okHandler)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := setRole(httptest.NewRequest(tt.method, tt.path, http.NoBody), tt.role)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
