package middleware

import (
	"net/http"
	"strings"

	"github.com/gosuda/tether/internal/auth"
)

// RequireRole returns middleware that checks if the authenticated caller has
// one of the allowed roles. It must be chained after Auth.
//
// Returns 401 Unauthorized when no caller is found in context and 403
// Forbidden when the role does not match any of the allowed roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFromContext(r.Context())
			if !ok || role == "" {
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"authentication required"}`, http.StatusUnauthorized)
				return
			}

			if _, match := allowed[role]; !match {
				http.Error(w, `{"title":"Forbidden","status":403,"detail":"insufficient permissions"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin is a convenience wrapper for RequireRole(auth.RoleAdmin).
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(auth.RoleAdmin)
}

// MethodRoles gates by request method: every role may read, agents may
// propose and preview executions, and everything else needs admin.
func MethodRoles() func(http.Handler) http.Handler {
	readers := RequireRole(auth.RoleAdmin, auth.RoleViewer, auth.RoleAgent)
	proposers := RequireRole(auth.RoleAdmin, auth.RoleAgent)
	admins := RequireAdmin()

	return func(next http.Handler) http.Handler {
		read, propose, admin := readers(next), proposers(next), admins(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions:
				read.ServeHTTP(w, r)
			case r.Method == http.MethodPost && agentWritable(r.URL.Path):
				propose.ServeHTTP(w, r)
			default:
				admin.ServeHTTP(w, r)
			}
		})
	}
}

func agentWritable(path string) bool {
	path = strings.TrimSuffix(path, "/")
	return strings.HasSuffix(path, "/executions") || strings.HasSuffix(path, "/evaluate")
}
