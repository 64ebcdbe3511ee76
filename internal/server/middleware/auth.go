package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/auth"
)

// Auth accepts a bearer JWT signed with jwtSecret or an X-API-Key found in
// keyring. Either may be disabled by passing an empty secret or keyring.
func Auth(jwtSecret string, keyring *auth.Keyring) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Try Bearer token first.
			if tok := extractBearer(r); tok != "" && jwtSecret != "" {
				claims, err := auth.ValidateToken(jwtSecret, tok)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), claims.Principal())))
					return
				}
			}

			// Try API key.
			if key := r.Header.Get("X-API-Key"); key != "" {
				p, err := keyring.Authenticate(key)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
					return
				}
				log.Debug().Str("remote", r.RemoteAddr).Msg("auth: api key rejected")
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

// Anonymous marks every request as coming from an admin. It is used when no
// credentials are configured.
func Anonymous() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.Principal{Subject: "anonymous", Role: auth.RoleAdmin}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}
