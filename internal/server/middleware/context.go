package middleware

import (
	"context"

	"github.com/gosuda/tether/internal/auth"
)

type contextKey string

const (
	ContextKeySubject  contextKey = "subject"
	ContextKeyUserRole contextKey = "role"
)

// WithPrincipal stores an authenticated caller in ctx.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	ctx = context.WithValue(ctx, ContextKeySubject, p.Subject)
	return context.WithValue(ctx, ContextKeyUserRole, p.Role)
}

func SubjectFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeySubject).(string)
	return v, ok
}

func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyUserRole).(string)
	return v, ok
}
