// Package auth authenticates operators (JWT) and agent runtimes (API keys).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
	// RoleAgent may read and propose executions but not administer.
	RoleAgent = "agent"
)

// ValidRole reports whether role is one the server understands.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleViewer || role == RoleAgent
}

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Role    string
}

// Claims holds the JWT token payload.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

const issuer = "tether"

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// IssueToken creates a signed HS256 token for subject.
func IssueToken(secret, subject, role string, ttl time.Duration) (string, error) {
	if !ValidRole(role) {
		return "", fmt.Errorf("auth.IssueToken: unknown role %q", role)
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueToken: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT token string. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid || !ValidRole(claims.Role) {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}

// Principal returns the caller described by the claims.
func (c *Claims) Principal() Principal {
	return Principal{Subject: c.Subject, Role: c.Role}
}
