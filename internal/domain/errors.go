package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound            = errors.New("domain: not found")
	ErrConflict            = errors.New("domain: conflict")
	ErrUnauthorized        = errors.New("domain: unauthorized")
	ErrForbidden           = errors.New("domain: forbidden")
	ErrValidation          = errors.New("domain: validation failed")
	ErrImmutable           = errors.New("domain: entity is in a terminal state")
	ErrInvalidTransition   = errors.New("domain: invalid status transition")
	ErrConcurrencyConflict = errors.New("domain: concurrency conflict")
)

// Not-found errors per entity. Each one wraps ErrNotFound.
var (
	ErrPolicyNotFound    = fmt.Errorf("policy %w", ErrNotFound)
	ErrKeyNotFound       = fmt.Errorf("key %w", ErrNotFound)
	ErrAgentNotFound     = fmt.Errorf("agent %w", ErrNotFound)
	ErrExecutionNotFound = fmt.Errorf("execution log %w", ErrNotFound)
)

// FieldError describes one invalid field of a payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every invalid field found while validating a
// payload. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add records an invalid field.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil when no field was recorded.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
