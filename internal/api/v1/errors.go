package v1

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/tether/internal/domain"
)

// apiError maps a service error onto an HTTP problem. what names the entity
// the operation acted on and is used in messages.
func apiError(err error, what string) error {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		details := make([]error, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			details = append(details, &huma.ErrorDetail{Message: f.Message, Location: "body." + f.Field})
		}
		return huma.Error422UnprocessableEntity("invalid "+what, details...)
	case errors.Is(err, domain.ErrValidation):
		return huma.Error400BadRequest("invalid " + what)
	case errors.Is(err, domain.ErrPolicyNotFound):
		return huma.Error404NotFound("policy not found")
	case errors.Is(err, domain.ErrKeyNotFound):
		return huma.Error404NotFound("key not found")
	case errors.Is(err, domain.ErrAgentNotFound):
		return huma.Error404NotFound("agent not found")
	case errors.Is(err, domain.ErrExecutionNotFound):
		return huma.Error404NotFound("execution not found")
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound(what + " not found")
	case errors.Is(err, domain.ErrImmutable):
		return huma.Error409Conflict(what + " is in a terminal state")
	case errors.Is(err, domain.ErrInvalidTransition):
		return huma.Error409Conflict("invalid status transition")
	case errors.Is(err, domain.ErrConflict):
		return huma.Error409Conflict(what + " was modified concurrently")
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return huma.Error503ServiceUnavailable("policy is busy, retry later")
	default:
		return huma.Error500InternalServerError("failed to process "+what, err)
	}
}
