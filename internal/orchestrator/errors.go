package orchestrator

import (
	"context"
	"errors"

	"github.com/avvvet/brain/internal/models"
)

var (
	// ErrInvalidPercept is returned when a percept lacks a session or intent.
	ErrInvalidPercept = errors.New("invalid percept")
	// ErrSessionUnavailable is returned when state can be neither loaded nor created.
	ErrSessionUnavailable = errors.New("session unavailable")
	// ErrConcurrentModification is returned when every commit attempt lost the version check.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrNoViableAction means the rule set rejects the configured fallback itself.
	ErrNoViableAction = errors.New("no viable action")
	ErrPolicyTimeout  = errors.New("policy timeout")
	ErrPolicyFailure  = errors.New("policy failure")
	ErrStoreTimeout   = errors.New("store timeout")
)

// Code maps a Decide error to its wire error code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPercept):
		return models.ErrorInvalidPercept
	case errors.Is(err, ErrNoViableAction):
		return models.ErrorNoViableAction
	case errors.Is(err, ErrConcurrentModification):
		return models.ErrorConcurrentModification
	case errors.Is(err, ErrPolicyTimeout):
		return models.ErrorPolicyTimeout
	case errors.Is(err, ErrPolicyFailure):
		return models.ErrorPolicyFailure
	case errors.Is(err, ErrStoreTimeout):
		return models.ErrorStoreTimeout
	case errors.Is(err, ErrSessionUnavailable):
		return models.ErrorSessionUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.ErrorCancelled
	default:
		return models.ErrorInternal
	}
}

// IsInfrastructure reports whether err came from the store or the policy
// module rather than from the input or the rule set.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrSessionUnavailable) ||
		errors.Is(err, ErrStoreTimeout) ||
		errors.Is(err, ErrPolicyTimeout) ||
		errors.Is(err, ErrPolicyFailure) ||
		errors.Is(err, ErrConcurrentModification)
}
