package orchestrator

import (
	"errors"
	"fmt"

	"github.com/emperorhan/aggregation-orchestrator/internal/retry"
)

var (
	ErrValidation            = errors.New("orchestrator: invalid request")
	ErrNoCompatibleProviders = errors.New("orchestrator: no compatible providers")
	ErrNotFound              = errors.New("orchestrator: job not found")
	// ErrStoreUnavailable is always returned marked transient; the caller
	// may retry Ensure.
	ErrStoreUnavailable = errors.New("orchestrator: store unavailable")
	ErrInvalidReport    = errors.New("orchestrator: invalid outcome report")
)

// ValidationError names the offending input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func storeUnavailable(op string, err error) error {
	return retry.Transient(fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err))
}

func invalidReport(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidReport, fmt.Sprintf(format, args...))
}

// errorKind is the metrics label for an Ensure failure.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNoCompatibleProviders):
		return "no_compatible_providers"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "other"
	}
}
