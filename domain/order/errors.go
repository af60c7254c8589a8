package order

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrUnknownKind is returned when no construction strategy is
	// registered for a request's kind.
	ErrUnknownKind = errors.New("unknown order kind")

	// ErrValidation classifies every *ValidationError.
	ErrValidation = errors.New("invalid order request")

	// ErrDuplicateClientID is returned when a client order id was
	// already accepted inside the idempotency window.
	ErrDuplicateClientID = errors.New("duplicate client order id")
)

// ValidationError rejects a request before anything is constructed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order request: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
