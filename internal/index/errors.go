package index

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record matches the query.
	ErrNotFound = errors.New("index record not found")

	// ErrSagaInFlight is returned when a pending record already exists for
	// the entity. Only one saga per entity may be in flight.
	ErrSagaInFlight = errors.New("a pending record already exists for this entity")

	// ErrTerminal is returned when a write conflicts with a terminal state
	// already reached by the record.
	ErrTerminal = errors.New("record is already in a terminal state")

	// ErrClosed is returned when the index has not been opened or was
	// closed.
	ErrClosed = errors.New("index is closed")

	// ErrUnavailable wraps transient store failures. Write-backs hitting
	// this are retried by the coordinator.
	ErrUnavailable = errors.New("index unavailable")
)

// Unavailable wraps err as a transient index failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// IsRetryable reports whether err is worth retrying at the write-back layer.
// Conflicts and missing records are not; transport failures are.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
