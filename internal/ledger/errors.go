package ledger

import "errors"

// Submit errors. None of these are retryable at the submit layer: resubmitting
// a signed mutation risks double execution.
var (
	// ErrRejected means the ledger refused the mutation outright.
	ErrRejected = errors.New("ledger rejected the mutation")

	// ErrUserDeclined means the signer declined to authorize the mutation.
	ErrUserDeclined = errors.New("user declined the mutation")

	// ErrNetwork is a transient transport failure. Retryable only at the
	// polling layer, never at submit.
	ErrNetwork = errors.New("ledger network error")
)

// Query errors.
var (
	// ErrNotYetVisible means the mutation was accepted but its effects are
	// not queryable yet. This is a normal condition, not a failure.
	ErrNotYetVisible = errors.New("mutation effects not yet visible")

	// ErrNotFound means the ledger has no record of the mutation handle.
	ErrNotFound = errors.New("mutation not found")
)

// IsTransient reports whether err is an expected come-back-later condition
// that polling may clear.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNotYetVisible) || errors.Is(err, ErrNetwork)
}
