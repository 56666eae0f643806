// Package saga coordinates the two-system reconciliation protocol: a ledger
// mutation on one side, an off-chain index record on the other, with defined
// partial-failure states when the two disagree.
package saga

import (
	"errors"
	"time"

	"github.com/LeJamon/goMarketd/internal/index"
	"github.com/LeJamon/goMarketd/internal/ledger"
	"github.com/LeJamon/goMarketd/internal/resolve"
)

// State is a saga's position in its lifecycle. Transitions only move forward;
// the only repeated step is the bounded write-back retry.
type State string

const (
	StateInit            State = "INIT"
	StateSubmitting      State = "SUBMITTING"
	StateAwaitingEffects State = "AWAITING_EFFECTS"
	StateResolving       State = "RESOLVING"
	StateWritingBack     State = "WRITING_BACK"

	// Terminal states.

	// StateConfirmed: ledger mutation applied, handle resolved with exact
	// confidence, index record written.
	StateConfirmed State = "CONFIRMED"

	// StateDegraded: ledger mutation applied (or at least submitted) but
	// either its effects never became visible within the retry budget or
	// the handle was recovered by a fallback heuristic. The record must be
	// revisited by the sweep, never discarded.
	StateDegraded State = "DEGRADED"

	// StateFailed: the mutation never took effect. Nothing external
	// happened; the caller may retry the whole saga.
	StateFailed State = "FAILED"

	// StateFailedWriteback: the ledger mutation succeeded but the index
	// write-back exhausted its retries. A ledger-side mutation exists with
	// no off-chain record; the sweep must repair it out of band.
	StateFailedWriteback State = "FAILED_WRITEBACK"
)

// Terminal reports whether s ends the saga.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateDegraded, StateFailed, StateFailedWriteback:
		return true
	}
	return false
}

// IndexStatus maps a terminal state onto its index record status.
func (s State) IndexStatus() index.Status {
	switch s {
	case StateConfirmed:
		return index.StatusConfirmed
	case StateDegraded:
		return index.StatusDegraded
	case StateFailed:
		return index.StatusFailed
	case StateFailedWriteback:
		return index.StatusFailedWriteback
	default:
		return index.StatusPending
	}
}

// Event is a progress notification emitted at every transition and on every
// polling attempt, keyed by saga id so a caller can render status.
type Event struct {
	SagaID   string    `json:"saga_id"`
	EntityID string    `json:"entity_id"`
	State    State     `json:"state"`
	At       time.Time `json:"at"`

	// Attempt/MaxAttempts are set on AWAITING_EFFECTS progress events
	// ("waiting for confirmation, attempt N of M").
	Attempt     int `json:"attempt,omitempty"`
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Err carries the failure detail on FAILED and degraded transitions.
	Err string `json:"error,omitempty"`
}

// Outcome is the final result of a saga run. For any state other than
// StateFailed the underlying ledger mutation is real: callers must not treat
// a degraded outcome as "nothing happened".
type Outcome struct {
	SagaID   string
	State    State
	Digest   ledger.MutationHandle
	Resolved resolve.ResolvedIdentifier
	Record   *index.Record
}

var (
	// ErrEntityBusy means another saga for the same entity is still in
	// flight. Only one saga per entity may run at a time.
	ErrEntityBusy = errors.New("a saga for this entity is already in flight")

	// ErrInvalidRequest covers malformed mutation requests.
	ErrInvalidRequest = errors.New("invalid mutation request")

	// ErrNotReplayable means the record is not in a state the replay path
	// can repair.
	ErrNotReplayable = errors.New("record is not replayable")
)
