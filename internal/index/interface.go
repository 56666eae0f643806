// Package index defines the off-chain index boundary: the durable store that
// mirrors ledger state for fast querying by the application.
//
// The index is never authoritative. A provisional record exists so the UI has
// something to show while the ledger mutation is in flight, and so a later
// confirmation can be matched back to the original intent. A record reaches
// exactly one terminal status; terminal records are superseded, not rewritten.
package index

import (
	"context"
	"time"

	"github.com/LeJamon/goMarketd/internal/ledger"
	"github.com/LeJamon/goMarketd/internal/resolve"
)

// Status is the lifecycle state of an index record.
type Status string

const (
	// StatusPending marks a provisional record awaiting confirmation.
	StatusPending Status = "pending"

	// StatusConfirmed means the ledger mutation succeeded and the handle was
	// recovered with exact confidence.
	StatusConfirmed Status = "confirmed"

	// StatusDegraded means the ledger mutation succeeded (or was at least
	// submitted) but the handle is a fallback or effects were never
	// confirmed. Degraded records are candidates for the reconciliation
	// sweep, never for silent discard.
	StatusDegraded Status = "degraded"

	// StatusFailed means the mutation never took effect on the ledger.
	// Safe for the caller to retry the whole operation.
	StatusFailed Status = "failed"

	// StatusFailedWriteback means the ledger mutation succeeded but the
	// confirmed record could not be written. A ledger-side mutation exists
	// with no off-chain trace; the sweep must repair it out of band.
	StatusFailedWriteback Status = "failed-writeback"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// ProvisionalRecord is the "intent to mutate" row created before the ledger
// call.
type ProvisionalRecord struct {
	ID             string
	EntityID       string
	Kind           ledger.OperationKind
	Actor          string
	PriceUnits     uint64
	IdempotencyKey string
	CreatedAt      time.Time
}

// Confirmation carries the resolved outcome written back after the ledger
// mutation.
type Confirmation struct {
	Status     Status // StatusConfirmed or StatusDegraded
	Handle     string
	Digest     ledger.MutationHandle
	Confidence resolve.Confidence
	Method     resolve.Method
	GasUsed    uint64
	At         time.Time
}

// Record is the read model combining provisional and confirmed fields.
type Record struct {
	ID             string
	EntityID       string
	Kind           ledger.OperationKind
	Actor          string
	PriceUnits     uint64
	IdempotencyKey string
	Status         Status

	// Confirmed fields, zero until a terminal transition.
	Handle     string
	Digest     ledger.MutationHandle
	Confidence resolve.Confidence
	Method     resolve.Method
	GasUsed    uint64
	FailReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Index is the off-chain store boundary consumed by the saga coordinator and
// the reconciliation sweep. Confirm and MarkFailed are idempotent: replaying
// the same terminal transition is a no-op, while a conflicting one fails with
// ErrTerminal.
type Index interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	// CreateProvisional inserts a pending record for the entity. Fails with
	// ErrSagaInFlight if a pending record for the same entity already
	// exists.
	CreateProvisional(ctx context.Context, rec *ProvisionalRecord) error

	// RecordDigest attaches the submitted mutation digest to a pending
	// record. Stored as soon as submit succeeds so a crashed or
	// write-back-failed saga can be replayed from the digest alone.
	RecordDigest(ctx context.Context, recordID string, digest ledger.MutationHandle) error

	// Confirm moves a record to StatusConfirmed or StatusDegraded and
	// attaches the resolved handle and cost metadata. Re-confirming with
	// the same digest merges metadata instead of erroring.
	Confirm(ctx context.Context, recordID string, conf Confirmation) error

	// MarkFailed moves a record to StatusFailed or StatusFailedWriteback.
	MarkFailed(ctx context.Context, recordID string, status Status, reason string) error

	// GetByEntity returns the most recent record for an entity.
	GetByEntity(ctx context.Context, entityID string) (*Record, error)

	// GetByID returns a record by its id.
	GetByID(ctx context.Context, recordID string) (*Record, error)

	// ListByStatus returns up to limit records in the given status, oldest
	// first. Feeds the reconciliation sweep.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Record, error)
}
