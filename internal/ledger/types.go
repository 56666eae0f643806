// Package ledger wraps the external ledger behind a submit/query capability.
// The gateway treats the ledger as authoritative but eventually visible:
// effects of an accepted mutation may not be queryable for some period after
// submission, and callers are expected to poll.
package ledger

import "time"

// OperationKind identifies the marketplace mutation being performed.
type OperationKind string

const (
	OpCreateAsset        OperationKind = "create-asset"
	OpCreateListing      OperationKind = "create-listing"
	OpUpdateListingPrice OperationKind = "update-listing-price"
	OpCancelListing      OperationKind = "cancel-listing"
	OpExecutePurchase    OperationKind = "execute-purchase"
)

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	switch k {
	case OpCreateAsset, OpCreateListing, OpUpdateListingPrice, OpCancelListing, OpExecutePurchase:
		return true
	}
	return false
}

// MutationHandle identifies an accepted mutation (the transaction digest).
type MutationHandle string

// MutationRequest describes a single signed state-changing operation.
// It is built by the caller and immutable once submitted.
type MutationRequest struct {
	// Kind selects the marketplace operation. The kind is decided by the
	// caller before the saga starts; it is never inferred mid-flight.
	Kind OperationKind

	// Actor is the wallet address that signed the mutation.
	Actor string

	// EntityID is the off-chain entity (asset or listing) this mutation
	// concerns. Used to key provisional records and advisory locks.
	EntityID string

	// TargetHandle is the on-chain object acted upon, when the operation
	// targets an existing object (cancel, price update, purchase).
	TargetHandle string

	// PriceUnits is the price in base units for listing and purchase
	// operations. Zero for operations without a price.
	PriceUnits uint64

	// GasBudget caps the gas spend for the mutation.
	GasBudget uint64

	// IdempotencyKey deduplicates saga starts for the same intent.
	IdempotencyKey string

	// SignedPayload is the wallet-signed transaction blob, opaque to this
	// system.
	SignedPayload []byte
}

// ChangeKind classifies an entity change recorded in mutation effects.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeMutated ChangeKind = "mutated"
	ChangeDeleted ChangeKind = "deleted"
)

// EntityChange is a single created/mutated/deleted entity in the effects.
type EntityChange struct {
	Change     ChangeKind `json:"change"`
	ObjectType string     `json:"object_type"`
	ObjectID   string     `json:"object_id"`
}

// Event is a typed event emitted by a mutation, with a structured payload.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// GasSummary reports the cost of an applied mutation.
type GasSummary struct {
	ComputationCost uint64 `json:"computation_cost"`
	StorageCost     uint64 `json:"storage_cost"`
	StorageRebate   uint64 `json:"storage_rebate"`
}

// Total returns the net gas cost of the mutation.
func (g GasSummary) Total() uint64 {
	cost := g.ComputationCost + g.StorageCost
	if g.StorageRebate > cost {
		return 0
	}
	return cost - g.StorageRebate
}

// MutationEffects is the ledger's record of what a mutation did. It is read,
// never written, by this system.
type MutationEffects struct {
	Handle  MutationHandle `json:"handle"`
	Changes []EntityChange `json:"changes"`
	Events  []Event        `json:"events"`
	Gas     GasSummary     `json:"gas"`

	// Timestamp is the ledger close time for the mutation, if reported.
	Timestamp time.Time `json:"timestamp"`
}

// Created returns the created-entity changes in effect order.
func (e *MutationEffects) Created() []EntityChange {
	var out []EntityChange
	for _, c := range e.Changes {
		if c.Change == ChangeCreated {
			out = append(out, c)
		}
	}
	return out
}
