// Package resolve recovers the domain identifier created by a ledger mutation
// from its recorded effects.
//
// The ledger does not guarantee a single canonical way to find "the thing that
// was created": object types can be namespaced inconsistently, and events may
// or may not be emitted depending on the mutation path. Resolution is an
// ordered chain of strategies, first hit wins, and every result carries a
// confidence flag so callers can tell a guaranteed match from a best-effort
// one. A fallback handle must never be used as input to another mutation
// without re-verifying it still exists.
package resolve

import (
	"strings"

	"github.com/LeJamon/goMarketd/internal/ledger"
)

// Confidence indicates how the identifier was recovered.
type Confidence string

const (
	// ConfidenceExact means the identifier came from a guaranteed-correct
	// match (exact type tag or a created event payload).
	ConfidenceExact Confidence = "exact"

	// ConfidenceFallback means the identifier came from a heuristic and may
	// need re-resolution later.
	ConfidenceFallback Confidence = "fallback"
)

// Method names the strategy that produced the identifier.
type Method string

const (
	MethodExactType      Method = "exact-type"
	MethodCreatedEvent   Method = "created-event"
	MethodNamespaceScan  Method = "namespace-scan"
	MethodSoleCreation   Method = "sole-creation"
	MethodMutationDigest Method = "mutation-digest"
)

// ResolvedIdentifier is the outcome of resolution. Resolution never fails: at
// worst the mutation handle itself stands in for the created object, flagged
// as fallback.
type ResolvedIdentifier struct {
	EntityID   string
	Handle     string
	Method     Method
	Confidence Confidence
}

// DomainHint narrows which entity and event type tags are relevant for a
// given operation kind.
type DomainHint struct {
	// EntityID is the off-chain entity the mutation concerns, carried
	// through to the result.
	EntityID string

	// ObjectType is the fully qualified type tag of the object the
	// operation is expected to create, e.g. "marketplace::Listing".
	ObjectType string

	// CreatedEventType is the type tag of the event the operation is
	// expected to emit, e.g. "marketplace::ListingCreated".
	CreatedEventType string

	// EventIDField is the payload field of the created event that carries
	// the new object's id. Defaults to "object_id".
	EventIDField string

	// Namespace is the package substring used for the loose type scan.
	Namespace string
}

// HintFor builds the resolution hint for an operation kind against the given
// on-chain package namespace.
func HintFor(kind ledger.OperationKind, entityID, namespace string) DomainHint {
	hint := DomainHint{
		EntityID:     entityID,
		EventIDField: "object_id",
		Namespace:    namespace,
	}
	switch kind {
	case ledger.OpCreateAsset:
		hint.ObjectType = namespace + "::Asset"
		hint.CreatedEventType = namespace + "::AssetMinted"
	case ledger.OpCreateListing:
		hint.ObjectType = namespace + "::Listing"
		hint.CreatedEventType = namespace + "::ListingCreated"
	case ledger.OpExecutePurchase:
		hint.ObjectType = namespace + "::Receipt"
		hint.CreatedEventType = namespace + "::PurchaseExecuted"
	default:
		// Cancel and price-update mutations do not create a new object;
		// resolution normally lands on the digest fallback.
	}
	return hint
}

// Resolve applies the strategy chain to the effects and returns the recovered
// identifier. The chain, in order:
//
//  1. created entity whose type tag matches hint.ObjectType exactly
//  2. emitted event matching hint.CreatedEventType, id read from its payload
//  3. created entity whose type tag contains hint.Namespace
//  4. the sole created entity, if exactly one creation occurred
//  5. the mutation handle itself
//
// Strategies 1-2 yield exact confidence, 3-5 fallback.
func Resolve(effects *ledger.MutationEffects, hint DomainHint) ResolvedIdentifier {
	created := effects.Created()

	if hint.ObjectType != "" {
		for _, c := range created {
			if c.ObjectType == hint.ObjectType {
				return resolved(hint, c.ObjectID, MethodExactType, ConfidenceExact)
			}
		}
	}

	if hint.CreatedEventType != "" {
		if id, ok := idFromEvents(effects.Events, hint); ok {
			return resolved(hint, id, MethodCreatedEvent, ConfidenceExact)
		}
	}

	if hint.Namespace != "" {
		for _, c := range created {
			if strings.Contains(c.ObjectType, hint.Namespace) {
				return resolved(hint, c.ObjectID, MethodNamespaceScan, ConfidenceFallback)
			}
		}
	}

	if len(created) == 1 {
		return resolved(hint, created[0].ObjectID, MethodSoleCreation, ConfidenceFallback)
	}

	// Nothing matched. Stand the digest in for the handle rather than
	// failing: the mutation itself succeeded, only the identifier is
	// unresolved. Callers may re-resolve on a later index query.
	return resolved(hint, string(effects.Handle), MethodMutationDigest, ConfidenceFallback)
}

func idFromEvents(events []ledger.Event, hint DomainHint) (string, bool) {
	field := hint.EventIDField
	if field == "" {
		field = "object_id"
	}
	for _, ev := range events {
		if ev.Type != hint.CreatedEventType {
			continue
		}
		if raw, ok := ev.Payload[field]; ok {
			if id, ok := raw.(string); ok && id != "" {
				return id, true
			}
		}
	}
	return "", false
}

func resolved(hint DomainHint, handle string, method Method, conf Confidence) ResolvedIdentifier {
	return ResolvedIdentifier{
		EntityID:   hint.EntityID,
		Handle:     handle,
		Method:     method,
		Confidence: conf,
	}
}
