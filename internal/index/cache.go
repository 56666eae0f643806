package index

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/LeJamon/goMarketd/internal/ledger"
)

// Cached decorates an Index with an LRU read cache keyed by entity id.
// Writes invalidate the affected entries so readers never see a stale
// terminal state.
type Cached struct {
	inner Index

	byEntity *lru.Cache[string, *Record]
	byID     *lru.Cache[string, *Record]
}

// NewCached wraps inner with caches of the given capacity.
func NewCached(inner Index, size int) (*Cached, error) {
	byEntity, err := lru.New[string, *Record](size)
	if err != nil {
		return nil, err
	}
	byID, err := lru.New[string, *Record](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, byEntity: byEntity, byID: byID}, nil
}

func (c *Cached) Open(ctx context.Context) error  { return c.inner.Open(ctx) }
func (c *Cached) Close(ctx context.Context) error { return c.inner.Close(ctx) }
func (c *Cached) Ping(ctx context.Context) error  { return c.inner.Ping(ctx) }

func (c *Cached) CreateProvisional(ctx context.Context, rec *ProvisionalRecord) error {
	if err := c.inner.CreateProvisional(ctx, rec); err != nil {
		return err
	}
	c.byEntity.Remove(rec.EntityID)
	c.byID.Remove(rec.ID)
	return nil
}

func (c *Cached) RecordDigest(ctx context.Context, recordID string, digest ledger.MutationHandle) error {
	if err := c.inner.RecordDigest(ctx, recordID, digest); err != nil {
		return err
	}
	c.invalidate(ctx, recordID)
	return nil
}

func (c *Cached) Confirm(ctx context.Context, recordID string, conf Confirmation) error {
	if err := c.inner.Confirm(ctx, recordID, conf); err != nil {
		return err
	}
	c.invalidate(ctx, recordID)
	return nil
}

func (c *Cached) MarkFailed(ctx context.Context, recordID string, status Status, reason string) error {
	if err := c.inner.MarkFailed(ctx, recordID, status, reason); err != nil {
		return err
	}
	c.invalidate(ctx, recordID)
	return nil
}

func (c *Cached) GetByEntity(ctx context.Context, entityID string) (*Record, error) {
	if rec, ok := c.byEntity.Get(entityID); ok {
		return rec, nil
	}
	rec, err := c.inner.GetByEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	// Only terminal records are safe to cache: a pending record changes.
	if rec.Status.Terminal() {
		c.byEntity.Add(entityID, rec)
	}
	return rec, nil
}

func (c *Cached) GetByID(ctx context.Context, recordID string) (*Record, error) {
	if rec, ok := c.byID.Get(recordID); ok {
		return rec, nil
	}
	rec, err := c.inner.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		c.byID.Add(recordID, rec)
	}
	return rec, nil
}

func (c *Cached) ListByStatus(ctx context.Context, status Status, limit int) ([]*Record, error) {
	return c.inner.ListByStatus(ctx, status, limit)
}

func (c *Cached) invalidate(ctx context.Context, recordID string) {
	c.byID.Remove(recordID)
	if rec, err := c.inner.GetByID(ctx, recordID); err == nil {
		c.byEntity.Remove(rec.EntityID)
	} else {
		// Can't map the record to its entity; drop everything rather than
		// serve a stale entity entry.
		c.byEntity.Purge()
	}
}
