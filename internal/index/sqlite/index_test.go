package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goMarketd/internal/index"
	"github.com/LeJamon/goMarketd/internal/ledger"
	"github.com/LeJamon/goMarketd/internal/resolve"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	x := New(":memory:")
	require.NoError(t, x.Open(context.Background()))
	t.Cleanup(func() { x.Close(context.Background()) })
	return x
}

func provisional(id, entity string) *index.ProvisionalRecord {
	return &index.ProvisionalRecord{
		ID:         id,
		EntityID:   entity,
		Kind:       ledger.OpCreateListing,
		Actor:      "0xseller",
		PriceUnits: 42,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	x := openTestIndex(t)

	require.NoError(t, x.CreateProvisional(ctx, provisional("r1", "E1")))

	rec, err := x.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, index.StatusPending, rec.Status)
	assert.Equal(t, "E1", rec.EntityID)
	assert.Equal(t, uint64(42), rec.PriceUnits)

	require.NoError(t, x.RecordDigest(ctx, "r1", "TX1"))
	rec, err = x.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, ledger.MutationHandle("TX1"), rec.Digest)

	conf := index.Confirmation{
		Status:     index.StatusConfirmed,
		Handle:     "L1",
		Digest:     "TX1",
		Confidence: resolve.ConfidenceExact,
		Method:     resolve.MethodExactType,
		GasUsed:    1000,
		At:         time.Now().UTC(),
	}
	require.NoError(t, x.Confirm(ctx, "r1", conf))

	rec, err = x.GetByEntity(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, index.StatusConfirmed, rec.Status)
	assert.Equal(t, "L1", rec.Handle)
	assert.Equal(t, resolve.ConfidenceExact, rec.Confidence)
	assert.Equal(t, uint64(1000), rec.GasUsed)

	// Replaying the same confirmation is a no-op, not an error.
	require.NoError(t, x.Confirm(ctx, "r1", conf))

	// A conflicting confirmation is refused.
	conf.Digest = "TXOTHER"
	require.ErrorIs(t, x.Confirm(ctx, "r1", conf), index.ErrTerminal)
}

func TestOneSagaPerEntity(t *testing.T) {
	ctx := context.Background()
	x := openTestIndex(t)

	require.NoError(t, x.CreateProvisional(ctx, provisional("r1", "E1")))
	require.ErrorIs(t, x.CreateProvisional(ctx, provisional("r2", "E1")), index.ErrSagaInFlight)

	// A different entity is unaffected.
	require.NoError(t, x.CreateProvisional(ctx, provisional("r3", "E2")))

	// Once the record is terminal a new saga for the entity may start.
	require.NoError(t, x.MarkFailed(ctx, "r1", index.StatusFailed, "declined"))
	require.NoError(t, x.CreateProvisional(ctx, provisional("r4", "E1")))
}

func TestMarkFailed(t *testing.T) {
	ctx := context.Background()
	x := openTestIndex(t)

	require.NoError(t, x.CreateProvisional(ctx, provisional("r1", "E1")))
	require.NoError(t, x.MarkFailed(ctx, "r1", index.StatusFailedWriteback, "index down"))

	rec, err := x.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, index.StatusFailedWriteback, rec.Status)
	assert.Equal(t, "index down", rec.FailReason)

	// Same transition again is a no-op; a different one is refused.
	require.NoError(t, x.MarkFailed(ctx, "r1", index.StatusFailedWriteback, "again"))
	require.ErrorIs(t, x.MarkFailed(ctx, "r1", index.StatusFailed, "nope"), index.ErrTerminal)

	// A failed-writeback record can still be confirmed by the sweep.
	require.NoError(t, x.Confirm(ctx, "r1", index.Confirmation{
		Status: index.StatusConfirmed, Handle: "L1", Digest: "TX1",
	}))
}

func TestGetByEntityReturnsLatest(t *testing.T) {
	ctx := context.Background()
	x := openTestIndex(t)

	older := provisional("r1", "E1")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, x.CreateProvisional(ctx, older))
	require.NoError(t, x.MarkFailed(ctx, "r1", index.StatusFailed, "declined"))

	require.NoError(t, x.CreateProvisional(ctx, provisional("r2", "E1")))

	rec, err := x.GetByEntity(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, "r2", rec.ID)
}

func TestListByStatus(t *testing.T) {
	ctx := context.Background()
	x := openTestIndex(t)

	for i, entity := range []string{"E1", "E2", "E3"} {
		rec := provisional(string(rune('a'+i)), entity)
		rec.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		require.NoError(t, x.CreateProvisional(ctx, rec))
	}
	require.NoError(t, x.MarkFailed(ctx, "a", index.StatusFailedWriteback, "down"))
	require.NoError(t, x.MarkFailed(ctx, "b", index.StatusFailedWriteback, "down"))

	out, err := x.ListByStatus(ctx, index.StatusFailedWriteback, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID) // oldest first
	assert.Equal(t, "b", out[1].ID)

	pending, err := x.ListByStatus(ctx, index.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c", pending[0].ID)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	x := openTestIndex(t)

	_, err := x.GetByID(ctx, "missing")
	require.ErrorIs(t, err, index.ErrNotFound)
	_, err = x.GetByEntity(ctx, "missing")
	require.ErrorIs(t, err, index.ErrNotFound)
	require.ErrorIs(t, x.RecordDigest(ctx, "missing", "TX"), index.ErrNotFound)
	require.ErrorIs(t, x.Confirm(ctx, "missing", index.Confirmation{Status: index.StatusConfirmed}), index.ErrNotFound)
	require.ErrorIs(t, x.MarkFailed(ctx, "missing", index.StatusFailed, ""), index.ErrNotFound)
}

func TestOpenThroughRegistry(t *testing.T) {
	x, err := index.Open(index.Config{Driver: index.DriverSQLite, DSN: ":memory:", CacheSize: 8})
	require.NoError(t, err)
	require.NoError(t, x.Open(context.Background()))
	defer x.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, x.CreateProvisional(ctx, provisional("r1", "E1")))
	require.NoError(t, x.Confirm(ctx, "r1", index.Confirmation{
		Status: index.StatusConfirmed, Handle: "L1", Digest: "TX1",
	}))

	// Served from cache after the first read.
	for i := 0; i < 2; i++ {
		rec, err := x.GetByEntity(ctx, "E1")
		require.NoError(t, err)
		assert.Equal(t, "L1", rec.Handle)
	}
}
