// Package pebble implements the saga journal on a Pebble database.
package pebble

import (
	"context"

	"github.com/cockroachdb/pebble"

	"github.com/LeJamon/goMarketd/internal/journal"
	"github.com/LeJamon/goMarketd/internal/journal/compression"
)

func init() {
	journal.RegisterBackend("pebble", func(path string, codec compression.Compressor) (journal.Journal, error) {
		return Open(path, codec, nil)
	})
}

// Journal is a Pebble-backed saga journal.
type Journal struct {
	db    *pebble.DB
	codec compression.Compressor
}

// Open opens (or creates) the journal database at path. opts may be nil; tests
// pass options with an in-memory filesystem.
func Open(path string, codec compression.Compressor, opts *pebble.Options) (*Journal, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db, codec: codec}, nil
}

func (j *Journal) Append(ctx context.Context, e journal.Entry) error {
	if j.db == nil {
		return journal.ErrClosed
	}
	value, err := journal.Encode(e, j.codec)
	if err != nil {
		return err
	}
	return j.db.Set(journal.Key(e.SagaID, e.Seq), value, pebble.Sync)
}

func (j *Journal) History(ctx context.Context, sagaID string) ([]journal.Entry, error) {
	if j.db == nil {
		return nil, journal.ErrClosed
	}

	start, end := journal.KeyRange(sagaID)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: end,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []journal.Entry
	for iter.First(); iter.Valid(); iter.Next() {
		// Copy the value out; it is only valid until the next iterator move.
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())

		entry, err := journal.Decode(value, j.codec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, journal.ErrNotFound
	}
	return entries, nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}
