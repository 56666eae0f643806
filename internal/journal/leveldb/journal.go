// Package leveldb implements the saga journal on a goleveldb database.
package leveldb

import (
	"context"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/LeJamon/goMarketd/internal/journal"
	"github.com/LeJamon/goMarketd/internal/journal/compression"
)

func init() {
	journal.RegisterBackend("leveldb", func(path string, codec compression.Compressor) (journal.Journal, error) {
		return Open(path, codec)
	})
}

// Journal is a goleveldb-backed saga journal.
type Journal struct {
	db    *leveldb.DB
	codec compression.Compressor
}

// Open opens (or creates) the journal database at path.
func Open(path string, codec compression.Compressor) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db, codec: codec}, nil
}

// OpenInMemory opens a journal on volatile in-memory storage. Test use only.
func OpenInMemory(codec compression.Compressor) (*Journal, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
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
	return j.db.Put(journal.Key(e.SagaID, e.Seq), value, &opt.WriteOptions{Sync: true})
}

func (j *Journal) History(ctx context.Context, sagaID string) ([]journal.Entry, error) {
	if j.db == nil {
		return nil, journal.ErrClosed
	}

	start, end := journal.KeyRange(sagaID)
	iter := j.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	defer iter.Release()

	var entries []journal.Entry
	for iter.Next() {
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
