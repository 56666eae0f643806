// Package journal is the local append-only record of saga transitions.
//
// Every state transition a saga makes is appended here before and after the
// off-chain index is touched, so that a ledger mutation always leaves a local
// trace even when the index write-back fails. Entries are never rewritten;
// a superseding entry is appended instead.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeJamon/goMarketd/internal/journal/compression"
)

var (
	// ErrClosed is returned when operating on a closed journal.
	ErrClosed = errors.New("journal is closed")

	// ErrNotFound is returned when a saga has no journal entries.
	ErrNotFound = errors.New("no journal entries for saga")
)

// Entry is one recorded saga transition.
type Entry struct {
	SagaID   string    `json:"saga_id"`
	Seq      uint64    `json:"seq"`
	State    string    `json:"state"`
	RecordID string    `json:"record_id,omitempty"`
	EntityID string    `json:"entity_id,omitempty"`
	Handle   string    `json:"handle,omitempty"`
	Digest   string    `json:"digest,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Journal stores saga transition entries.
type Journal interface {
	// Append writes one entry. Seq must be strictly increasing per saga;
	// the coordinator assigns it.
	Append(ctx context.Context, e Entry) error

	// History returns all entries for a saga in append order.
	History(ctx context.Context, sagaID string) ([]Entry, error)

	Close() error
}

// Config selects the journal backend.
type Config struct {
	// Backend is "pebble" or "leveldb".
	Backend string

	// Path is the on-disk directory for the journal database.
	Path string

	// Compression is "none" or "lz4".
	Compression string
}

// Opener builds a journal backend at the given path with the given codec.
type Opener func(path string, codec compression.Compressor) (Journal, error)

var openers = map[string]Opener{}

// RegisterBackend makes a backend available to Open. Called from backend
// package init functions.
func RegisterBackend(name string, opener Opener) {
	openers[name] = opener
}

// Open builds the configured journal backend.
func Open(cfg Config) (Journal, error) {
	codec, err := compression.ForName(cfg.Compression)
	if err != nil {
		return nil, err
	}
	opener, ok := openers[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported journal backend %q", cfg.Backend)
	}
	return opener(cfg.Path, codec)
}

// Key builds the storage key for a saga entry: "saga/<id>/<seq big-endian>".
// Big-endian sequence numbers keep per-saga entries in append order under
// lexicographic iteration.
func Key(sagaID string, seq uint64) []byte {
	key := make([]byte, 0, len("saga/")+len(sagaID)+1+8)
	key = append(key, "saga/"...)
	key = append(key, sagaID...)
	key = append(key, '/')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

// KeyRange returns the [start, end) key bounds covering all entries of a saga.
func KeyRange(sagaID string) (start, end []byte) {
	start = Key(sagaID, 0)
	end = Key(sagaID, ^uint64(0))
	// The upper bound key itself is unreachable: sequences start at 1 and a
	// saga never reaches 2^64 transitions.
	return start, end
}

// Encode serializes an entry through the codec.
func Encode(e Entry, codec compression.Compressor) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding journal entry: %w", err)
	}
	return codec.Compress(raw)
}

// Decode deserializes an entry through the codec.
func Decode(data []byte, codec compression.Compressor) (Entry, error) {
	raw, err := codec.Decompress(data)
	if err != nil {
		return Entry{}, fmt.Errorf("decoding journal entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decoding journal entry: %w", err)
	}
	return e, nil
}
