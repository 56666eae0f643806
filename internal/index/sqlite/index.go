// Package sqlite implements the off-chain index on an embedded SQLite
// database. Used for standalone operation and tests; the Postgres driver is
// the production deployment.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/LeJamon/goMarketd/internal/index"
	"github.com/LeJamon/goMarketd/internal/ledger"
	"github.com/LeJamon/goMarketd/internal/resolve"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id              TEXT PRIMARY KEY,
	entity_id       TEXT NOT NULL,
	kind            TEXT NOT NULL,
	actor           TEXT NOT NULL,
	price_units     INTEGER NOT NULL DEFAULT 0,
	idempotency_key TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	handle          TEXT NOT NULL DEFAULT '',
	digest          TEXT NOT NULL DEFAULT '',
	confidence      TEXT NOT NULL DEFAULT '',
	method          TEXT NOT NULL DEFAULT '',
	gas_used        INTEGER NOT NULL DEFAULT 0,
	fail_reason     TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_entity ON records (entity_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_status ON records (status, created_at);
`

func init() {
	index.RegisterDriver(index.DriverSQLite, func(dsn string) index.Index {
		return New(dsn)
	})
}

// Index is a SQLite-backed off-chain index.
type Index struct {
	dsn string
	db  *sql.DB
}

// New creates an unopened SQLite index for the given DSN (a file path or
// ":memory:").
func New(dsn string) *Index {
	return &Index{dsn: dsn}
}

// Open opens the database file and ensures the schema exists.
func (x *Index) Open(ctx context.Context) error {
	db, err := sql.Open("sqlite", x.dsn)
	if err != nil {
		return fmt.Errorf("opening sqlite index: %w", err)
	}
	// The driver opens connections lazily; a single connection avoids
	// table-lock races between concurrent sagas.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("creating index schema: %w", err)
	}
	x.db = db
	return nil
}

func (x *Index) Close(ctx context.Context) error {
	if x.db == nil {
		return nil
	}
	err := x.db.Close()
	x.db = nil
	return err
}

func (x *Index) Ping(ctx context.Context) error {
	if x.db == nil {
		return index.ErrClosed
	}
	if err := x.db.PingContext(ctx); err != nil {
		return index.Unavailable("ping", err)
	}
	return nil
}

func (x *Index) CreateProvisional(ctx context.Context, rec *index.ProvisionalRecord) error {
	if x.db == nil {
		return index.ErrClosed
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return index.Unavailable("begin", err)
	}
	defer tx.Rollback()

	var pending int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE entity_id = ? AND status = ?`,
		rec.EntityID, string(index.StatusPending),
	).Scan(&pending)
	if err != nil {
		return index.Unavailable("count pending", err)
	}
	if pending > 0 {
		return index.ErrSagaInFlight
	}

	now := rec.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, entity_id, kind, actor, price_units, idempotency_key, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EntityID, string(rec.Kind), rec.Actor, int64(rec.PriceUnits),
		rec.IdempotencyKey, string(index.StatusPending), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return index.Unavailable("insert provisional", err)
	}

	if err := tx.Commit(); err != nil {
		return index.Unavailable("commit", err)
	}
	return nil
}

func (x *Index) RecordDigest(ctx context.Context, recordID string, digest ledger.MutationHandle) error {
	if x.db == nil {
		return index.ErrClosed
	}
	res, err := x.db.ExecContext(ctx,
		`UPDATE records SET digest = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(digest), time.Now().UTC().UnixNano(), recordID, string(index.StatusPending),
	)
	if err != nil {
		return index.Unavailable("record digest", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return index.ErrNotFound
	}
	return nil
}

func (x *Index) Confirm(ctx context.Context, recordID string, conf index.Confirmation) error {
	if x.db == nil {
		return index.ErrClosed
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return index.Unavailable("begin", err)
	}
	defer tx.Rollback()

	var status, digest string
	err = tx.QueryRowContext(ctx,
		`SELECT status, digest FROM records WHERE id = ?`, recordID,
	).Scan(&status, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return index.ErrNotFound
	}
	if err != nil {
		return index.Unavailable("load record", err)
	}

	if err := index.CheckConfirmable(index.Status(status), digest, conf); err != nil {
		return err
	}

	at := conf.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE records SET status = ?, handle = ?, digest = ?, confidence = ?, method = ?, gas_used = ?, updated_at = ?
		 WHERE id = ?`,
		string(conf.Status), conf.Handle, string(conf.Digest), string(conf.Confidence),
		string(conf.Method), int64(conf.GasUsed), at.UnixNano(), recordID,
	)
	if err != nil {
		return index.Unavailable("confirm record", err)
	}

	if err := tx.Commit(); err != nil {
		return index.Unavailable("commit", err)
	}
	return nil
}

func (x *Index) MarkFailed(ctx context.Context, recordID string, status index.Status, reason string) error {
	if x.db == nil {
		return index.ErrClosed
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return index.Unavailable("begin", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM records WHERE id = ?`, recordID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return index.ErrNotFound
	}
	if err != nil {
		return index.Unavailable("load record", err)
	}

	if err := index.CheckFailable(index.Status(current), status); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE records SET status = ?, fail_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), reason, time.Now().UTC().UnixNano(), recordID,
	)
	if err != nil {
		return index.Unavailable("mark failed", err)
	}

	if err := tx.Commit(); err != nil {
		return index.Unavailable("commit", err)
	}
	return nil
}

func (x *Index) GetByEntity(ctx context.Context, entityID string) (*index.Record, error) {
	if x.db == nil {
		return nil, index.ErrClosed
	}
	row := x.db.QueryRowContext(ctx,
		selectCols+` FROM records WHERE entity_id = ? ORDER BY created_at DESC LIMIT 1`, entityID)
	return scanRecord(row)
}

func (x *Index) GetByID(ctx context.Context, recordID string) (*index.Record, error) {
	if x.db == nil {
		return nil, index.ErrClosed
	}
	row := x.db.QueryRowContext(ctx, selectCols+` FROM records WHERE id = ?`, recordID)
	return scanRecord(row)
}

func (x *Index) ListByStatus(ctx context.Context, status index.Status, limit int) ([]*index.Record, error) {
	if x.db == nil {
		return nil, index.ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := x.db.QueryContext(ctx,
		selectCols+` FROM records WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, index.Unavailable("list by status", err)
	}
	defer rows.Close()

	var out []*index.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, index.Unavailable("list by status", err)
	}
	return out, nil
}

const selectCols = `SELECT id, entity_id, kind, actor, price_units, idempotency_key, status,
	handle, digest, confidence, method, gas_used, fail_reason, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*index.Record, error) {
	var rec index.Record
	var kind, status, digest, confidence, method string
	var priceUnits, gasUsed, createdAt, updatedAt int64

	err := row.Scan(&rec.ID, &rec.EntityID, &kind, &rec.Actor, &priceUnits,
		&rec.IdempotencyKey, &status, &rec.Handle, &digest, &confidence,
		&method, &gasUsed, &rec.FailReason, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, index.ErrNotFound
	}
	if err != nil {
		return nil, index.Unavailable("scan record", err)
	}

	rec.Kind = ledger.OperationKind(kind)
	rec.Status = index.Status(status)
	rec.Digest = ledger.MutationHandle(digest)
	rec.Confidence = resolve.Confidence(confidence)
	rec.Method = resolve.Method(method)
	rec.PriceUnits = uint64(priceUnits)
	rec.GasUsed = uint64(gasUsed)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &rec, nil
}
