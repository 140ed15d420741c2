/*
Package sqlite provides a SQLite-backed storage.AtomicKV.

PURPOSE:
  The default production store. Records live in a single key/value table;
  the ledger's key scheme (zero-padded sequence numbers) makes an ordinary
  BTREE primary key sufficient for ordered prefix scans.

WAL MODE:
  The database is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

ATOMICITY:
  Atomic() maps directly onto a SQL transaction. Commit or rollback - a
  partial write is never observable, which is what the account service
  relies on when pairing a log append with a materialized-view update.

SEE ALSO:
  - storage/kv.go: interface definition and key-ordering contract
  - storage/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/campusworks/bursar-engine/storage"
)

// Store implements storage.AtomicKV using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// KV OPERATIONS
// =============================================================================

func (s *Store) Put(ctx context.Context, key string, value storage.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, []byte(value))
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", storage.ErrUnavailable, key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (storage.Record, error) {
	return getRow(ctx, s.db, key)
}

func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]storage.Entry, error) {
	return listRows(ctx, s.db, prefix)
}

// Atomic executes fn within a SQL transaction.
func (s *Store) Atomic(ctx context.Context, fn func(storage.KV) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", storage.ErrUnavailable, err)
	}

	if err := fn(&txKV{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

type txKV struct {
	tx *sql.Tx
}

func (t *txKV) Put(ctx context.Context, key string, value storage.Record) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO records (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, []byte(value))
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", storage.ErrUnavailable, key, err)
	}
	return nil
}

func (t *txKV) Get(ctx context.Context, key string) (storage.Record, error) {
	return getRow(ctx, t.tx, key)
}

func (t *txKV) ListPrefix(ctx context.Context, prefix string) ([]storage.Entry, error) {
	return listRows(ctx, t.tx, prefix)
}

// =============================================================================
// SHARED QUERIES
// =============================================================================

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getRow(ctx context.Context, q querier, key string) (storage.Record, error) {
	var value []byte
	err := q.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", storage.ErrUnavailable, key, err)
	}
	return value, nil
}

func listRows(ctx context.Context, q querier, prefix string) ([]storage.Entry, error) {
	// Range scan on the primary key: [prefix, prefix+0xFF).
	// Our keys are ASCII, so appending 0xFF bounds the prefix range.
	rows, err := q.QueryContext(ctx,
		`SELECT key, value FROM records WHERE key >= ? AND key < ? ORDER BY key`,
		prefix, prefix+"\xff")
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", storage.ErrUnavailable, prefix, err)
	}
	defer rows.Close()

	var entries []storage.Entry
	for rows.Next() {
		var e storage.Entry
		var value []byte
		if err := rows.Scan(&e.Key, &value); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", storage.ErrUnavailable, err)
		}
		e.Value = value
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", storage.ErrUnavailable, prefix, err)
	}
	return entries, nil
}
