/*
Package postgres provides a PostgreSQL-backed storage.AtomicKV using pgx.

Same contract as storage/sqlite; Atomic() maps onto a pgx transaction.
Select it with storage.driver=postgres and a DSN in the server config.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusworks/bursar-engine/storage"
)

// Store implements storage.AtomicKV using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and ensures the records table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			key   TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		)`)
	return err
}

// =============================================================================
// KV OPERATIONS
// =============================================================================

func (s *Store) Put(ctx context.Context, key string, value storage.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, []byte(value))
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", storage.ErrUnavailable, key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (storage.Record, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM records WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", storage.ErrUnavailable, key, err)
	}
	return value, nil
}

func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]storage.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM records WHERE key >= $1 AND key < $2 ORDER BY key`,
		prefix, prefix+"\xff")
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", storage.ErrUnavailable, prefix, err)
	}
	defer rows.Close()
	return collect(rows, prefix)
}

// Atomic executes fn within a pgx transaction.
func (s *Store) Atomic(ctx context.Context, fn func(storage.KV) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", storage.ErrUnavailable, err)
	}

	if err := fn(&txKV{tx: tx}); err != nil {
		tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

type txKV struct {
	tx pgx.Tx
}

func (t *txKV) Put(ctx context.Context, key string, value storage.Record) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO records (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, []byte(value))
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", storage.ErrUnavailable, key, err)
	}
	return nil
}

func (t *txKV) Get(ctx context.Context, key string) (storage.Record, error) {
	var value []byte
	err := t.tx.QueryRow(ctx, `SELECT value FROM records WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", storage.ErrUnavailable, key, err)
	}
	return value, nil
}

func (t *txKV) ListPrefix(ctx context.Context, prefix string) ([]storage.Entry, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT key, value FROM records WHERE key >= $1 AND key < $2 ORDER BY key`,
		prefix, prefix+"\xff")
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", storage.ErrUnavailable, prefix, err)
	}
	defer rows.Close()
	return collect(rows, prefix)
}

func collect(rows pgx.Rows, prefix string) ([]storage.Entry, error) {
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
