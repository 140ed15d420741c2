/*
Package storage defines the durable-store collaborator interface.

PURPOSE:
  The ledger core does not own persistence. It talks to a narrow key/value
  contract - Put, Get, ListPrefix - and the concrete mapping to SQLite rows,
  PostgreSQL tables, or an in-memory map is entirely the implementation's
  concern. Keeping the surface this small is what lets the same ledger code
  run against every backend unchanged.

KEY ORDERING CONTRACT:
  ListPrefix returns entries in lexicographic key order. The transaction log
  relies on this: sequence numbers are zero-padded into keys so that key
  order IS sequence order.

ATOMICITY:
  Atomic(fn) executes fn against a view of the store where either every
  write is committed or none are. The account service uses this to commit a
  log append and the materialized account update as one unit - a crash
  between them must never be observable.

IMPLEMENTATIONS:
  - storage/memory:   in-memory map (tests, dev)
  - storage/sqlite:   SQLite with WAL (default production store)
  - storage/postgres: PostgreSQL via pgx

SEE ALSO:
  - ledger/log.go: the transaction log built on this contract
*/
package storage

import (
	"context"
	"errors"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrKeyNotFound is returned by Get when no record exists for the key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrUnavailable wraps backend I/O failures. Callers must treat the
	// operation as not applied and retry with the same idempotency reference.
	ErrUnavailable = errors.New("store unavailable")
)

// =============================================================================
// KV - The narrow durable-store contract
// =============================================================================

// Record is an opaque serialized value. The ledger stores JSON; the
// backend never inspects it.
type Record []byte

// Entry pairs a key with its record, as returned by ListPrefix.
type Entry struct {
	Key   string
	Value Record
}

// KV is the durable-store collaborator consumed by the ledger core.
// Every operation is atomic and durable on its own.
type KV interface {
	// Put writes the record under key, overwriting any previous value.
	Put(ctx context.Context, key string, value Record) error

	// Get returns the record stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// ListPrefix returns all entries whose key starts with prefix,
	// in lexicographic key order.
	ListPrefix(ctx context.Context, prefix string) ([]Entry, error)
}

// AtomicKV extends KV with an all-or-nothing write boundary.
type AtomicKV interface {
	KV

	// Atomic executes fn against a transactional view. If fn returns an
	// error, no write made through the view is observable afterwards.
	Atomic(ctx context.Context, fn func(KV) error) error
}
