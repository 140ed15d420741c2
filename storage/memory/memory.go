// Package memory provides an in-memory storage.AtomicKV (for testing/dev).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/campusworks/bursar-engine/storage"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func New() *Store {
	return &Store{records: make(map[string][]byte)}
}

func (s *Store) Put(_ context.Context, key string, value storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(key, value)
	return nil
}

func (s *Store) Get(_ context.Context, key string) (storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getFrom(s.records, key)
}

func (s *Store) ListPrefix(_ context.Context, prefix string) ([]storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listFrom(s.records, prefix), nil
}

// Atomic executes fn against a transactional view.
// Simulated with a snapshot + rollback on error, like a database transaction.
func (s *Store) Atomic(_ context.Context, fn func(storage.KV) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string][]byte, len(s.records))
	for k, v := range s.records {
		snapshot[k] = v
	}

	if err := fn(&txView{parent: s}); err != nil {
		s.records = snapshot
		return err
	}
	return nil
}

func (s *Store) putLocked(key string, value storage.Record) {
	buf := make([]byte, len(value))
	copy(buf, value)
	s.records[key] = buf
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView writes directly into the parent; the parent's snapshot handles
// rollback. Only valid while the parent's lock is held.
type txView struct {
	parent *Store
}

func (v *txView) Put(_ context.Context, key string, value storage.Record) error {
	v.parent.putLocked(key, value)
	return nil
}

func (v *txView) Get(_ context.Context, key string) (storage.Record, error) {
	return getFrom(v.parent.records, key)
}

func (v *txView) ListPrefix(_ context.Context, prefix string) ([]storage.Entry, error) {
	return listFrom(v.parent.records, prefix), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func getFrom(records map[string][]byte, key string) (storage.Record, error) {
	value, ok := records[key]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	return buf, nil
}

func listFrom(records map[string][]byte, prefix string) []storage.Entry {
	var entries []storage.Entry
	for k, v := range records {
		if strings.HasPrefix(k, prefix) {
			buf := make([]byte, len(v))
			copy(buf, v)
			entries = append(entries, storage.Entry{Key: k, Value: buf})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}
