/*
locks.go - Per-account write serialization

PURPOSE:
  Mutations on the same account must not interleave: sequence assignment,
  idempotency checks, and the materialized view update all assume a single
  writer per account. Different accounts proceed concurrently.

MECHANISM:
  A slot per account, a buffered channel of capacity one. Acquire either
  takes the slot, times out with ErrAccountBusy, or aborts with the
  caller's context error. The bounded wait keeps a stuck writer from
  piling up goroutines behind it.
*/
package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/campusworks/bursar-engine/ledger"
)

type lockTable struct {
	mu      sync.Mutex
	slots   map[ledger.AccountID]chan struct{}
	timeout time.Duration
}

func newLockTable(timeout time.Duration) *lockTable {
	return &lockTable{
		slots:   make(map[ledger.AccountID]chan struct{}),
		timeout: timeout,
	}
}

func (t *lockTable) slot(id ledger.AccountID) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[id]
	if !ok {
		s = make(chan struct{}, 1)
		t.slots[id] = s
	}
	return s
}

// Acquire takes the account's write slot. The returned release function
// must be called exactly once.
func (t *lockTable) Acquire(ctx context.Context, id ledger.AccountID) (release func(), err error) {
	s := t.slot(id)

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-timer.C:
		return nil, ledger.ErrAccountBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
