package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusworks/bursar-engine/storage"
	"github.com/campusworks/bursar-engine/storage/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// KV CONTRACT TESTS
// =============================================================================

func TestStore_PutGet_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "acct/a/head", storage.Record("7")))

	got, err := store.Get(ctx, "acct/a/head")
	require.NoError(t, err)
	assert.Equal(t, storage.Record("7"), got)

	// Put is an upsert.
	require.NoError(t, store.Put(ctx, "acct/a/head", storage.Record("8")))
	got, err = store.Get(ctx, "acct/a/head")
	require.NoError(t, err)
	assert.Equal(t, storage.Record("8"), got)
}

func TestStore_Get_MissingKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestStore_ListPrefix_OrderedAndBounded(t *testing.T) {
	// GIVEN: zero-padded transaction keys plus unrelated neighbors
	// WHEN: listing the tx prefix
	// THEN: only the prefix's keys, in lexicographic (= sequence) order

	store := newTestStore(t)
	ctx := context.Background()

	for _, seq := range []int{3, 1, 12, 2} {
		key := fmt.Sprintf("acct/a/tx/%016d", seq)
		require.NoError(t, store.Put(ctx, key, storage.Record(fmt.Sprintf("tx-%d", seq))))
	}
	require.NoError(t, store.Put(ctx, "acct/a/head", storage.Record("12")))
	require.NoError(t, store.Put(ctx, "acct/b/tx/0000000000000001", storage.Record("other")))

	entries, err := store.ListPrefix(ctx, "acct/a/tx/")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	want := []string{"tx-1", "tx-2", "tx-3", "tx-12"}
	for i, e := range entries {
		assert.Equal(t, storage.Record(want[i]), e.Value)
	}
}

// =============================================================================
// ATOMICITY TESTS
// =============================================================================

func TestStore_Atomic_CommitsAllWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Atomic(ctx, func(kv storage.KV) error {
		if err := kv.Put(ctx, "a", storage.Record("1")); err != nil {
			return err
		}
		return kv.Put(ctx, "b", storage.Record("2"))
	})
	require.NoError(t, err)

	a, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, storage.Record("1"), a)
	b, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, storage.Record("2"), b)
}

func TestStore_Atomic_RollsBackOnError(t *testing.T) {
	// GIVEN: a function that writes then fails
	// THEN: nothing it wrote is observable afterwards

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "keep", storage.Record("before")))

	boom := errors.New("boom")
	err := store.Atomic(ctx, func(kv storage.KV) error {
		if err := kv.Put(ctx, "keep", storage.Record("dirty")); err != nil {
			return err
		}
		if err := kv.Put(ctx, "new", storage.Record("dirty")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	kept, err := store.Get(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, storage.Record("before"), kept)

	_, err = store.Get(ctx, "new")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestStore_Atomic_ReadsSeeUncommittedWrites(t *testing.T) {
	// The log relies on read-your-writes inside one atomic operation
	// (head bump then tx put within the same append).

	store := newTestStore(t)
	ctx := context.Background()

	err := store.Atomic(ctx, func(kv storage.KV) error {
		if err := kv.Put(ctx, "head", storage.Record("1")); err != nil {
			return err
		}
		got, err := kv.Get(ctx, "head")
		if err != nil {
			return err
		}
		assert.Equal(t, storage.Record("1"), got)
		return nil
	})
	require.NoError(t, err)
}

var _ storage.AtomicKV = (*sqlite.Store)(nil)
