// Package storetest holds the behavioural tests every docstore.Store adapter
// must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"reflection-chat-be/pkg/docstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The store is closed by the caller.
type Factory func(t *testing.T) docstore.Store

const waitFor = 3 * time.Second

func Run(t *testing.T, newStore Factory) {
	t.Run("set get update delete", func(t *testing.T) { testCRUD(t, newStore(t)) })
	t.Run("conditional update", func(t *testing.T) { testUpdateIf(t, newStore(t)) })
	t.Run("server timestamps increase", func(t *testing.T) { testServerTimestamps(t, newStore(t)) })
	t.Run("query ordering", func(t *testing.T) { testQueryOrdering(t, newStore(t)) })
	t.Run("delete collection", func(t *testing.T) { testDeleteCollection(t, newStore(t)) })
	t.Run("invalid paths", func(t *testing.T) { testInvalidPaths(t, newStore(t)) })
	t.Run("watch delivers snapshots", func(t *testing.T) { testWatch(t, newStore(t)) })
	t.Run("unsubscribe is idempotent", func(t *testing.T) { testUnsubscribe(t, newStore(t)) })
	t.Run("concurrent adds are lossless", func(t *testing.T) { testConcurrentAdds(t, newStore(t)) })
}

func testCRUD(t *testing.T, store docstore.Store) {
	defer store.Close()
	ctx := context.Background()
	path := docstore.Path("users/u1/chatHistory/c1")

	_, err := store.Get(ctx, path)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.ErrorIs(t, store.Update(ctx, path, docstore.Fields{"title": "x"}), docstore.ErrNotFound)

	require.NoError(t, store.Set(ctx, path, docstore.Fields{"title": "", "userId": "u1"}))
	require.NoError(t, store.Update(ctx, path, docstore.Fields{"title": "Hello"}))

	snap, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "c1", snap.ID)
	assert.Equal(t, "Hello", snap.Data["title"])
	assert.Equal(t, "u1", snap.Data["userId"])

	require.NoError(t, store.Delete(ctx, path))
	require.NoError(t, store.Delete(ctx, path))
	_, err = store.Get(ctx, path)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func testUpdateIf(t *testing.T, store docstore.Store) {
	defer store.Close()
	ctx := context.Background()
	path := docstore.Path("users/u1/chatHistory/c1")
	at := time.Date(2024, 5, 1, 9, 0, 0, 123456789, time.UTC)

	pre := docstore.Precondition{Field: "updatedAt", Value: at}
	assert.ErrorIs(t, store.UpdateIf(ctx, path, pre, docstore.Fields{"title": "x"}), docstore.ErrNotFound)

	require.NoError(t, store.Set(ctx, path, docstore.Fields{"title": "", "updatedAt": at}))
	require.NoError(t, store.UpdateIf(ctx, path, pre, docstore.Fields{
		"title":     "first",
		"updatedAt": docstore.ServerTimestamp,
	}))

	// updatedAt moved on, so the same precondition no longer holds
	err := store.UpdateIf(ctx, path, pre, docstore.Fields{"title": "stale"})
	assert.ErrorIs(t, err, docstore.ErrPreconditionFailed)

	snap, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "first", snap.Data["title"])

	current := docstore.Precondition{Field: "updatedAt", Value: snap.Data["updatedAt"]}
	require.NoError(t, store.UpdateIf(ctx, path, current, docstore.Fields{"title": "second"}))

	snap, err = store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "second", snap.Data["title"])
}

func testServerTimestamps(t *testing.T, store docstore.Store) {
	defer store.Close()
	ctx := context.Background()
	coll := docstore.Path("users/u1/chatHistory/c1/messages")

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := store.Add(ctx, coll, docstore.Fields{"n": int64(i), "createdAt": docstore.ServerTimestamp})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	snaps, err := store.Query(ctx, docstore.Query{Collection: coll, OrderBy: "createdAt"})
	require.NoError(t, err)
	require.Len(t, snaps, 5)

	var prev time.Time
	for i, snap := range snaps {
		assert.Equal(t, ids[i], snap.ID)
		ts, ok := snap.Data["createdAt"].(time.Time)
		require.True(t, ok, "createdAt should be a time.Time, got %T", snap.Data["createdAt"])
		assert.True(t, ts.After(prev))
		prev = ts
	}
}

func testQueryOrdering(t *testing.T, store docstore.Store) {
	defer store.Close()
	ctx := context.Background()
	coll := docstore.Path("items")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Set(ctx, coll.Child("a"), docstore.Fields{"at": base.Add(2 * time.Minute)}))
	require.NoError(t, store.Set(ctx, coll.Child("b"), docstore.Fields{"at": base}))
	require.NoError(t, store.Set(ctx, coll.Child("c"), docstore.Fields{"at": base.Add(time.Minute)}))
	// same timestamp as b, inserted later
	require.NoError(t, store.Set(ctx, coll.Child("d"), docstore.Fields{"at": base}))

	asc, err := store.Query(ctx, docstore.Query{Collection: coll, OrderBy: "at"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d", "c", "a"}, ids(asc))

	desc, err := store.Query(ctx, docstore.Query{Collection: coll, OrderBy: "at", Direction: docstore.Desc, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(desc))

	empty, err := store.Query(ctx, docstore.Query{Collection: "nothing", OrderBy: "at"})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testDeleteCollection(t *testing.T, store docstore.Store) {
	defer store.Close()
	ctx := context.Background()
	coll := docstore.Path("users/u1/chatHistory/c1/messages")
	parent := docstore.Path("users/u1/chatHistory/c1")

	require.NoError(t, store.Set(ctx, parent, docstore.Fields{"title": "t"}))
	for i := 0; i < 3; i++ {
		_, err := store.Add(ctx, coll, docstore.Fields{"n": int64(i)})
		require.NoError(t, err)
	}

	require.NoError(t, store.DeleteCollection(ctx, coll))
	snaps, err := store.Query(ctx, docstore.Query{Collection: coll})
	require.NoError(t, err)
	assert.Empty(t, snaps)

	_, err = store.Get(ctx, parent)
	assert.NoError(t, err)
}

func testInvalidPaths(t *testing.T, store docstore.Store) {
	defer store.Close()
	ctx := context.Background()

	assert.ErrorIs(t, store.Set(ctx, "users", docstore.Fields{}), docstore.ErrInvalidPath)
	_, err := store.Add(ctx, "users/u1", docstore.Fields{})
	assert.ErrorIs(t, err, docstore.ErrInvalidPath)
	_, err = store.Query(ctx, docstore.Query{Collection: "users/u1"})
	assert.ErrorIs(t, err, docstore.ErrInvalidPath)

	errs := make(chan error, 1)
	unsubscribe := store.Watch(docstore.Query{Collection: "users/u1"}, func([]docstore.Snapshot) {}, func(err error) { errs <- err })
	defer unsubscribe()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, docstore.ErrInvalidPath)
	case <-time.After(waitFor):
		t.Fatal("expected watch error")
	}
}

type recorder struct {
	mu    sync.Mutex
	calls [][]docstore.Snapshot
}

func (r *recorder) onUpdate(snaps []docstore.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, snaps)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() []docstore.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func testWatch(t *testing.T, store docstore.Store) {
	defer store.Close()
	ctx := context.Background()
	coll := docstore.Path("users/u1/chatHistory")

	rec := &recorder{}
	unsubscribe := store.Watch(
		docstore.Query{Collection: coll, OrderBy: "updatedAt", Direction: docstore.Desc},
		rec.onUpdate,
		func(err error) { t.Errorf("unexpected watch error: %v", err) },
	)
	defer unsubscribe()

	assert.Eventually(t, func() bool { return rec.count() >= 1 }, waitFor, 10*time.Millisecond)
	assert.Empty(t, rec.last())

	require.NoError(t, store.Set(ctx, coll.Child("old"), docstore.Fields{"updatedAt": docstore.ServerTimestamp}))
	require.NoError(t, store.Set(ctx, coll.Child("new"), docstore.Fields{"updatedAt": docstore.ServerTimestamp}))
	assert.Eventually(t, func() bool { return len(rec.last()) == 2 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"new", "old"}, ids(rec.last()))

	require.NoError(t, store.Update(ctx, coll.Child("old"), docstore.Fields{"updatedAt": docstore.ServerTimestamp}))
	assert.Eventually(t, func() bool {
		last := rec.last()
		return len(last) == 2 && last[0].ID == "old"
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, store.Delete(ctx, coll.Child("new")))
	assert.Eventually(t, func() bool { return len(rec.last()) == 1 }, waitFor, 10*time.Millisecond)
}

func testUnsubscribe(t *testing.T, store docstore.Store) {
	defer store.Close()
	ctx := context.Background()
	coll := docstore.Path("items")

	rec := &recorder{}
	unsubscribe := store.Watch(docstore.Query{Collection: coll}, rec.onUpdate, nil)
	assert.Eventually(t, func() bool { return rec.count() >= 1 }, waitFor, 10*time.Millisecond)

	unsubscribe()
	unsubscribe()
	seen := rec.count()

	for i := 0; i < 3; i++ {
		_, err := store.Add(ctx, coll, docstore.Fields{"n": int64(i)})
		require.NoError(t, err)
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, seen, rec.count())
}

func testConcurrentAdds(t *testing.T, store docstore.Store) {
	defer store.Close()
	ctx := context.Background()
	coll := docstore.Path("users/u1/chatHistory/c1/messages")
	const n = 20

	rec := &recorder{}
	unsubscribe := store.Watch(docstore.Query{Collection: coll, OrderBy: "createdAt"}, rec.onUpdate, nil)
	defer unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Add(ctx, coll, docstore.Fields{
				"content":   fmt.Sprintf("m%d", i),
				"createdAt": docstore.ServerTimestamp,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return len(rec.last()) == n }, waitFor, 10*time.Millisecond)

	seen := map[string]bool{}
	var prev time.Time
	for _, snap := range rec.last() {
		assert.False(t, seen[snap.ID], "duplicate %s", snap.ID)
		seen[snap.ID] = true
		ts := snap.Data["createdAt"].(time.Time)
		assert.True(t, ts.After(prev))
		prev = ts
	}
}

func ids(snaps []docstore.Snapshot) []string {
	out := make([]string, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.ID)
	}
	return out
}
