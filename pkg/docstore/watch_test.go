package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// manualFeed hands out one channel per subscription and lets the test drive it.
type manualFeed struct {
	mu      sync.Mutex
	subs    []chan struct{}
	failSub error
}

func (f *manualFeed) Publish(context.Context, Path) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *manualFeed) Subscribe(context.Context, Path) (<-chan struct{}, error) {
	if f.failSub != nil {
		return nil, f.failSub
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{}, 1)
	f.subs = append(f.subs, ch)
	return ch, nil
}

func (f *manualFeed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
}

func (f *manualFeed) Close() error { return nil }

func TestWatchSkipsUnchangedVersions(t *testing.T) {
	feed := &manualFeed{}
	var version atomic.Uint64
	load := func(context.Context, Query) ([]Snapshot, uint64, error) {
		return []Snapshot{{ID: "a"}}, version.Load(), nil
	}

	var calls atomic.Int32
	unsubscribe := Watch(feed, Query{Collection: "items"}, load, func([]Snapshot) { calls.Add(1) }, nil)
	defer unsubscribe()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// same version: no redelivery
	feed.Publish(context.Background(), "items")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	version.Store(1)
	feed.Publish(context.Background(), "items")
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWatchReportsErrorsOnce(t *testing.T) {
	t.Run("subscribe failure", func(t *testing.T) {
		feed := &manualFeed{failSub: errors.New("boom")}
		errs := make(chan error, 2)
		Watch(feed, Query{Collection: "items"}, nil, func([]Snapshot) {}, func(err error) { errs <- err })

		select {
		case err := <-errs:
			assert.ErrorContains(t, err, "boom")
		case <-time.After(time.Second):
			t.Fatal("expected error")
		}
	})

	t.Run("load failure", func(t *testing.T) {
		feed := &manualFeed{}
		load := func(context.Context, Query) ([]Snapshot, uint64, error) {
			return nil, 0, errors.New("db down")
		}
		var errCount atomic.Int32
		Watch(feed, Query{Collection: "items"}, load, func([]Snapshot) {}, func(error) { errCount.Add(1) })

		assert.Eventually(t, func() bool { return errCount.Load() == 1 }, time.Second, 5*time.Millisecond)
		feed.Publish(context.Background(), "items")
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), errCount.Load())
	})

	t.Run("feed closed", func(t *testing.T) {
		feed := &manualFeed{}
		load := func(context.Context, Query) ([]Snapshot, uint64, error) { return nil, 0, nil }
		errs := make(chan error, 1)
		var delivered atomic.Bool
		Watch(feed, Query{Collection: "items"}, load, func([]Snapshot) { delivered.Store(true) }, func(err error) { errs <- err })

		assert.Eventually(t, delivered.Load, time.Second, 5*time.Millisecond)
		feed.closeAll()
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrFeedClosed)
		case <-time.After(time.Second):
			t.Fatal("expected error")
		}
	})
}

func TestUnsubscribeSuppressesErrors(t *testing.T) {
	feed := &manualFeed{}
	load := func(context.Context, Query) ([]Snapshot, uint64, error) { return nil, 0, nil }
	var delivered atomic.Bool
	var errCount atomic.Int32
	unsubscribe := Watch(feed, Query{Collection: "items"}, load, func([]Snapshot) { delivered.Store(true) }, func(error) { errCount.Add(1) })

	assert.Eventually(t, delivered.Load, time.Second, 5*time.Millisecond)
	unsubscribe()
	unsubscribe()
	feed.closeAll()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), errCount.Load())
}

func TestUnsubscribeWaitsForDeliveryInFlight(t *testing.T) {
	feed := &manualFeed{}
	var version atomic.Uint64
	load := func(context.Context, Query) ([]Snapshot, uint64, error) {
		return []Snapshot{{ID: "a"}}, version.Load(), nil
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var deliveries atomic.Int32
	unsubscribe := Watch(feed, Query{Collection: "items"}, load, func([]Snapshot) {
		if deliveries.Add(1) == 1 {
			close(entered)
			<-release
		}
	}, nil)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("initial delivery did not start")
	}

	returned := make(chan struct{})
	go func() {
		unsubscribe()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("unsubscribe returned while a delivery was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe did not return after the delivery finished")
	}

	version.Add(1)
	_ = feed.Publish(context.Background(), "items")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), deliveries.Load())
}
