package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrFeedClosed = errors.New("change feed closed")

// Feed carries "collection changed" signals between writers and watchers.
// Signals carry no payload: a watcher re-reads the current state, so several
// signals may be coalesced into one.
type Feed interface {
	Publish(ctx context.Context, collection Path) error
	// Subscribe returns a channel that receives a signal after every change to
	// collection. The channel is closed when ctx is cancelled or the feed fails.
	Subscribe(ctx context.Context, collection Path) (<-chan struct{}, error)
	Close() error
}

// Loader reads the current result of q together with the collection version
// it was read at. Equal versions mean equal results.
type Loader func(ctx context.Context, q Query) ([]Snapshot, uint64, error)

type watcher struct {
	q        Query
	load     Loader
	onUpdate func([]Snapshot)
	onError  func(error)

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
	once    sync.Once

	// deliverMu is held across the stopped check and the callback.
	deliverMu sync.Mutex

	delivered   bool
	lastVersion uint64
}

// Watch runs a live query on top of feed and load. It subscribes to the feed
// before the initial read so no change can fall between the two.
func Watch(feed Feed, q Query, load Loader, onUpdate func([]Snapshot), onError func(error)) Unsubscribe {
	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		q:        q,
		load:     load,
		onUpdate: onUpdate,
		onError:  onError,
		ctx:      ctx,
		cancel:   cancel,
	}

	signals, err := feed.Subscribe(ctx, q.Collection)
	if err != nil {
		go w.fail(fmt.Errorf("subscribe %s: %w", q.Collection, err))
		return w.unsubscribe
	}

	go w.run(signals)
	return w.unsubscribe
}

func (w *watcher) run(signals <-chan struct{}) {
	if !w.refresh() {
		return
	}
	for {
		select {
		case <-w.ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				if w.ctx.Err() == nil {
					w.fail(ErrFeedClosed)
				}
				return
			}
			if !w.refresh() {
				return
			}
		}
	}
}

// refresh reads and delivers the current state. It returns false once the
// watch is dead.
func (w *watcher) refresh() bool {
	snaps, version, err := w.load(w.ctx, w.q)
	if err != nil {
		if w.ctx.Err() != nil {
			return false
		}
		w.fail(fmt.Errorf("load %s: %w", w.q.Collection, err))
		return false
	}
	if w.delivered && version == w.lastVersion {
		return !w.stopped.Load()
	}

	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()
	if w.stopped.Load() {
		return false
	}
	w.delivered = true
	w.lastVersion = version
	w.onUpdate(snaps)
	return !w.stopped.Load()
}

func (w *watcher) stop() bool {
	first := false
	w.once.Do(func() {
		first = true
		w.stopped.Store(true)
		w.cancel()
	})
	return first
}

func (w *watcher) fail(err error) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()
	if w.stop() && w.onError != nil {
		w.onError(err)
	}
}

// unsubscribe is idempotent. It waits for a callback already in flight, so no
// callback runs once it returns. It must not be called from the watch's own
// callbacks or under a lock those callbacks take.
func (w *watcher) unsubscribe() {
	w.stop()
	w.deliverMu.Lock()
	w.deliverMu.Unlock()
}

// FailedWatch returns a dead watch that reports err asynchronously.
func FailedWatch(err error, onError func(error)) Unsubscribe {
	if onError != nil {
		go onError(err)
	}
	return func() {}
}
