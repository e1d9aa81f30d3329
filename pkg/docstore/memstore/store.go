// Package memstore is an in-process docstore.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"reflection-chat-be/pkg/docstore"
	"reflection-chat-be/pkg/docstore/changefeed"

	"github.com/google/uuid"
)

type record struct {
	data      docstore.Fields
	createSeq uint64
}

type collection struct {
	version uint64
	docs    map[string]*record
}

type Store struct {
	mu          sync.RWMutex
	collections map[docstore.Path]*collection
	seq         uint64
	clock       docstore.MonotonicClock
	closed      bool

	feed     docstore.Feed
	ownsFeed bool
}

var _ docstore.Store = (*Store)(nil)

type Option func(*Store)

// WithClock overrides the clock used for ServerTimestamp.
func WithClock(clock docstore.Clock) Option {
	return func(s *Store) {
		s.clock.Now = clock
	}
}

// WithFeed shares a change feed between stores. The store does not close it.
func WithFeed(feed docstore.Feed) Option {
	return func(s *Store) {
		s.feed = feed
		s.ownsFeed = false
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[docstore.Path]*collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.feed == nil {
		s.feed = changefeed.NewGoChannel(nil)
		s.ownsFeed = true
	}
	return s
}

func (s *Store) collection(p docstore.Path) *collection {
	c, ok := s.collections[p]
	if !ok {
		c = &collection{docs: make(map[string]*record)}
		s.collections[p] = c
	}
	return c
}

func (s *Store) notify(ctx context.Context, p docstore.Path) {
	// A lost signal only delays watchers until the next write; the write itself
	// already succeeded.
	_ = s.feed.Publish(context.WithoutCancel(ctx), p)
}

func (s *Store) Set(ctx context.Context, path docstore.Path, data docstore.Fields) error {
	if err := docstore.RequireDocument(path); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	s.put(path, data)
	s.mu.Unlock()

	s.notify(ctx, path.Parent())
	return nil
}

// put must be called with the write lock held.
func (s *Store) put(path docstore.Path, data docstore.Fields) {
	c := s.collection(path.Parent())
	resolved := docstore.ResolveServerTimestamps(data, s.clock.Next())
	if existing, ok := c.docs[path.ID()]; ok {
		existing.data = resolved
	} else {
		s.seq++
		c.docs[path.ID()] = &record{data: resolved, createSeq: s.seq}
	}
	c.version++
}

func (s *Store) Add(ctx context.Context, coll docstore.Path, data docstore.Fields) (string, error) {
	if err := docstore.RequireCollection(coll); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.Set(ctx, coll.Child(id), data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, path docstore.Path, data docstore.Fields) error {
	return s.update(ctx, path, nil, data)
}

func (s *Store) UpdateIf(ctx context.Context, path docstore.Path, pre docstore.Precondition, data docstore.Fields) error {
	return s.update(ctx, path, &pre, data)
}

func (s *Store) update(ctx context.Context, path docstore.Path, pre *docstore.Precondition, data docstore.Fields) error {
	if err := docstore.RequireDocument(path); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	c, ok := s.collections[path.Parent()]
	var rec *record
	if ok {
		rec, ok = c.docs[path.ID()]
	}
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update %s: %w", path, docstore.ErrNotFound)
	}
	if pre != nil && !pre.Holds(rec.data) {
		s.mu.Unlock()
		return fmt.Errorf("update %s: %w", path, docstore.ErrPreconditionFailed)
	}
	merged := rec.data.Clone()
	for k, v := range docstore.ResolveServerTimestamps(data, s.clock.Next()) {
		merged[k] = v
	}
	rec.data = merged
	c.version++
	s.mu.Unlock()

	s.notify(ctx, path.Parent())
	return nil
}

func (s *Store) Delete(ctx context.Context, path docstore.Path) error {
	if err := docstore.RequireDocument(path); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	changed := false
	if c, ok := s.collections[path.Parent()]; ok {
		if _, ok := c.docs[path.ID()]; ok {
			delete(c.docs, path.ID())
			c.version++
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify(ctx, path.Parent())
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, coll docstore.Path) error {
	if err := docstore.RequireCollection(coll); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	changed := false
	if c, ok := s.collections[coll]; ok && len(c.docs) > 0 {
		c.docs = make(map[string]*record)
		c.version++
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.notify(ctx, coll)
	}
	return nil
}

func (s *Store) Get(_ context.Context, path docstore.Path) (docstore.Snapshot, error) {
	if err := docstore.RequireDocument(path); err != nil {
		return docstore.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.Snapshot{}, docstore.ErrClosed
	}
	if c, ok := s.collections[path.Parent()]; ok {
		if rec, ok := c.docs[path.ID()]; ok {
			return snapshot(path, rec), nil
		}
	}
	return docstore.Snapshot{}, fmt.Errorf("get %s: %w", path, docstore.ErrNotFound)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	snaps, _, err := s.load(ctx, q)
	return snaps, err
}

func (s *Store) load(_ context.Context, q docstore.Query) ([]docstore.Snapshot, uint64, error) {
	if err := docstore.RequireCollection(q.Collection); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, 0, docstore.ErrClosed
	}
	c, ok := s.collections[q.Collection]
	if !ok {
		return []docstore.Snapshot{}, 0, nil
	}
	snaps := make([]docstore.Snapshot, 0, len(c.docs))
	for id, rec := range c.docs {
		snaps = append(snaps, snapshot(q.Collection.Child(id), rec))
	}
	return docstore.SortSnapshots(snaps, q), c.version, nil
}

func (s *Store) Watch(q docstore.Query, onUpdate func([]docstore.Snapshot), onError func(error)) docstore.Unsubscribe {
	if err := docstore.RequireCollection(q.Collection); err != nil {
		return docstore.FailedWatch(err, onError)
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return docstore.FailedWatch(docstore.ErrClosed, onError)
	}
	return docstore.Watch(s.feed, q, s.load, onUpdate, onError)
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.ownsFeed {
		return s.feed.Close()
	}
	return nil
}

func snapshot(path docstore.Path, rec *record) docstore.Snapshot {
	return docstore.Snapshot{
		Path:      path,
		ID:        path.ID(),
		Data:      rec.data.Clone(),
		CreateSeq: rec.createSeq,
	}
}
