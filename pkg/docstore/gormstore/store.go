// Package gormstore implements docstore.Store on a relational database through
// GORM. Documents live in one table keyed by full path; each collection has a
// version row that every write locks and bumps.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"reflection-chat-be/internal/model"
	"reflection-chat-be/pkg/docstore"
	"reflection-chat-be/pkg/docstore/changefeed"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxQueryAttempts = 5

var (
	errNoChange      = errors.New("no change")
	errUnstableQuery = errors.New("collection changed during read")
)

type Store struct {
	db     *gorm.DB
	now    docstore.Clock
	closed atomic.Bool

	feed     docstore.Feed
	ownsFeed bool
}

var _ docstore.Store = (*Store)(nil)

type Option func(*Store)

func WithClock(clock docstore.Clock) Option {
	return func(s *Store) {
		s.now = clock
	}
}

// WithFeed shares a change feed, typically changefeed.Redis when several
// instances write to the same database. The store does not close it.
func WithFeed(feed docstore.Feed) Option {
	return func(s *Store) {
		s.feed = feed
		s.ownsFeed = false
	}
}

func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		now: time.Now,
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

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&model.Document{}, &model.DocumentCollection{})
}

// write runs fn in a transaction holding the collection row lock. fn returns
// errNoChange to commit without bumping the version or notifying watchers.
func (s *Store) write(ctx context.Context, coll docstore.Path, fn func(tx *gorm.DB, ts time.Time, seq uint64) error) error {
	if s.closed.Load() {
		return docstore.ErrClosed
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		col := model.DocumentCollection{Path: coll.String()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&col).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("path = ?", coll.String()).
			First(&col).Error; err != nil {
			return err
		}

		ts := s.now().UTC()
		if last := time.Unix(0, col.LastTimestampNanos).UTC(); !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
		next := col.Version + 1

		if err := fn(tx, ts, next); err != nil {
			return err
		}

		return tx.Model(&model.DocumentCollection{}).
			Where("path = ?", coll.String()).
			Updates(map[string]any{
				"version":              next,
				"last_timestamp_nanos": ts.UnixNano(),
			}).Error
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return err
	}

	_ = s.feed.Publish(context.WithoutCancel(ctx), coll)
	return nil
}

func (s *Store) Set(ctx context.Context, path docstore.Path, data docstore.Fields) error {
	if err := docstore.RequireDocument(path); err != nil {
		return err
	}
	return s.write(ctx, path.Parent(), func(tx *gorm.DB, ts time.Time, seq uint64) error {
		raw, err := encodeFields(docstore.ResolveServerTimestamps(data, ts))
		if err != nil {
			return err
		}

		var existing model.Document
		err = tx.Where("path = ?", path.String()).First(&existing).Error
		switch {
		case err == nil:
			existing.Data = raw
			return tx.Save(&existing).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&model.Document{
				Path:       path.String(),
				Collection: path.Parent().String(),
				DocId:      path.ID(),
				Data:       raw,
				CreateSeq:  seq,
			}).Error
		default:
			return err
		}
	})
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
	return s.write(ctx, path.Parent(), func(tx *gorm.DB, ts time.Time, _ uint64) error {
		var existing model.Document
		if err := tx.Where("path = ?", path.String()).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("update %s: %w", path, docstore.ErrNotFound)
			}
			return err
		}
		current, err := decodeFields(existing.Data)
		if err != nil {
			return err
		}
		if pre != nil && !pre.Holds(current) {
			return fmt.Errorf("update %s: %w", path, docstore.ErrPreconditionFailed)
		}
		for k, v := range docstore.ResolveServerTimestamps(data, ts) {
			current[k] = v
		}
		raw, err := encodeFields(current)
		if err != nil {
			return err
		}
		existing.Data = raw
		return tx.Save(&existing).Error
	})
}

func (s *Store) Delete(ctx context.Context, path docstore.Path) error {
	if err := docstore.RequireDocument(path); err != nil {
		return err
	}
	return s.write(ctx, path.Parent(), func(tx *gorm.DB, _ time.Time, _ uint64) error {
		res := tx.Where("path = ?", path.String()).Delete(&model.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNoChange
		}
		return nil
	})
}

func (s *Store) DeleteCollection(ctx context.Context, coll docstore.Path) error {
	if err := docstore.RequireCollection(coll); err != nil {
		return err
	}
	return s.write(ctx, coll, func(tx *gorm.DB, _ time.Time, _ uint64) error {
		res := tx.Where("collection = ?", coll.String()).Delete(&model.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNoChange
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, path docstore.Path) (docstore.Snapshot, error) {
	if err := docstore.RequireDocument(path); err != nil {
		return docstore.Snapshot{}, err
	}
	if s.closed.Load() {
		return docstore.Snapshot{}, docstore.ErrClosed
	}

	var doc model.Document
	if err := s.db.WithContext(ctx).Where("path = ?", path.String()).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return docstore.Snapshot{}, fmt.Errorf("get %s: %w", path, docstore.ErrNotFound)
		}
		return docstore.Snapshot{}, err
	}
	return toSnapshot(doc)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	snaps, _, err := s.load(ctx, q)
	return snaps, err
}

// load reads the collection between two version reads and retries until both
// agree, so the result matches exactly one committed version.
func (s *Store) load(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, uint64, error) {
	if err := docstore.RequireCollection(q.Collection); err != nil {
		return nil, 0, err
	}
	if s.closed.Load() {
		return nil, 0, docstore.ErrClosed
	}

	db := s.db.WithContext(ctx)
	for attempt := 0; attempt < maxQueryAttempts; attempt++ {
		before, err := s.version(db, q.Collection)
		if err != nil {
			return nil, 0, err
		}

		var docs []model.Document
		if err := db.Where("collection = ?", q.Collection.String()).Find(&docs).Error; err != nil {
			return nil, 0, err
		}

		after, err := s.version(db, q.Collection)
		if err != nil {
			return nil, 0, err
		}
		if before != after {
			continue
		}

		snaps := make([]docstore.Snapshot, 0, len(docs))
		for _, doc := range docs {
			snap, err := toSnapshot(doc)
			if err != nil {
				return nil, 0, err
			}
			snaps = append(snaps, snap)
		}
		return docstore.SortSnapshots(snaps, q), after, nil
	}
	return nil, 0, fmt.Errorf("query %s: %w", q.Collection, errUnstableQuery)
}

func (s *Store) version(db *gorm.DB, coll docstore.Path) (uint64, error) {
	var col model.DocumentCollection
	err := db.Where("path = ?", coll.String()).First(&col).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return col.Version, nil
}

func (s *Store) Watch(q docstore.Query, onUpdate func([]docstore.Snapshot), onError func(error)) docstore.Unsubscribe {
	if err := docstore.RequireCollection(q.Collection); err != nil {
		return docstore.FailedWatch(err, onError)
	}
	if s.closed.Load() {
		return docstore.FailedWatch(docstore.ErrClosed, onError)
	}
	return docstore.Watch(s.feed, q, s.load, onUpdate, onError)
}

// Close stops the store. The *gorm.DB stays open; it belongs to the caller.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownsFeed {
		return s.feed.Close()
	}
	return nil
}

func toSnapshot(doc model.Document) (docstore.Snapshot, error) {
	data, err := decodeFields(doc.Data)
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("document %s: %w", doc.Path, err)
	}
	path := docstore.Path(doc.Path)
	return docstore.Snapshot{
		Path:      path,
		ID:        doc.DocId,
		Data:      data,
		CreateSeq: doc.CreateSeq,
	}, nil
}
