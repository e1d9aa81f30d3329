// Package docstore models a schemaless, hierarchical document database with
// ordered queries and live change subscriptions per collection path.
//
// Adapters live in sub-packages (memstore, gormstore). Both share the change
// feed abstraction from changefeed and the watch loop from this package, so a
// subscription behaves identically regardless of the backing engine.
package docstore

import (
	"context"
	"errors"
	"reflect"
	"time"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrClosed             = errors.New("document store closed")
	ErrPreconditionFailed = errors.New("document precondition failed")
)

type serverTimestamp struct{}

// ServerTimestamp is a field value placeholder. On write the store replaces it
// with its own clock reading, which is strictly increasing across writes.
var ServerTimestamp = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp placeholder.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Fields is a flat key/value document body.
type Fields map[string]any

func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Precondition pins one field of a document to the value it held when the
// caller read it.
type Precondition struct {
	Field string
	Value any
}

// Holds reports whether data still carries the expected value. Times compare
// by instant.
func (p Precondition) Holds(data Fields) bool {
	current := data[p.Field]
	if want, ok := p.Value.(time.Time); ok {
		got, ok := current.(time.Time)
		return ok && got.Equal(want)
	}
	return reflect.DeepEqual(current, p.Value)
}

// Snapshot is a read-only view of one stored document.
type Snapshot struct {
	Path Path
	ID   string
	Data Fields
	// CreateSeq is the insertion order recorded by the store. It breaks ties
	// when ordering by a field.
	CreateSeq uint64
}

type Direction int

const (
	Asc Direction = iota
	Desc
)

// Query selects all documents of one collection ordered by a single field.
type Query struct {
	Collection Path
	OrderBy    string
	Direction  Direction
	Limit      int
}

// Unsubscribe stops a live query. It is idempotent and returns only after any
// callback in flight has finished.
type Unsubscribe func()

// Store is the document store client contract.
type Store interface {
	// Set creates or overwrites the document at path.
	Set(ctx context.Context, path Path, data Fields) error
	// Add inserts a new document with a store-assigned id into collection.
	Add(ctx context.Context, collection Path, data Fields) (string, error)
	// Update merges data into an existing document. Returns ErrNotFound if absent.
	Update(ctx context.Context, path Path, data Fields) error
	// UpdateIf merges data only while the document satisfies pre, checked in
	// the same write. Returns ErrPreconditionFailed otherwise.
	UpdateIf(ctx context.Context, path Path, pre Precondition, data Fields) error
	// Delete removes the document. Sub-collections are left untouched.
	Delete(ctx context.Context, path Path) error
	// DeleteCollection removes every document directly inside collection.
	DeleteCollection(ctx context.Context, collection Path) error
	Get(ctx context.Context, path Path) (Snapshot, error)
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	// Watch delivers the full ordered result of q now and after every change.
	// onError is called at most once, after which the watch is dead.
	Watch(q Query, onUpdate func([]Snapshot), onError func(error)) Unsubscribe
	Close() error
}

// Clock returns the current time. Stores use it to resolve ServerTimestamp.
type Clock func() time.Time

// MonotonicClock wraps a clock so that consecutive readings strictly increase.
// It is not safe for concurrent use; adapters call it under their write lock.
type MonotonicClock struct {
	Now  Clock
	last time.Time
}

func (c *MonotonicClock) Next() time.Time {
	now := time.Now().UTC()
	if c.Now != nil {
		now = c.Now().UTC()
	}
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}

// ResolveServerTimestamps returns a copy of data with every ServerTimestamp
// replaced by ts.
func ResolveServerTimestamps(data Fields, ts time.Time) Fields {
	out := data.Clone()
	for k, v := range out {
		if IsServerTimestamp(v) {
			out[k] = ts
		}
	}
	return out
}

// HasServerTimestamp reports whether any field holds the placeholder.
func HasServerTimestamp(data Fields) bool {
	for _, v := range data {
		if IsServerTimestamp(v) {
			return true
		}
	}
	return false
}
