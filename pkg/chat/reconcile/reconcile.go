// Package reconcile merges optimistic, locally-submitted messages with the
// authoritative message list delivered by a live subscription.
//
// The displayed list is always the latest authoritative list followed by the
// local entries that have not been seen in it yet, in submission order. A
// local entry is matched by the id the store assigned on write, never by
// content, so two identical messages are never collapsed.
package reconcile

import (
	"fmt"
	"sync"
	"time"
)

type State string

const (
	StatePendingLocal State = "pending-local"
	StateConfirmed    State = "confirmed"
)

type Message struct {
	Id        string
	Role      string
	Content   string
	CreatedAt time.Time
	State     State
}

type entry struct {
	tempId    string
	role      string
	content   string
	createdAt time.Time
	// messageId is set once the write was acknowledged.
	messageId string
	failed    bool
}

type Reconciler struct {
	mu            sync.Mutex
	authoritative []Message
	known         map[string]struct{}
	local         []*entry
	seq           uint64
	now           func() time.Time
}

func New() *Reconciler {
	return &Reconciler{
		known: make(map[string]struct{}),
		now:   time.Now,
	}
}

// AddPending appends a local entry and returns its temporary id.
func (r *Reconciler) AddPending(role, content string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	now := r.now()
	tempId := fmt.Sprintf("local-%d-%d", now.UnixNano(), r.seq)
	r.local = append(r.local, &entry{
		tempId:    tempId,
		role:      role,
		content:   content,
		createdAt: now,
	})
	return tempId
}

// SetContent replaces the text of a local entry, e.g. a reply placeholder.
func (r *Reconciler) SetContent(tempId, content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.find(tempId)
	if e == nil {
		return false
	}
	e.content = content
	return true
}

// Confirm records the store id of a persisted local entry. The entry leaves
// the displayed list as soon as the authoritative list contains messageId.
func (r *Reconciler) Confirm(tempId, messageId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.find(tempId)
	if e == nil {
		return false
	}
	e.messageId = messageId
	e.failed = false
	r.prune()
	return true
}

// Fail marks a local entry whose write was rejected. It stays visible and
// unconfirmed until the view is reset.
func (r *Reconciler) Fail(tempId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.find(tempId)
	if e == nil {
		return false
	}
	e.failed = true
	return true
}

// Replace swaps in a new authoritative list wholesale.
func (r *Reconciler) Replace(list []Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.authoritative = make([]Message, len(list))
	r.known = make(map[string]struct{}, len(list))
	for i, m := range list {
		m.State = StateConfirmed
		r.authoritative[i] = m
		r.known[m.Id] = struct{}{}
	}
	r.prune()
}

// Messages returns the list to display.
func (r *Reconciler) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, 0, len(r.authoritative)+len(r.local))
	out = append(out, r.authoritative...)
	for _, e := range r.local {
		out = append(out, Message{
			Id:        e.tempId,
			Role:      e.role,
			Content:   e.content,
			CreatedAt: e.createdAt,
			State:     StatePendingLocal,
		})
	}
	return out
}

// Pending returns the number of local entries still displayed.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.local)
}

// Failed reports whether tempId is a local entry whose write was rejected.
func (r *Reconciler) Failed(tempId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.find(tempId)
	return e != nil && e.failed
}

// Reset drops everything, used when the view switches sessions.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authoritative = nil
	r.known = make(map[string]struct{})
	r.local = nil
}

func (r *Reconciler) find(tempId string) *entry {
	for _, e := range r.local {
		if e.tempId == tempId {
			return e
		}
	}
	return nil
}

// prune must be called with the lock held.
func (r *Reconciler) prune() {
	kept := r.local[:0]
	for _, e := range r.local {
		if e.messageId != "" {
			if _, ok := r.known[e.messageId]; ok {
				continue
			}
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(r.local); i++ {
		r.local[i] = nil
	}
	r.local = kept
}
