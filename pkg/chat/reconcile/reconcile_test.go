package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Id)
	}
	return out
}

func TestPendingThenConfirmedBySubscription(t *testing.T) {
	r := New()
	tempId := r.AddPending("user", "Hello")

	msgs := r.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, tempId, msgs[0].Id)
	assert.Equal(t, StatePendingLocal, msgs[0].State)

	require.True(t, r.Confirm(tempId, "m1"))
	// still local until the subscription shows it
	assert.Equal(t, []string{tempId}, ids(r.Messages()))

	r.Replace([]Message{{Id: "m1", Role: "user", Content: "Hello"}})
	msgs = r.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].Id)
	assert.Equal(t, StateConfirmed, msgs[0].State)
	assert.Equal(t, 0, r.Pending())
}

func TestSubscriptionBeforeAcknowledgement(t *testing.T) {
	r := New()
	tempId := r.AddPending("user", "Hello")

	// the delivery races ahead of the write acknowledgement: brief duplicate
	r.Replace([]Message{{Id: "m1", Role: "user", Content: "Hello"}})
	assert.Equal(t, []string{"m1", tempId}, ids(r.Messages()))

	// the acknowledgement removes the duplicate without another delivery
	r.Confirm(tempId, "m1")
	assert.Equal(t, []string{"m1"}, ids(r.Messages()))
}

func TestIdenticalContentIsNotCollapsed(t *testing.T) {
	r := New()
	first := r.AddPending("user", "same")
	second := r.AddPending("user", "same")

	r.Confirm(first, "m1")
	r.Replace([]Message{{Id: "m1", Role: "user", Content: "same"}})

	assert.Equal(t, []string{"m1", second}, ids(r.Messages()))
}

func TestFailedEntryStaysPending(t *testing.T) {
	r := New()
	tempId := r.AddPending("user", "lost")
	require.True(t, r.Fail(tempId))
	assert.True(t, r.Failed(tempId))

	r.Replace([]Message{{Id: "m1", Role: "assistant", Content: "other"}})
	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, tempId, msgs[1].Id)
	assert.Equal(t, StatePendingLocal, msgs[1].State)

	r.Reset()
	assert.Empty(t, r.Messages())
	assert.False(t, r.Fail(tempId))
}

func TestPlaceholderContent(t *testing.T) {
	r := New()
	tempId := r.AddPending("assistant", "…")
	require.True(t, r.SetContent(tempId, "How was your day?"))
	assert.Equal(t, "How was your day?", r.Messages()[0].Content)
	assert.False(t, r.SetContent("local-unknown", "x"))
}

func TestTemporaryIdsAreUnique(t *testing.T) {
	r := New()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := r.AddPending("user", "x")
		assert.False(t, seen[id])
		assert.Regexp(t, `^local-\d+-\d+$`, id)
		seen[id] = true
	}
}

func TestNoPermanentDuplicates(t *testing.T) {
	r := New()
	var authoritative []Message
	for i, id := range []string{"m1", "m2", "m3"} {
		tempId := r.AddPending("user", id)
		authoritative = append(authoritative, Message{Id: id, Role: "user", Content: id})
		if i%2 == 0 {
			r.Confirm(tempId, id)
			r.Replace(authoritative)
		} else {
			r.Replace(authoritative)
			r.Confirm(tempId, id)
		}
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(r.Messages()))
}
