package implementation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"reflection-chat-be/internal/constant"
	"reflection-chat-be/internal/entity"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/internal/repository/contract"
	"reflection-chat-be/pkg/docstore"
	"reflection-chat-be/pkg/docstore/gormstore"
	"reflection-chat-be/pkg/docstore/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type repos struct {
	store    docstore.Store
	sessions contract.ChatSessionRepository
	messages contract.ChatMessageRepository
}

func newRepos(store docstore.Store) repos {
	log := logger.NewNopLogger()
	sessions := NewChatSessionRepository(store, log)
	return repos{
		store:    store,
		sessions: sessions,
		messages: NewChatMessageRepository(store, sessions, log),
	}
}

func newSQLiteStore(t *testing.T) docstore.Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store := gormstore.New(db)
	require.NoError(t, store.Migrate())
	return store
}

// forEachStore runs fn against every store adapter.
func forEachStore(t *testing.T, fn func(t *testing.T, r repos)) {
	adapters := []struct {
		name string
		new  func(t *testing.T) docstore.Store
	}{
		{"memstore", func(*testing.T) docstore.Store { return memstore.New() }},
		{"gormstore", newSQLiteStore},
	}
	for _, a := range adapters {
		t.Run(a.name, func(t *testing.T) {
			store := a.new(t)
			defer store.Close()
			fn(t, newRepos(store))
		})
	}
}

type messageRecorder struct {
	mu   sync.Mutex
	last []*entity.ChatMessage
	n    int
}

func (m *messageRecorder) onUpdate(msgs []*entity.ChatMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = msgs
	m.n++
}

func (m *messageRecorder) snapshot() ([]*entity.ChatMessage, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.n
}

type sessionRecorder struct {
	mu   sync.Mutex
	last []*entity.ChatSession
	n    int
}

func (s *sessionRecorder) onUpdate(sessions []*entity.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = sessions
	s.n++
}

func (s *sessionRecorder) snapshot() ([]*entity.ChatSession, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.n
}

func failOnError(t *testing.T) func(error) {
	return func(err error) { t.Errorf("unexpected subscription error: %v", err) }
}

func TestAppendAndSubscribe(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		sessionId, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)

		rec := &messageRecorder{}
		unsubscribe := r.messages.Subscribe("u1", sessionId, rec.onUpdate, failOnError(t))
		defer unsubscribe()

		_, err = r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: constant.ChatMessageRoleUser, Content: "Hello"})
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			msgs, _ := rec.snapshot()
			return len(msgs) == 1
		}, waitFor, tick)
		msgs, _ := rec.snapshot()
		assert.Equal(t, constant.ChatMessageRoleUser, msgs[0].Role)
		assert.Equal(t, "Hello", msgs[0].Content)
		assert.Equal(t, sessionId, msgs[0].SessionId)

		session, err := r.sessions.FindOne(ctx, "u1", sessionId)
		require.NoError(t, err)
		assert.Equal(t, "Hello", session.Title)
		assert.Equal(t, "Hello", session.LastMessageText)
		assert.False(t, session.UpdatedAt.Before(session.CreatedAt))
	})
}

func TestTitleTruncation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "Hello", "Hello"},
		{"exactly thirty", strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{"forty five", strings.Repeat("abcde", 9), strings.Repeat("abcde", 6) + "…"},
		{"multibyte", strings.Repeat("é", 45), strings.Repeat("é", 30) + "…"},
	}

	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				sessionId, err := r.sessions.Create(ctx, "u1")
				require.NoError(t, err)

				_, err = r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: "user", Content: tt.content})
				require.NoError(t, err)

				session, err := r.sessions.FindOne(ctx, "u1", sessionId)
				require.NoError(t, err)
				assert.Equal(t, tt.want, session.Title)
				assert.Equal(t, tt.content, session.LastMessageText)
			})
		}
	})
}

func TestTitleIsSetOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		sessionId, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)

		// assistant turns never set the title
		_, err = r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: "ai", Content: "How was your day?"})
		require.NoError(t, err)
		session, err := r.sessions.FindOne(ctx, "u1", sessionId)
		require.NoError(t, err)
		assert.Empty(t, session.Title)

		_, err = r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: "user", Content: "First"})
		require.NoError(t, err)
		_, err = r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: "user", Content: "Second"})
		require.NoError(t, err)

		session, err = r.sessions.FindOne(ctx, "u1", sessionId)
		require.NoError(t, err)
		assert.Equal(t, "First", session.Title)
		assert.Equal(t, "Second", session.LastMessageText)

		msgs, err := r.messages.FindAll(ctx, "u1", sessionId)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, constant.ChatMessageRoleAssistant, msgs[0].Role)
	})
}

func TestDeleteSessionRemovesItFromSubscription(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		keep, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)
		doomed, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err := r.messages.Append(ctx, "u1", doomed, entity.NewChatMessage{Role: "user", Content: fmt.Sprintf("m%d", i)})
			require.NoError(t, err)
		}

		rec := &sessionRecorder{}
		unsubscribe := r.sessions.Subscribe("u1", rec.onUpdate, failOnError(t))
		defer unsubscribe()
		assert.Eventually(t, func() bool {
			sessions, _ := rec.snapshot()
			return len(sessions) == 2
		}, waitFor, tick)

		require.NoError(t, r.sessions.Delete(ctx, "u1", doomed))

		assert.Eventually(t, func() bool {
			sessions, _ := rec.snapshot()
			return len(sessions) == 1 && sessions[0].Id == keep
		}, waitFor, tick)

		_, err = r.sessions.FindOne(ctx, "u1", doomed)
		assert.ErrorIs(t, err, contract.ErrSessionNotFound)
	})
}

func TestDeleteAllMessages(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		sessionId, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			_, err := r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: "user", Content: fmt.Sprintf("m%d", i)})
			require.NoError(t, err)
		}

		require.NoError(t, r.messages.DeleteAll(ctx, "u1", sessionId))
		require.NoError(t, r.messages.DeleteAll(ctx, "u1", sessionId))

		msgs, err := r.messages.FindAll(ctx, "u1", sessionId)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		// the session document itself survives
		_, err = r.sessions.FindOne(ctx, "u1", sessionId)
		assert.NoError(t, err)
	})
}

func TestUpdateMetadataIf(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		sessionId, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)
		read, err := r.sessions.FindOne(ctx, "u1", sessionId)
		require.NoError(t, err)

		_, err = r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: "user", Content: "newer"})
		require.NoError(t, err)

		err = r.sessions.UpdateMetadataIf(ctx, "u1", sessionId, read.UpdatedAt, contract.SessionMetadataUpdate{
			LastMessageText: "older",
			UpdatedAt:       read.UpdatedAt,
		})
		assert.ErrorIs(t, err, contract.ErrSessionChanged)

		current, err := r.sessions.FindOne(ctx, "u1", sessionId)
		require.NoError(t, err)
		assert.Equal(t, "newer", current.LastMessageText)

		require.NoError(t, r.sessions.UpdateMetadataIf(ctx, "u1", sessionId, current.UpdatedAt, contract.SessionMetadataUpdate{
			LastMessageText: "repaired",
		}))
		current, err = r.sessions.FindOne(ctx, "u1", sessionId)
		require.NoError(t, err)
		assert.Equal(t, "repaired", current.LastMessageText)

		err = r.sessions.UpdateMetadataIf(ctx, "u1", "missing", current.UpdatedAt, contract.SessionMetadataUpdate{})
		assert.ErrorIs(t, err, contract.ErrSessionNotFound)
	})
}

func TestConcurrentAppends(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		sessionId, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)

		rec := &messageRecorder{}
		unsubscribe := r.messages.Subscribe("u1", sessionId, rec.onUpdate, failOnError(t))
		defer unsubscribe()

		contents := []string{"left", "right"}
		var wg sync.WaitGroup
		for _, c := range contents {
			wg.Add(1)
			go func(c string) {
				defer wg.Done()
				_, err := r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: "user", Content: c})
				assert.NoError(t, err)
			}(c)
		}
		wg.Wait()

		assert.Eventually(t, func() bool {
			msgs, _ := rec.snapshot()
			return len(msgs) == 2
		}, waitFor, tick)
		msgs, _ := rec.snapshot()
		assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))
		assert.ElementsMatch(t, contents, []string{msgs[0].Content, msgs[1].Content})

		session, err := r.sessions.FindOne(ctx, "u1", sessionId)
		require.NoError(t, err)
		assert.Contains(t, contents, session.LastMessageText)
		assert.Contains(t, contents, session.Title)
		assert.False(t, session.UpdatedAt.Before(msgs[0].CreatedAt))
	})
}

func TestSubscriptionIsOrderedAndLossless(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		sessionId, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)

		rec := &messageRecorder{}
		unsubscribe := r.messages.Subscribe("u1", sessionId, rec.onUpdate, failOnError(t))
		defer unsubscribe()

		const n = 10
		for i := 0; i < n; i++ {
			_, err := r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: "user", Content: fmt.Sprintf("m%d", i)})
			require.NoError(t, err)
		}

		assert.Eventually(t, func() bool {
			msgs, _ := rec.snapshot()
			return len(msgs) == n
		}, waitFor, tick)

		msgs, _ := rec.snapshot()
		seen := map[string]bool{}
		for i, m := range msgs {
			assert.Equal(t, fmt.Sprintf("m%d", i), m.Content)
			assert.False(t, seen[m.Id])
			seen[m.Id] = true
		}
	})
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		sessionId, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)

		rec := &messageRecorder{}
		unsubscribe := r.messages.Subscribe("u1", sessionId, rec.onUpdate, failOnError(t))
		assert.Eventually(t, func() bool {
			_, n := rec.snapshot()
			return n >= 1
		}, waitFor, tick)

		unsubscribe()
		unsubscribe()
		_, before := rec.snapshot()

		_, err = r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: "user", Content: "late"})
		require.NoError(t, err)
		time.Sleep(100 * time.Millisecond)

		_, after := rec.snapshot()
		assert.Equal(t, before, after)
	})
}

func TestSessionsOrderedByUpdatedAt(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		older, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)
		newer, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)

		sessions, err := r.sessions.FindAll(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, newer, sessions[0].Id)

		_, err = r.messages.Append(ctx, "u1", older, entity.NewChatMessage{Role: "user", Content: "bump"})
		require.NoError(t, err)

		sessions, err = r.sessions.FindAll(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, older, sessions[0].Id)

		// sessions of other users are invisible
		other, err := r.sessions.FindAll(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestAppendValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		sessionId, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)

		tests := []struct {
			name      string
			userId    string
			sessionId string
			message   entity.NewChatMessage
			wantErr   error
		}{
			{"missing session", "u1", "nope", entity.NewChatMessage{Role: "user", Content: "x"}, contract.ErrSessionNotFound},
			{"other user's session", "u2", sessionId, entity.NewChatMessage{Role: "user", Content: "x"}, contract.ErrSessionNotFound},
			{"empty content", "u1", sessionId, entity.NewChatMessage{Role: "user", Content: "   "}, contract.ErrEmptyMessage},
			{"unknown role", "u1", sessionId, entity.NewChatMessage{Role: "robot", Content: "x"}, contract.ErrInvalidRole},
			{"slash in user id", "u/1", sessionId, entity.NewChatMessage{Role: "user", Content: "x"}, contract.ErrInvalidIdentifier},
			{"empty session id", "u1", "", entity.NewChatMessage{Role: "user", Content: "x"}, contract.ErrInvalidIdentifier},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := r.messages.Append(ctx, tt.userId, tt.sessionId, tt.message)
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}
	})
}

func TestMalformedDocuments(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		sessionId, err := r.sessions.Create(ctx, "u1")
		require.NoError(t, err)
		_, err = r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: "user", Content: "ok"})
		require.NoError(t, err)

		coll, err := messagesPath("u1", sessionId)
		require.NoError(t, err)
		_, err = r.store.Add(ctx, coll, docstore.Fields{
			constant.FieldRole:      "robot",
			constant.FieldContent:   "beep",
			constant.FieldCreatedAt: docstore.ServerTimestamp,
		})
		require.NoError(t, err)

		_, err = r.messages.FindAll(ctx, "u1", sessionId)
		assert.ErrorIs(t, err, contract.ErrMalformedDocument)

		rec := &messageRecorder{}
		unsubscribe := r.messages.Subscribe("u1", sessionId, rec.onUpdate, failOnError(t))
		defer unsubscribe()
		assert.Eventually(t, func() bool {
			_, n := rec.snapshot()
			return n >= 1
		}, waitFor, tick)
		msgs, _ := rec.snapshot()
		require.Len(t, msgs, 1)
		assert.Equal(t, "ok", msgs[0].Content)
	})
}

// failingUpdateStore fails every Update, which is only used for the session
// metadata write of an append.
type failingUpdateStore struct {
	docstore.Store
}

func (s *failingUpdateStore) Update(context.Context, docstore.Path, docstore.Fields) error {
	return errors.New("permission denied")
}

func TestMetadataSyncFailureIsDistinct(t *testing.T) {
	store := memstore.New()
	defer store.Close()
	r := newRepos(&failingUpdateStore{Store: store})
	ctx := context.Background()

	sessionId, err := r.sessions.Create(ctx, "u1")
	require.NoError(t, err)

	id, err := r.messages.Append(ctx, "u1", sessionId, entity.NewChatMessage{Role: "user", Content: "Hello"})
	require.Error(t, err)

	var syncErr *contract.MetadataSyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, id, syncErr.MessageId)
	assert.Equal(t, sessionId, syncErr.SessionId)
	assert.ErrorContains(t, err, "permission denied")

	// the message itself is durable, the session metadata is stale
	msgs, err := r.messages.FindAll(ctx, "u1", sessionId)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].Id)

	session, err := r.sessions.FindOne(ctx, "u1", sessionId)
	require.NoError(t, err)
	assert.Empty(t, session.Title)
	assert.Empty(t, session.LastMessageText)
}

func TestSubscribeWithInvalidIdentifier(t *testing.T) {
	store := memstore.New()
	defer store.Close()
	r := newRepos(store)

	errs := make(chan error, 1)
	unsubscribe := r.sessions.Subscribe("", func([]*entity.ChatSession) {
		t.Error("unexpected update")
	}, func(err error) { errs <- err })
	defer unsubscribe()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, contract.ErrInvalidIdentifier)
	case <-time.After(waitFor):
		t.Fatal("expected subscription error")
	}
}
