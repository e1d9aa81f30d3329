package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reflection-chat-be/internal/constant"
	"reflection-chat-be/internal/dto"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/internal/repository/contract"
	"reflection-chat-be/internal/repository/implementation"
	"reflection-chat-be/internal/repository/memory"
	"reflection-chat-be/pkg/docstore"
	"reflection-chat-be/pkg/docstore/memstore"
	"reflection-chat-be/pkg/events"
	"reflection-chat-be/pkg/responder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

type fixture struct {
	store    docstore.Store
	sessions contract.ChatSessionRepository
	messages contract.ChatMessageRepository
	repair   IRepairService
	events   *eventRecorder
	service  IChatService
}

func newFixture(t *testing.T, resp responder.Responder) *fixture {
	store := memstore.New()
	t.Cleanup(func() { store.Close() })
	return newFixtureWithStore(t, store, store, resp)
}

// newFixtureWithStore builds the message repository on writeStore, so a test
// can make its metadata writes fail while repairs go through store.
func newFixtureWithStore(t *testing.T, store, writeStore docstore.Store, resp responder.Responder) *fixture {
	log := logger.NewNopLogger()
	sessions := implementation.NewChatSessionRepository(store, log)
	messages := implementation.NewChatMessageRepository(writeStore, implementation.NewChatSessionRepository(writeStore, log), log)
	repair := NewRepairService(sessions, messages, log)
	recorder := &eventRecorder{}

	return &fixture{
		store:    store,
		sessions: sessions,
		messages: messages,
		repair:   repair,
		events:   recorder,
		service: NewChatService(
			sessions,
			messages,
			resp,
			repair,
			memory.NewSubmissionRepository(10*time.Minute),
			recorder,
			log,
		),
	}
}

func echo() responder.Responder {
	return responder.Func(func(_ context.Context, req responder.Request) (string, error) {
		return "echo: " + req.UserText, nil
	})
}

func TestSendChat(t *testing.T) {
	f := newFixture(t, echo())
	ctx := context.Background()

	created, err := f.service.CreateSession(ctx, "u1")
	require.NoError(t, err)

	res, err := f.service.SendChat(ctx, "u1", &dto.SendChatRequest{SessionId: created.Id, Content: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, created.Id, res.SessionId)
	assert.Equal(t, constant.ChatMessageRoleUser, res.Sent.Role)
	assert.Equal(t, "Hello", res.Sent.Content)
	assert.Equal(t, constant.ChatMessageRoleAssistant, res.Reply.Role)
	assert.Equal(t, "echo: Hello", res.Reply.Content)
	assert.Empty(t, res.ReplyError)
	assert.True(t, res.Reply.CreatedAt.After(res.Sent.CreatedAt))

	history, err := f.service.GetChatHistory(ctx, "u1", created.Id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, res.Sent.Id, history[0].Id)
	assert.Equal(t, res.Reply.Id, history[1].Id)

	sessions, err := f.service.GetAllSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Hello", sessions[0].Title)
	assert.Equal(t, "echo: Hello", sessions[0].LastMessageText)

	assert.Equal(t, []string{
		events.ChatSessionCreated,
		events.ChatMessageAppended,
		events.ChatMessageAppended,
	}, f.events.types())
}

func TestSendChatPassesPriorTurns(t *testing.T) {
	var seen []responder.Request
	f := newFixture(t, responder.Func(func(_ context.Context, req responder.Request) (string, error) {
		seen = append(seen, req)
		return "ok", nil
	}))
	ctx := context.Background()

	created, err := f.service.CreateSession(ctx, "u1")
	require.NoError(t, err)
	for _, text := range []string{"first", "second"} {
		_, err := f.service.SendChat(ctx, "u1", &dto.SendChatRequest{SessionId: created.Id, Content: text})
		require.NoError(t, err)
	}

	require.Len(t, seen, 2)
	assert.Empty(t, seen[0].History)
	assert.Equal(t, "second", seen[1].UserText)
	assert.Equal(t, []responder.Turn{
		{Role: constant.ChatMessageRoleUser, Content: "first"},
		{Role: constant.ChatMessageRoleAssistant, Content: "ok"},
	}, seen[1].History)
}

func TestSendChatFallback(t *testing.T) {
	tests := []struct {
		name string
		resp responder.Responder
	}{
		{"responder error", responder.Func(func(context.Context, responder.Request) (string, error) {
			return "", errors.New("backend unavailable")
		})},
		{"blank reply", responder.Func(func(context.Context, responder.Request) (string, error) {
			return "  ", nil
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.resp)
			ctx := context.Background()

			created, err := f.service.CreateSession(ctx, "u1")
			require.NoError(t, err)

			res, err := f.service.SendChat(ctx, "u1", &dto.SendChatRequest{SessionId: created.Id, Content: "Hello"})
			require.NoError(t, err)
			assert.Equal(t, constant.ChatAssistantFallbackReply, res.Reply.Content)
			assert.NotEmpty(t, res.ReplyError)

			history, err := f.service.GetChatHistory(ctx, "u1", created.Id)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, constant.ChatAssistantFallbackReply, history[1].Content)
		})
	}
}

func TestSendChatDeduplicatesClientMessageId(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, responder.Func(func(_ context.Context, req responder.Request) (string, error) {
		calls.Add(1)
		return "reply", nil
	}))
	ctx := context.Background()

	created, err := f.service.CreateSession(ctx, "u1")
	require.NoError(t, err)

	req := &dto.SendChatRequest{SessionId: created.Id, Content: "Hello", ClientMessageId: "m-1"}
	first, err := f.service.SendChat(ctx, "u1", req)
	require.NoError(t, err)
	second, err := f.service.SendChat(ctx, "u1", req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	history, err := f.service.GetChatHistory(ctx, "u1", created.Id)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// a different id is a new message
	_, err = f.service.SendChat(ctx, "u1", &dto.SendChatRequest{SessionId: created.Id, Content: "Hello", ClientMessageId: "m-2"})
	require.NoError(t, err)
	history, err = f.service.GetChatHistory(ctx, "u1", created.Id)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestSendChatErrors(t *testing.T) {
	f := newFixture(t, echo())
	ctx := context.Background()

	_, err := f.service.SendChat(ctx, "u1", &dto.SendChatRequest{SessionId: "missing", Content: "Hello"})
	assert.ErrorIs(t, err, contract.ErrSessionNotFound)

	_, err = f.service.GetChatHistory(ctx, "u1", "missing")
	assert.ErrorIs(t, err, contract.ErrSessionNotFound)

	_, err = f.service.SendChat(ctx, "u1", &dto.SendChatRequest{SessionId: "a/b", Content: "Hello"})
	assert.ErrorIs(t, err, contract.ErrInvalidIdentifier)

	created, err := f.service.CreateSession(ctx, "u1")
	require.NoError(t, err)
	_, err = f.service.SendChat(ctx, "u1", &dto.SendChatRequest{SessionId: created.Id, Content: "   "})
	assert.ErrorIs(t, err, contract.ErrEmptyMessage)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t, echo())
	ctx := context.Background()

	created, err := f.service.CreateSession(ctx, "u1")
	require.NoError(t, err)
	_, err = f.service.SendChat(ctx, "u1", &dto.SendChatRequest{SessionId: created.Id, Content: "Hello"})
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteSession(ctx, "u1", created.Id))

	sessions, err := f.service.GetAllSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Contains(t, f.events.types(), events.ChatSessionDeleted)

	assert.Eventually(t, func() bool {
		msgs, err := f.messages.FindAll(ctx, "u1", created.Id)
		return err == nil && len(msgs) == 0
	}, waitFor, tick)
}

// failingUpdateStore rejects Update, which appends only use for the session
// metadata write.
type failingUpdateStore struct {
	docstore.Store
}

func (s *failingUpdateStore) Update(context.Context, docstore.Path, docstore.Fields) error {
	return errors.New("permission denied")
}

func TestSendChatRepairsMetadataInline(t *testing.T) {
	store := memstore.New()
	t.Cleanup(func() { store.Close() })
	f := newFixtureWithStore(t, store, &failingUpdateStore{Store: store}, echo())
	ctx := context.Background()

	created, err := f.service.CreateSession(ctx, "u1")
	require.NoError(t, err)

	res, err := f.service.SendChat(ctx, "u1", &dto.SendChatRequest{SessionId: created.Id, Content: "Hello"})
	require.NoError(t, err)

	session, err := f.sessions.FindOne(ctx, "u1", created.Id)
	require.NoError(t, err)
	assert.Equal(t, "Hello", session.Title)
	assert.Equal(t, "echo: Hello", session.LastMessageText)
	assert.True(t, res.Reply.CreatedAt.Equal(session.UpdatedAt))

	assert.Contains(t, f.events.types(), events.ChatMetadataSyncFailed)
}
