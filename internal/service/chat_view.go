package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"reflection-chat-be/internal/constant"
	"reflection-chat-be/internal/dto"
	"reflection-chat-be/internal/entity"
	"reflection-chat-be/internal/mapper"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/internal/repository/contract"
	"reflection-chat-be/pkg/chat/reconcile"
)

// ViewSink receives every new state of a ChatView. Push is called from a
// single goroutine, in order, and may drop intermediate states.
type ViewSink interface {
	Push(state *dto.ViewState)
}

// ChatView is the live chat screen of one client: the session list, the
// messages of the selected session merged with optimistic local entries, and
// an inline error line. It holds at most one message subscription.
type ChatView struct {
	userId string
	turns  *chatTurns
	sink   ViewSink
	mapper *mapper.ChatMapper
	logger logger.ILogger

	mu       sync.Mutex
	closed   bool
	errorMsg string

	sessions       []*entity.ChatSession
	sessionsGen    uint64
	unsubSessions  contract.Unsubscribe
	currentSeen    bool
	sessionId      string
	switchGen      uint64
	messagesGen    uint64
	unsubMessages  contract.Unsubscribe
	retired        []contract.Unsubscribe
	messages       *reconcile.Reconciler
	pendingReplies int

	dirty chan struct{}
	done  chan struct{}
}

func newChatView(userId string, turns *chatTurns, sink ViewSink, log logger.ILogger) *ChatView {
	v := &ChatView{
		userId:   userId,
		turns:    turns,
		sink:     sink,
		mapper:   mapper.NewChatMapper(),
		logger:   log,
		messages: reconcile.New(),
		dirty:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	v.mu.Lock()
	v.subscribeSessionsLocked()
	v.mu.Unlock()

	go v.pushLoop()
	v.changed()
	return v
}

func (v *ChatView) changed() {
	select {
	case v.dirty <- struct{}{}:
	default:
	}
}

func (v *ChatView) pushLoop() {
	for {
		select {
		case <-v.done:
			return
		case <-v.dirty:
			v.sink.Push(v.State())
		}
	}
}

// update runs fn under the lock unless the view was closed, then schedules a
// push.
func (v *ChatView) update(fn func()) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	fn()
	retired := v.takeRetiredLocked()
	v.mu.Unlock()
	unsubscribeAll(retired)
	v.changed()
}

// retireLocked queues unsubscribe to run once v.mu is released. Callbacks take
// v.mu, and unsubscribe waits for them.
func (v *ChatView) retireLocked(unsubscribe contract.Unsubscribe) {
	if unsubscribe != nil {
		v.retired = append(v.retired, unsubscribe)
	}
}

func (v *ChatView) takeRetiredLocked() []contract.Unsubscribe {
	retired := v.retired
	v.retired = nil
	return retired
}

func unsubscribeAll(retired []contract.Unsubscribe) {
	for _, unsubscribe := range retired {
		unsubscribe()
	}
}

// updateSession is update restricted to the session shown at switch
// generation gen. It reports whether fn ran.
func (v *ChatView) updateSession(gen uint64, fn func()) bool {
	ran := false
	v.update(func() {
		if v.switchGen != gen {
			return
		}
		fn()
		ran = true
	})
	return ran
}

func (v *ChatView) setError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	v.update(func() { v.errorMsg = msg })
}

// Sessions

func (v *ChatView) subscribeSessionsLocked() {
	v.retireLocked(v.unsubSessions)
	v.sessionsGen++
	gen := v.sessionsGen
	v.unsubSessions = v.turns.sessions.Subscribe(v.userId,
		func(list []*entity.ChatSession) { v.onSessions(gen, list) },
		func(err error) { v.onSessionsError(gen, err) },
	)
}

func (v *ChatView) onSessions(gen uint64, list []*entity.ChatSession) {
	v.update(func() {
		if v.sessionsGen != gen {
			return
		}
		v.sessions = list

		if v.sessionId == "" {
			return
		}
		present := false
		for _, s := range list {
			if s.Id == v.sessionId {
				present = true
				break
			}
		}
		// A session created by this view may not be listed yet; only a
		// session that was listed before can disappear.
		if present {
			v.currentSeen = true
		} else if v.currentSeen {
			v.switchLocked("")
		}
	})
}

func (v *ChatView) onSessionsError(gen uint64, err error) {
	v.logger.Warn("ChatView", "Session subscription failed", map[string]interface{}{
		"user_id": v.userId,
		"error":   err.Error(),
	})
	v.update(func() {
		if v.sessionsGen != gen {
			return
		}
		v.unsubSessions = nil
		v.errorMsg = "Chat list is out of date: " + err.Error()
	})
}

// ResubscribeSessions replaces the session subscription, e.g. after it failed.
func (v *ChatView) ResubscribeSessions() {
	v.update(func() {
		v.errorMsg = ""
		v.subscribeSessionsLocked()
	})
}

// Messages

// switchLocked tears down the message subscription before establishing the
// next one. Deliveries still in flight for the old one carry a stale
// generation and are dropped.
func (v *ChatView) switchLocked(sessionId string) {
	v.retireLocked(v.unsubMessages)
	v.unsubMessages = nil
	v.switchGen++
	v.messagesGen++
	v.messages.Reset()
	v.pendingReplies = 0
	v.sessionId = sessionId
	v.currentSeen = false
	for _, s := range v.sessions {
		if s.Id == sessionId {
			v.currentSeen = true
		}
	}
	if sessionId == "" {
		return
	}
	v.subscribeMessagesLocked()
}

func (v *ChatView) subscribeMessagesLocked() {
	v.messagesGen++
	gen := v.messagesGen
	sessionId := v.sessionId
	v.unsubMessages = v.turns.messages.Subscribe(v.userId, sessionId,
		func(list []*entity.ChatMessage) { v.onMessages(gen, list) },
		func(err error) { v.onMessagesError(gen, sessionId, err) },
	)
}

func (v *ChatView) onMessages(gen uint64, list []*entity.ChatMessage) {
	authoritative := make([]reconcile.Message, 0, len(list))
	for _, m := range list {
		authoritative = append(authoritative, v.mapper.ChatMessageToReconcile(m))
	}
	v.update(func() {
		if v.messagesGen != gen {
			return
		}
		v.messages.Replace(authoritative)
	})
}

func (v *ChatView) onMessagesError(gen uint64, sessionId string, err error) {
	v.logger.Warn("ChatView", "Message subscription failed", map[string]interface{}{
		"user_id":    v.userId,
		"session_id": sessionId,
		"error":      err.Error(),
	})
	v.update(func() {
		if v.messagesGen != gen {
			return
		}
		v.unsubMessages = nil
		v.errorMsg = "Messages are out of date: " + err.Error()
	})
}

// SwitchSession shows sessionId. An empty id shows the blank "new chat" screen.
func (v *ChatView) SwitchSession(sessionId string) {
	v.update(func() {
		v.errorMsg = ""
		v.switchLocked(sessionId)
	})
}

// Resubscribe re-establishes whichever subscriptions have failed, keeping
// local entries.
func (v *ChatView) Resubscribe() {
	v.update(func() {
		v.errorMsg = ""
		if v.unsubSessions == nil {
			v.subscribeSessionsLocked()
		}
		if v.sessionId != "" && v.unsubMessages == nil {
			v.subscribeMessagesLocked()
		}
	})
}

// Commands

// NewChat creates an empty session and switches to it.
func (v *ChatView) NewChat(ctx context.Context) (string, error) {
	id, err := v.turns.createSession(ctx, v.userId)
	if err != nil {
		v.setError("Failed to create chat: %v", err)
		return "", err
	}
	v.SwitchSession(id)
	return id, nil
}

func (v *ChatView) DeleteChat(ctx context.Context, sessionId string) error {
	if err := v.turns.deleteSession(ctx, v.userId, sessionId); err != nil {
		v.setError("Failed to delete chat: %v", err)
		return err
	}
	v.update(func() {
		if v.sessionId == sessionId {
			v.switchLocked("")
		}
	})
	return nil
}

// Submit sends text to the current session, creating one first if none is
// selected, and then stores the assistant's reply. Both messages show up
// immediately as local entries. Only a failure to store the user's message is
// returned; reply failures end in the fallback reply and an inline error.
func (v *ChatView) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return contract.ErrEmptyMessage
	}

	v.mu.Lock()
	sessionId := v.sessionId
	v.mu.Unlock()

	if sessionId == "" {
		id, err := v.turns.createSession(ctx, v.userId)
		if err != nil {
			v.setError("Failed to start chat: %v", err)
			return err
		}
		v.update(func() {
			if v.sessionId == "" {
				v.switchLocked(id)
			}
		})
		sessionId = id
	}

	var gen uint64
	var tempId string
	v.update(func() {
		if v.sessionId != sessionId {
			return
		}
		gen = v.switchGen
		tempId = v.messages.AddPending(constant.ChatMessageRoleUser, text)
		v.errorMsg = ""
	})

	sentId, err := v.turns.appendMessage(ctx, v.userId, sessionId, constant.ChatMessageRoleUser, text)
	if err != nil {
		v.updateSession(gen, func() {
			v.messages.Fail(tempId)
			v.errorMsg = "Failed to send message: " + err.Error()
		})
		return err
	}

	var placeholderId string
	v.updateSession(gen, func() {
		v.messages.Confirm(tempId, sentId)
		placeholderId = v.messages.AddPending(constant.ChatMessageRoleAssistant, constant.ChatAssistantPlaceholder)
		v.pendingReplies++
	})

	reply, replyErr := v.turns.respond(ctx, v.userId, sessionId, sentId, text)
	content := replyContent(reply, replyErr)
	v.updateSession(gen, func() {
		v.messages.SetContent(placeholderId, content)
	})

	replyId, err := v.turns.appendMessage(ctx, v.userId, sessionId, constant.ChatMessageRoleAssistant, content)
	v.updateSession(gen, func() {
		v.pendingReplies--
		switch {
		case err != nil:
			v.messages.Fail(placeholderId)
			v.errorMsg = "Failed to store reply: " + err.Error()
		case replyErr != nil:
			v.messages.Confirm(placeholderId, replyId)
			v.errorMsg = "AI response failed: " + replyErr.Error()
		default:
			v.messages.Confirm(placeholderId, replyId)
		}
	})
	return nil
}

// State returns a copy of what the client should display.
func (v *ChatView) State() *dto.ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()

	state := &dto.ViewState{
		SessionId:     v.sessionId,
		Sessions:      make([]dto.SessionResponse, 0, len(v.sessions)),
		AwaitingReply: v.pendingReplies > 0,
		Error:         v.errorMsg,
	}
	for _, s := range v.sessions {
		state.Sessions = append(state.Sessions, v.mapper.ChatSessionToResponse(s))
	}
	msgs := v.messages.Messages()
	state.Messages = make([]dto.ViewMessageResponse, 0, len(msgs))
	for _, m := range msgs {
		failed := m.State == reconcile.StatePendingLocal && v.messages.Failed(m.Id)
		state.Messages = append(state.Messages, v.mapper.ReconcileToViewMessage(m, failed))
	}
	return state
}

// Close ends both subscriptions and stops pushing. It is idempotent.
func (v *ChatView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.retireLocked(v.unsubSessions)
	v.retireLocked(v.unsubMessages)
	v.unsubSessions = nil
	v.unsubMessages = nil
	v.switchGen++
	v.messagesGen++
	v.sessionsGen++
	close(v.done)
	retired := v.takeRetiredLocked()
	v.mu.Unlock()
	unsubscribeAll(retired)
}
