package service

import (
	"context"
	"errors"
	"strings"

	"reflection-chat-be/internal/constant"
	"reflection-chat-be/internal/entity"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/internal/repository/contract"
	"reflection-chat-be/pkg/events"
	"reflection-chat-be/pkg/responder"
)

// chatTurns holds the write path shared by the REST service and live views:
// persisting messages, asking the responder and announcing what happened.
type chatTurns struct {
	sessions  contract.ChatSessionRepository
	messages  contract.ChatMessageRepository
	responder responder.Responder
	repair    IRepairService
	publisher events.Publisher
	logger    logger.ILogger
}

func (t *chatTurns) publish(ctx context.Context, event events.Event) {
	if err := t.publisher.Publish(ctx, event); err != nil {
		t.logger.Warn("ChatService", "Failed to publish event", map[string]interface{}{
			"event": event.EventType(),
			"error": err.Error(),
		})
	}
}

func (t *chatTurns) createSession(ctx context.Context, userId string) (string, error) {
	id, err := t.sessions.Create(ctx, userId)
	if err != nil {
		return "", err
	}
	t.publish(ctx, events.NewChatSessionCreated(userId, id))
	return id, nil
}

func (t *chatTurns) deleteSession(ctx context.Context, userId, sessionId string) error {
	if err := t.sessions.Delete(ctx, userId, sessionId); err != nil {
		return err
	}
	t.publish(ctx, events.NewChatSessionDeleted(userId, sessionId))
	return nil
}

// appendMessage treats a metadata sync failure as a successful send: the
// message is durable. The session is repaired inline when possible and a
// repair event is published either way.
func (t *chatTurns) appendMessage(ctx context.Context, userId, sessionId, role, content string) (string, error) {
	id, err := t.messages.Append(ctx, userId, sessionId, entity.NewChatMessage{
		Role:    role,
		Content: content,
	})

	var syncErr *contract.MetadataSyncError
	switch {
	case errors.As(err, &syncErr):
		t.publish(ctx, events.NewChatMetadataSyncFailed(userId, sessionId, id, syncErr.Cause))
		if _, repairErr := t.repair.Repair(ctx, userId, sessionId); repairErr != nil {
			t.logger.Warn("ChatService", "Inline metadata repair failed, deferring to worker", map[string]interface{}{
				"session_id": sessionId,
				"error":      repairErr.Error(),
			})
		}
	case err != nil:
		return "", err
	}

	t.publish(ctx, events.NewChatMessageAppended(userId, sessionId, id, role))
	return id, nil
}

// respond asks the responder about userText. History is every stored message
// before sentId.
func (t *chatTurns) respond(ctx context.Context, userId, sessionId, sentId, userText string) (string, error) {
	messages, err := t.messages.FindAll(ctx, userId, sessionId)
	if err != nil {
		return "", err
	}

	history := make([]responder.Turn, 0, len(messages))
	for _, m := range messages {
		if m.Id == sentId {
			break
		}
		history = append(history, responder.Turn{Role: m.Role, Content: m.Content})
	}

	reply, err := t.responder.Respond(ctx, responder.Request{
		SessionId: sessionId,
		UserText:  userText,
		History:   history,
	})
	if err == nil && strings.TrimSpace(reply) == "" {
		err = responder.ErrMalformedReply
	}
	if err != nil {
		t.logger.Error("ChatService", "AI responder failed, sending fallback reply", map[string]interface{}{
			"session_id": sessionId,
			"error":      err.Error(),
		})
		return "", err
	}
	return reply, nil
}

// replyContent is what gets persisted for a responder outcome.
func replyContent(reply string, err error) string {
	if err != nil {
		return constant.ChatAssistantFallbackReply
	}
	return reply
}
