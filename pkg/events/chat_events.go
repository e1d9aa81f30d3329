package events

import "time"

const (
	ChatSessionCreated     = "CHAT_SESSION_CREATED"
	ChatSessionDeleted     = "CHAT_SESSION_DELETED"
	ChatMessageAppended    = "CHAT_MESSAGE_APPENDED"
	ChatMetadataSyncFailed = "CHAT_METADATA_SYNC_FAILED"
)

func NewChatSessionCreated(userId, sessionId string) BaseEvent {
	return BaseEvent{
		Type: ChatSessionCreated,
		Data: map[string]interface{}{
			"user_id":    userId,
			"session_id": sessionId,
		},
		OccurredAt: time.Now(),
	}
}

func NewChatSessionDeleted(userId, sessionId string) BaseEvent {
	return BaseEvent{
		Type: ChatSessionDeleted,
		Data: map[string]interface{}{
			"user_id":    userId,
			"session_id": sessionId,
		},
		OccurredAt: time.Now(),
	}
}

func NewChatMessageAppended(userId, sessionId, messageId, role string) BaseEvent {
	return BaseEvent{
		Type: ChatMessageAppended,
		Data: map[string]interface{}{
			"user_id":    userId,
			"session_id": sessionId,
			"message_id": messageId,
			"role":       role,
		},
		OccurredAt: time.Now(),
	}
}

func NewChatMetadataSyncFailed(userId, sessionId, messageId string, cause error) BaseEvent {
	return BaseEvent{
		Type: ChatMetadataSyncFailed,
		Data: map[string]interface{}{
			"user_id":    userId,
			"session_id": sessionId,
			"message_id": messageId,
			"error":      cause.Error(),
		},
		OccurredAt: time.Now(),
	}
}

// StringField reads a string payload field, returning "" if absent.
func StringField(e Event, key string) string {
	s, _ := e.Payload()[key].(string)
	return s
}
