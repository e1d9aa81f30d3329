package contract

import (
	"context"

	"reflection-chat-be/internal/entity"
)

type ChatMessageRepository interface {
	// Append stores the message and then updates the parent session metadata
	// in a second write. If only the second write fails the returned error is
	// a *MetadataSyncError and the message id is still returned.
	Append(ctx context.Context, userId, sessionId string, message entity.NewChatMessage) (string, error)
	// FindAll returns messages ordered by createdAt ascending.
	FindAll(ctx context.Context, userId, sessionId string) ([]*entity.ChatMessage, error)
	Subscribe(userId, sessionId string, onUpdate func([]*entity.ChatMessage), onError func(error)) Unsubscribe
	DeleteAll(ctx context.Context, userId, sessionId string) error
}
