package contract

import (
	"context"
	"time"

	"reflection-chat-be/internal/entity"
)

// Unsubscribe stops a live subscription. It is idempotent and waits for a
// callback in flight, so it must not be called under a lock the callbacks take.
type Unsubscribe func()

// SessionMetadataUpdate is applied by UpdateMetadata. A zero UpdatedAt means
// "now" on the store's clock; a nil Title leaves the title untouched.
type SessionMetadataUpdate struct {
	LastMessageText string
	UpdatedAt       time.Time
	Title           *string
}

type ChatSessionRepository interface {
	Create(ctx context.Context, userId string) (string, error)
	FindOne(ctx context.Context, userId, sessionId string) (*entity.ChatSession, error)
	// FindAll returns the user's sessions ordered by updatedAt descending.
	FindAll(ctx context.Context, userId string) ([]*entity.ChatSession, error)
	// Subscribe delivers the full ordered session list now and after every
	// change. onError ends the subscription; callers re-subscribe to resume.
	Subscribe(userId string, onUpdate func([]*entity.ChatSession), onError func(error)) Unsubscribe
	// Delete removes the session document and purges its messages in the
	// background. Message removal is best-effort.
	Delete(ctx context.Context, userId, sessionId string) error
	UpdateMetadata(ctx context.Context, userId, sessionId string, update SessionMetadataUpdate) error
	// UpdateMetadataIf applies update only while the session's updatedAt still
	// equals readAt. Returns ErrSessionChanged otherwise.
	UpdateMetadataIf(ctx context.Context, userId, sessionId string, readAt time.Time, update SessionMetadataUpdate) error
}
