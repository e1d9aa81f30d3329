package contract

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("chat session not found")
	ErrSessionChanged    = errors.New("chat session changed since read")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrMalformedDocument = errors.New("malformed document")
	ErrEmptyMessage      = errors.New("message content is empty")
	ErrInvalidRole       = errors.New("invalid message role")
)

// MetadataSyncError reports an append whose message write succeeded but whose
// session metadata write failed. The message is durable; the session's
// lastMessageText, updatedAt and possibly title are stale until repaired.
type MetadataSyncError struct {
	UserId    string
	SessionId string
	MessageId string
	Cause     error
}

func (e *MetadataSyncError) Error() string {
	return fmt.Sprintf("message %s persisted but session %s metadata update failed: %v", e.MessageId, e.SessionId, e.Cause)
}

func (e *MetadataSyncError) Unwrap() error {
	return e.Cause
}
