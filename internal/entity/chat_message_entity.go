package entity

import (
	"time"
)

type ChatMessage struct {
	Id        string
	SessionId string
	Role      string
	Content   string
	CreatedAt time.Time
}

// NewChatMessage is the caller-supplied part of a message; the store assigns
// the id and the timestamp.
type NewChatMessage struct {
	Role    string
	Content string
}
