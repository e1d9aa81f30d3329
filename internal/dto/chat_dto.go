package dto

import (
	"time"
)

type CreateSessionResponse struct {
	Id string `json:"id"`
}

type SessionResponse struct {
	Id              string    `json:"id"`
	Title           string    `json:"title"`
	LastMessageText string    `json:"last_message_text"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type MessageResponse struct {
	Id        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type SendChatRequest struct {
	SessionId       string `json:"-" validate:"required"`
	Content         string `json:"content" validate:"required,max=8000"`
	ClientMessageId string `json:"client_message_id,omitempty" validate:"omitempty,max=128"` // Retries with the same id are answered from cache
}

type SendChatResponse struct {
	SessionId  string           `json:"session_id"`
	Sent       *MessageResponse `json:"sent"`
	Reply      *MessageResponse `json:"reply"`
	ReplyError string           `json:"reply_error,omitempty"` // Set when Reply is the fallback message
}

// --- Live view ---

type ViewMessageResponse struct {
	Id        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	State     string    `json:"state"` // "pending-local" | "confirmed"
	Failed    bool      `json:"failed,omitempty"`
}

type ViewState struct {
	SessionId     string                `json:"session_id"`
	Sessions      []SessionResponse     `json:"sessions"`
	Messages      []ViewMessageResponse `json:"messages"`
	AwaitingReply bool                  `json:"awaiting_reply"`
	Error         string                `json:"error,omitempty"`
}

type StreamCommand struct {
	Type      string `json:"type" validate:"required,oneof=submit new_chat delete_chat switch_session resubscribe"`
	SessionId string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Stream message types sent to websocket clients.
const (
	StreamMessageTypeState = "state"
	StreamMessageTypeEvent = "event"
	StreamMessageTypeError = "error"
)

type StreamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
