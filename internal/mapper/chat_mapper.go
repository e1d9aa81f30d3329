package mapper

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"reflection-chat-be/internal/constant"
	"reflection-chat-be/internal/dto"
	"reflection-chat-be/internal/entity"
	"reflection-chat-be/internal/repository/contract"
	"reflection-chat-be/pkg/chat/reconcile"
	"reflection-chat-be/pkg/docstore"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Session Mappers

func (m *ChatMapper) NewChatSessionFields(userId string) docstore.Fields {
	return docstore.Fields{
		constant.FieldUserId:          userId,
		constant.FieldTitle:           "",
		constant.FieldLastMessageText: "",
		constant.FieldCreatedAt:       docstore.ServerTimestamp,
		constant.FieldUpdatedAt:       docstore.ServerTimestamp,
	}
}

func (m *ChatMapper) ChatSessionMetadataFields(update contract.SessionMetadataUpdate) docstore.Fields {
	fields := docstore.Fields{
		constant.FieldLastMessageText: update.LastMessageText,
		constant.FieldUpdatedAt:       docstore.ServerTimestamp,
	}
	if !update.UpdatedAt.IsZero() {
		fields[constant.FieldUpdatedAt] = update.UpdatedAt.UTC()
	}
	if update.Title != nil {
		fields[constant.FieldTitle] = *update.Title
	}
	return fields
}

func (m *ChatMapper) ChatSessionToEntity(snap docstore.Snapshot) (*entity.ChatSession, error) {
	r := fieldReader{snap: snap}
	s := &entity.ChatSession{
		Id:              snap.ID,
		UserId:          r.str(constant.FieldUserId),
		Title:           r.str(constant.FieldTitle),
		LastMessageText: r.str(constant.FieldLastMessageText),
		CreatedAt:       r.timestamp(constant.FieldCreatedAt),
		UpdatedAt:       r.timestamp(constant.FieldUpdatedAt),
	}
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

// Message Mappers

func (m *ChatMapper) NewChatMessageFields(role, content string) docstore.Fields {
	return docstore.Fields{
		constant.FieldRole:      role,
		constant.FieldContent:   content,
		constant.FieldCreatedAt: docstore.ServerTimestamp,
	}
}

func (m *ChatMapper) ChatMessageToEntity(sessionId string, snap docstore.Snapshot) (*entity.ChatMessage, error) {
	r := fieldReader{snap: snap}
	msg := &entity.ChatMessage{
		Id:        snap.ID,
		SessionId: sessionId,
		Role:      r.str(constant.FieldRole),
		Content:   r.str(constant.FieldContent),
		CreatedAt: r.timestamp(constant.FieldCreatedAt),
	}
	if r.err != nil {
		return nil, r.err
	}
	role, err := NormalizeRole(msg.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contract.ErrMalformedDocument, snap.Path, err)
	}
	msg.Role = role
	return msg, nil
}

// NormalizeRole maps accepted role spellings onto the canonical set.
func NormalizeRole(role string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case constant.ChatMessageRoleUser:
		return constant.ChatMessageRoleUser, nil
	case constant.ChatMessageRoleAssistant, constant.ChatMessageRoleLegacyAI:
		return constant.ChatMessageRoleAssistant, nil
	case constant.ChatMessageRoleSystem:
		return constant.ChatMessageRoleSystem, nil
	}
	return "", fmt.Errorf("%w: %q", contract.ErrInvalidRole, role)
}

// TitleFromContent truncates to the first ChatSessionTitleMaxLength runes and
// appends the ellipsis marker when anything was cut.
func TitleFromContent(content string) string {
	if utf8.RuneCountInString(content) <= constant.ChatSessionTitleMaxLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:constant.ChatSessionTitleMaxLength]) + constant.ChatSessionTitleEllipsis
}

// fieldReader collects the first type error while reading document fields.
type fieldReader struct {
	snap docstore.Snapshot
	err  error
}

func (r *fieldReader) fail(field, want string, got any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s: field %q: want %s, got %T", contract.ErrMalformedDocument, r.snap.Path, field, want, got)
	}
}

func (r *fieldReader) str(field string) string {
	v, ok := r.snap.Data[field]
	if !ok {
		r.fail(field, "string", nil)
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(field, "string", v)
	}
	return s
}

func (r *fieldReader) timestamp(field string) time.Time {
	v, ok := r.snap.Data[field]
	if !ok {
		r.fail(field, "timestamp", nil)
		return time.Time{}
	}
	t, ok := v.(time.Time)
	if !ok {
		r.fail(field, "timestamp", v)
	}
	return t
}

// Response Mappers

func (m *ChatMapper) ChatSessionToResponse(s *entity.ChatSession) dto.SessionResponse {
	return dto.SessionResponse{
		Id:              s.Id,
		Title:           s.Title,
		LastMessageText: s.LastMessageText,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (m *ChatMapper) ChatMessageToResponse(msg *entity.ChatMessage) *dto.MessageResponse {
	if msg == nil {
		return nil
	}
	return &dto.MessageResponse{
		Id:        msg.Id,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func (m *ChatMapper) ChatMessageToReconcile(msg *entity.ChatMessage) reconcile.Message {
	return reconcile.Message{
		Id:        msg.Id,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func (m *ChatMapper) ReconcileToViewMessage(msg reconcile.Message, failed bool) dto.ViewMessageResponse {
	return dto.ViewMessageResponse{
		Id:        msg.Id,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		State:     string(msg.State),
		Failed:    failed,
	}
}
