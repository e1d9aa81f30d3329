package service

import (
	"context"
	"errors"
	"fmt"

	"reflection-chat-be/internal/constant"
	"reflection-chat-be/internal/entity"
	"reflection-chat-be/internal/mapper"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/internal/repository/contract"
)

const maxRepairAttempts = 3

type IRepairService interface {
	// Repair recomputes a session's metadata from its stored messages.
	Repair(ctx context.Context, userId, sessionId string) (*entity.ChatSession, error)
}

type repairService struct {
	sessions contract.ChatSessionRepository
	messages contract.ChatMessageRepository
	logger   logger.ILogger
}

func NewRepairService(sessions contract.ChatSessionRepository, messages contract.ChatMessageRepository, log logger.ILogger) IRepairService {
	return &repairService{
		sessions: sessions,
		messages: messages,
		logger:   log,
	}
}

// Repair sets lastMessageText and updatedAt from the newest message and fills
// an empty title from the first user message. It never moves updatedAt back
// and never overwrites a title that is already set. The write only lands if
// the session is unchanged since it was read; otherwise Repair reads again.
func (s *repairService) Repair(ctx context.Context, userId, sessionId string) (*entity.ChatSession, error) {
	for attempt := 1; ; attempt++ {
		session, repaired, err := s.repairOnce(ctx, userId, sessionId)
		switch {
		case err == nil && !repaired:
			return session, nil
		case err == nil:
			return s.sessions.FindOne(ctx, userId, sessionId)
		case !errors.Is(err, contract.ErrSessionChanged), attempt >= maxRepairAttempts:
			return nil, err
		}
		s.logger.Debug("RepairService", "Session changed during repair, retrying", map[string]interface{}{
			"user_id":    userId,
			"session_id": sessionId,
			"attempt":    attempt,
		})
	}
}

func (s *repairService) repairOnce(ctx context.Context, userId, sessionId string) (*entity.ChatSession, bool, error) {
	session, err := s.sessions.FindOne(ctx, userId, sessionId)
	if err != nil {
		return nil, false, err
	}
	messages, err := s.messages.FindAll(ctx, userId, sessionId)
	if err != nil {
		return nil, false, fmt.Errorf("load messages: %w", err)
	}
	if len(messages) == 0 {
		return session, false, nil
	}

	last := messages[len(messages)-1]
	update := contract.SessionMetadataUpdate{
		LastMessageText: last.Content,
		UpdatedAt:       last.CreatedAt,
	}
	if session.UpdatedAt.After(update.UpdatedAt) {
		update.UpdatedAt = session.UpdatedAt
	}
	if session.Title == "" {
		for _, m := range messages {
			if m.Role == constant.ChatMessageRoleUser {
				title := mapper.TitleFromContent(m.Content)
				update.Title = &title
				break
			}
		}
	}

	if session.LastMessageText == update.LastMessageText &&
		session.UpdatedAt.Equal(update.UpdatedAt) &&
		update.Title == nil {
		return session, false, nil
	}

	if err := s.sessions.UpdateMetadataIf(ctx, userId, sessionId, session.UpdatedAt, update); err != nil {
		if errors.Is(err, contract.ErrSessionChanged) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("repair metadata: %w", err)
	}

	s.logger.Info("RepairService", "Session metadata repaired", map[string]interface{}{
		"user_id":    userId,
		"session_id": sessionId,
		"messages":   len(messages),
	})
	return session, true, nil
}
