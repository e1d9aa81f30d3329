package implementation

import (
	"context"
	"fmt"
	"strings"

	"reflection-chat-be/internal/constant"
	"reflection-chat-be/internal/entity"
	"reflection-chat-be/internal/mapper"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/internal/repository/contract"
	"reflection-chat-be/pkg/docstore"
)

type ChatMessageRepositoryImpl struct {
	store    docstore.Store
	sessions contract.ChatSessionRepository
	mapper   *mapper.ChatMapper
	logger   logger.ILogger
}

func NewChatMessageRepository(store docstore.Store, sessions contract.ChatSessionRepository, logger logger.ILogger) contract.ChatMessageRepository {
	return &ChatMessageRepositoryImpl{
		store:    store,
		sessions: sessions,
		mapper:   mapper.NewChatMapper(),
		logger:   logger,
	}
}

func (r *ChatMessageRepositoryImpl) Append(ctx context.Context, userId, sessionId string, message entity.NewChatMessage) (string, error) {
	role, err := mapper.NormalizeRole(message.Role)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(message.Content) == "" {
		return "", contract.ErrEmptyMessage
	}
	coll, err := messagesPath(userId, sessionId)
	if err != nil {
		return "", err
	}

	session, err := r.sessions.FindOne(ctx, userId, sessionId)
	if err != nil {
		return "", err
	}

	id, err := r.store.Add(ctx, coll, r.mapper.NewChatMessageFields(role, message.Content))
	if err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}

	// Second, independent write. The store has no multi-document transaction.
	update := contract.SessionMetadataUpdate{LastMessageText: message.Content}
	if session.Title == "" && role == constant.ChatMessageRoleUser {
		title := mapper.TitleFromContent(message.Content)
		update.Title = &title
	}
	if err := r.sessions.UpdateMetadata(ctx, userId, sessionId, update); err != nil {
		r.logger.Error("ChatMessageRepository", "Message stored but session metadata update failed", map[string]interface{}{
			"user_id":    userId,
			"session_id": sessionId,
			"message_id": id,
			"error":      err.Error(),
		})
		return id, &contract.MetadataSyncError{
			UserId:    userId,
			SessionId: sessionId,
			MessageId: id,
			Cause:     err,
		}
	}
	return id, nil
}

func (r *ChatMessageRepositoryImpl) query(coll docstore.Path) docstore.Query {
	return docstore.Query{
		Collection: coll,
		OrderBy:    constant.FieldCreatedAt,
		Direction:  docstore.Asc,
	}
}

func (r *ChatMessageRepositoryImpl) FindAll(ctx context.Context, userId, sessionId string) ([]*entity.ChatMessage, error) {
	coll, err := messagesPath(userId, sessionId)
	if err != nil {
		return nil, err
	}
	snaps, err := r.store.Query(ctx, r.query(coll))
	if err != nil {
		return nil, err
	}

	messages := make([]*entity.ChatMessage, 0, len(snaps))
	for _, snap := range snaps {
		m, err := r.mapper.ChatMessageToEntity(sessionId, snap)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (r *ChatMessageRepositoryImpl) Subscribe(userId, sessionId string, onUpdate func([]*entity.ChatMessage), onError func(error)) contract.Unsubscribe {
	coll, err := messagesPath(userId, sessionId)
	if err != nil {
		return failedSubscription(err, onError)
	}

	unsubscribe := r.store.Watch(r.query(coll), func(snaps []docstore.Snapshot) {
		messages := make([]*entity.ChatMessage, 0, len(snaps))
		for _, snap := range snaps {
			m, err := r.mapper.ChatMessageToEntity(sessionId, snap)
			if err != nil {
				r.logger.Warn("ChatMessageRepository", "Skipping malformed message document", map[string]interface{}{
					"path":  snap.Path.String(),
					"error": err.Error(),
				})
				continue
			}
			messages = append(messages, m)
		}
		onUpdate(messages)
	}, onError)
	return contract.Unsubscribe(unsubscribe)
}

func (r *ChatMessageRepositoryImpl) DeleteAll(ctx context.Context, userId, sessionId string) error {
	coll, err := messagesPath(userId, sessionId)
	if err != nil {
		return err
	}
	if err := r.store.DeleteCollection(ctx, coll); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
