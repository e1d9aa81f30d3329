package implementation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reflection-chat-be/internal/constant"
	"reflection-chat-be/internal/entity"
	"reflection-chat-be/internal/mapper"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/internal/repository/contract"
	"reflection-chat-be/pkg/docstore"

	"github.com/google/uuid"
)

const messagePurgeTimeout = 30 * time.Second

type ChatSessionRepositoryImpl struct {
	store  docstore.Store
	mapper *mapper.ChatMapper
	logger logger.ILogger
}

func NewChatSessionRepository(store docstore.Store, logger logger.ILogger) contract.ChatSessionRepository {
	return &ChatSessionRepositoryImpl{
		store:  store,
		mapper: mapper.NewChatMapper(),
		logger: logger,
	}
}

func (r *ChatSessionRepositoryImpl) Create(ctx context.Context, userId string) (string, error) {
	coll, err := sessionsPath(userId)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := r.store.Set(ctx, coll.Child(id), r.mapper.NewChatSessionFields(userId)); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (r *ChatSessionRepositoryImpl) FindOne(ctx context.Context, userId, sessionId string) (*entity.ChatSession, error) {
	path, err := sessionPath(userId, sessionId)
	if err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, contract.ErrSessionNotFound
		}
		return nil, err
	}
	return r.mapper.ChatSessionToEntity(snap)
}

func (r *ChatSessionRepositoryImpl) query(coll docstore.Path) docstore.Query {
	return docstore.Query{
		Collection: coll,
		OrderBy:    constant.FieldUpdatedAt,
		Direction:  docstore.Desc,
	}
}

func (r *ChatSessionRepositoryImpl) FindAll(ctx context.Context, userId string) ([]*entity.ChatSession, error) {
	coll, err := sessionsPath(userId)
	if err != nil {
		return nil, err
	}
	snaps, err := r.store.Query(ctx, r.query(coll))
	if err != nil {
		return nil, err
	}

	sessions := make([]*entity.ChatSession, 0, len(snaps))
	for _, snap := range snaps {
		s, err := r.mapper.ChatSessionToEntity(snap)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *ChatSessionRepositoryImpl) Subscribe(userId string, onUpdate func([]*entity.ChatSession), onError func(error)) contract.Unsubscribe {
	coll, err := sessionsPath(userId)
	if err != nil {
		return failedSubscription(err, onError)
	}

	unsubscribe := r.store.Watch(r.query(coll), func(snaps []docstore.Snapshot) {
		sessions := make([]*entity.ChatSession, 0, len(snaps))
		for _, snap := range snaps {
			s, err := r.mapper.ChatSessionToEntity(snap)
			if err != nil {
				r.logger.Warn("ChatSessionRepository", "Skipping malformed session document", map[string]interface{}{
					"path":  snap.Path.String(),
					"error": err.Error(),
				})
				continue
			}
			sessions = append(sessions, s)
		}
		onUpdate(sessions)
	}, onError)
	return contract.Unsubscribe(unsubscribe)
}

func (r *ChatSessionRepositoryImpl) Delete(ctx context.Context, userId, sessionId string) error {
	path, err := sessionPath(userId, sessionId)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	go r.purgeMessages(path.Child(constant.CollectionMessages), sessionId)
	return nil
}

func (r *ChatSessionRepositoryImpl) purgeMessages(coll docstore.Path, sessionId string) {
	ctx, cancel := context.WithTimeout(context.Background(), messagePurgeTimeout)
	defer cancel()

	if err := r.store.DeleteCollection(ctx, coll); err != nil {
		r.logger.Error("ChatSessionRepository", "Failed to purge messages of deleted session", map[string]interface{}{
			"session_id": sessionId,
			"error":      err.Error(),
		})
		return
	}
	r.logger.Debug("ChatSessionRepository", "Purged messages of deleted session", map[string]interface{}{
		"session_id": sessionId,
	})
}

func (r *ChatSessionRepositoryImpl) UpdateMetadata(ctx context.Context, userId, sessionId string, update contract.SessionMetadataUpdate) error {
	path, err := sessionPath(userId, sessionId)
	if err != nil {
		return err
	}
	if err := r.store.Update(ctx, path, r.mapper.ChatSessionMetadataFields(update)); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return contract.ErrSessionNotFound
		}
		return fmt.Errorf("update session metadata: %w", err)
	}
	return nil
}

func (r *ChatSessionRepositoryImpl) UpdateMetadataIf(ctx context.Context, userId, sessionId string, readAt time.Time, update contract.SessionMetadataUpdate) error {
	path, err := sessionPath(userId, sessionId)
	if err != nil {
		return err
	}
	pre := docstore.Precondition{Field: constant.FieldUpdatedAt, Value: readAt}
	if err := r.store.UpdateIf(ctx, path, pre, r.mapper.ChatSessionMetadataFields(update)); err != nil {
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			return contract.ErrSessionNotFound
		case errors.Is(err, docstore.ErrPreconditionFailed):
			return contract.ErrSessionChanged
		}
		return fmt.Errorf("update session metadata: %w", err)
	}
	return nil
}
