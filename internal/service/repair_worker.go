package service

import (
	"context"
	"errors"
	"fmt"

	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/internal/repository/contract"
	"reflection-chat-be/pkg/events"
	pktNats "reflection-chat-be/pkg/nats"
)

const repairWorkerDurable = "chat-repair-worker"

type EventSubscriber interface {
	Subscribe(ctx context.Context, subject, durableName string, handler pktNats.EventHandler) error
}

// RepairWorker repairs sessions whose metadata write failed after the inline
// repair attempt also failed.
type RepairWorker struct {
	repair     IRepairService
	subscriber EventSubscriber
	logger     logger.ILogger
}

func NewRepairWorker(repair IRepairService, sub EventSubscriber, log logger.ILogger) *RepairWorker {
	return &RepairWorker{
		repair:     repair,
		subscriber: sub,
		logger:     log,
	}
}

func (w *RepairWorker) Start(ctx context.Context) error {
	subject := pktNats.Subject(events.ChatMetadataSyncFailed)
	if err := w.subscriber.Subscribe(ctx, subject, repairWorkerDurable, w.handleEvent); err != nil {
		return fmt.Errorf("subscribe repair worker: %w", err)
	}
	return nil
}

func (w *RepairWorker) handleEvent(ctx context.Context, event events.Event) error {
	userId := events.StringField(event, "user_id")
	sessionId := events.StringField(event, "session_id")
	if userId == "" || sessionId == "" {
		w.logger.Warn("RepairWorker", "Ignoring event without session reference", map[string]interface{}{
			"event": event.EventType(),
		})
		return nil
	}

	_, err := w.repair.Repair(ctx, userId, sessionId)
	switch {
	case errors.Is(err, contract.ErrSessionNotFound), errors.Is(err, contract.ErrInvalidIdentifier):
		// Deleted since; nothing to repair
		return nil
	case err != nil:
		return err
	}

	w.logger.Debug("RepairWorker", "Processed metadata repair", map[string]interface{}{
		"session_id": sessionId,
		"message_id": events.StringField(event, "message_id"),
	})
	return nil
}
