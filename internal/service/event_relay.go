package service

import (
	"context"
	"fmt"

	"reflection-chat-be/internal/dto"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/pkg/events"
	pktNats "reflection-chat-be/pkg/nats"
)

const eventRelayDurable = "chat-event-relay"

type EventDelivery interface {
	SendToUser(ctx context.Context, userID string, msg *dto.StreamMessage) error
}

// EventRelay forwards chat events to the live connections of the user they
// concern, e.g. so other devices learn that a session was deleted.
type EventRelay struct {
	subscriber EventSubscriber
	delivery   EventDelivery
	logger     logger.ILogger
}

func NewEventRelay(sub EventSubscriber, delivery EventDelivery, log logger.ILogger) *EventRelay {
	return &EventRelay{
		subscriber: sub,
		delivery:   delivery,
		logger:     log,
	}
}

func (r *EventRelay) Start(ctx context.Context) error {
	// Subscribe to all events with a durable consumer
	if err := r.subscriber.Subscribe(ctx, pktNats.SubjectPrefix+">", eventRelayDurable, r.handleEvent); err != nil {
		return fmt.Errorf("subscribe event relay: %w", err)
	}
	return nil
}

func (r *EventRelay) handleEvent(ctx context.Context, event events.Event) error {
	userId := events.StringField(event, "user_id")
	if userId == "" {
		return nil
	}
	return r.delivery.SendToUser(ctx, userId, &dto.StreamMessage{
		Type: dto.StreamMessageTypeEvent,
		Data: events.ToEnvelope(event),
	})
}
