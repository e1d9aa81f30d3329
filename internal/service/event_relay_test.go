package service

import (
	"context"
	"testing"

	"reflection-chat-be/internal/dto"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliveryRecorder struct {
	users    []string
	messages []*dto.StreamMessage
}

func (d *deliveryRecorder) SendToUser(_ context.Context, userID string, msg *dto.StreamMessage) error {
	d.users = append(d.users, userID)
	d.messages = append(d.messages, msg)
	return nil
}

func TestEventRelay(t *testing.T) {
	sub := &fakeSubscriber{}
	delivery := &deliveryRecorder{}
	relay := NewEventRelay(sub, delivery, logger.NewNopLogger())

	ctx := context.Background()
	require.NoError(t, relay.Start(ctx))
	assert.Equal(t, "events.>", sub.subject)
	assert.Equal(t, "chat-event-relay", sub.durable)

	require.NoError(t, sub.handler(ctx, events.NewChatSessionDeleted("u1", "s1")))
	require.NoError(t, sub.handler(ctx, events.BaseEvent{Type: "SYSTEM", Data: map[string]interface{}{}}))

	require.Equal(t, []string{"u1"}, delivery.users)
	assert.Equal(t, dto.StreamMessageTypeEvent, delivery.messages[0].Type)
	envelope, ok := delivery.messages[0].Data.(events.Envelope)
	require.True(t, ok)
	assert.Equal(t, events.ChatSessionDeleted, envelope.Type)
	assert.Equal(t, "s1", envelope.Data["session_id"])
}
