package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"reflection-chat-be/internal/dto"
	"reflection-chat-be/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	hub := NewHub(nil, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub
}

func receive(t *testing.T, c *Client) dto.StreamMessage {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg dto.StreamMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return dto.StreamMessage{}
	}
}

func TestHubDeliversToEveryConnectionOfUser(t *testing.T) {
	hub := startHub(t)
	log := logger.NewNopLogger()

	phone := NewClient(hub, nil, "u1", log)
	laptop := NewClient(hub, nil, "u1", log)
	other := NewClient(hub, nil, "u2", log)
	for _, c := range []*Client{phone, laptop, other} {
		hub.add(c)
	}

	require.NoError(t, hub.SendToUser(context.Background(), "u1", &dto.StreamMessage{Type: dto.StreamMessageTypeEvent, Data: "hello"}))

	for _, c := range []*Client{phone, laptop} {
		msg := receive(t, c)
		assert.Equal(t, dto.StreamMessageTypeEvent, msg.Type)
		assert.Equal(t, "hello", msg.Data)
	}
	select {
	case <-other.send:
		t.Fatal("message leaked to another user")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := startHub(t)
	c := NewClient(hub, nil, "u1", logger.NewNopLogger())
	hub.add(c)
	hub.remove(c)

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}

	// pushing to a removed client is a no-op
	c.Push(&dto.ViewState{})
}

func TestClientDropsSlowConsumer(t *testing.T) {
	hub := startHub(t)
	c := NewClient(hub, nil, "u1", logger.NewNopLogger())

	for i := 0; i < sendBuffer+1; i++ {
		c.Push(&dto.ViewState{SessionId: "s"})
	}

	n := 0
	for range c.send {
		n++
	}
	assert.Equal(t, sendBuffer, n)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := NewClient(hub, nil, "u1", logger.NewNopLogger())
	hub.add(c)
	cancel()
	<-hub.done

	_, ok := <-c.send
	assert.False(t, ok)

	// late registrations do not block
	late := NewClient(hub, nil, "u1", logger.NewNopLogger())
	hub.add(late)
	hub.remove(late)
}
