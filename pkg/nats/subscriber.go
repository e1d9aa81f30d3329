package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const maxDeliver = 5

// redeliveryBackoff is the delay before the 2nd, 3rd, ... delivery of a
// failed event. The last entry repeats.
var redeliveryBackoff = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// nakDelay returns the wait before redelivering a message that has been
// delivered numDelivered times.
func nakDelay(numDelivered uint64) time.Duration {
	if numDelivered == 0 {
		numDelivered = 1
	}
	i := int(min(numDelivered, uint64(len(redeliveryBackoff)))) - 1
	return redeliveryBackoff[i]
}

// EventHandler is a function that processes an event.
type EventHandler func(ctx context.Context, event events.Event) error

// Subscriber handles listening for events from NATS.
type Subscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger logger.ILogger

	mu       sync.Mutex
	consumes []jetstream.ConsumeContext
}

// NewSubscriber creates a new NATS subscriber with its own connection.
func NewSubscriber(url string, log logger.ILogger) (*Subscriber, error) {
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ensureStream(ctx, js); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", StreamName, err)
	}

	return &Subscriber{nc: nc, js: js, logger: log}, nil
}

// Subscribe registers a handler for a specific event subject pattern.
// It uses a persistent consumer (Durable) to ensure no messages are lost.
func (s *Subscriber) Subscribe(ctx context.Context, subject, durableName string, handler EventHandler) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    maxDeliver,
		BackOff:       redeliveryBackoff,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var envelope events.Envelope
		if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
			s.logger.Error("NATS", "Dropping undecodable event", map[string]interface{}{
				"subject": msg.Subject(),
				"error":   err.Error(),
			})
			// Ack invalid messages to prevent infinite retry
			msg.Term()
			return
		}

		if err := handler(context.Background(), envelope.Event()); err != nil {
			var delivered uint64
			if meta, metaErr := msg.Metadata(); metaErr == nil {
				delivered = meta.NumDelivered
			}
			delay := nakDelay(delivered)
			s.logger.Warn("NATS", "Event handler failed, will be redelivered", map[string]interface{}{
				"subject":   msg.Subject(),
				"delivered": delivered,
				"delay":     delay.String(),
				"error":     err.Error(),
			})
			msg.NakWithDelay(delay)
			return
		}

		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	s.mu.Lock()
	s.consumes = append(s.consumes, cc)
	s.mu.Unlock()

	s.logger.Info("NATS", "Subscribed", map[string]interface{}{
		"subject": subject,
		"durable": durableName,
	})
	return nil
}

// Close stops all consumers and closes the connection.
func (s *Subscriber) Close() {
	s.mu.Lock()
	for _, cc := range s.consumes {
		cc.Stop()
	}
	s.consumes = nil
	s.mu.Unlock()

	if s.nc != nil {
		s.nc.Close()
	}
}
