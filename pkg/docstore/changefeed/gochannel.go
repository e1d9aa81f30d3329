// Package changefeed provides docstore.Feed transports.
package changefeed

import (
	"context"
	"fmt"

	"reflection-chat-be/pkg/docstore"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const topicPrefix = "docstore.changes."

// GoChannel is an in-process feed on top of the watermill gochannel pub/sub.
type GoChannel struct {
	pubSub *gochannel.GoChannel
}

var _ docstore.Feed = (*GoChannel)(nil)

func NewGoChannel(logger watermill.LoggerAdapter) *GoChannel {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &GoChannel{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, logger),
	}
}

func (g *GoChannel) Publish(_ context.Context, collection docstore.Path) error {
	msg := message.NewMessage(watermill.NewUUID(), message.Payload(collection))
	if err := g.pubSub.Publish(topicPrefix+collection.String(), msg); err != nil {
		return fmt.Errorf("publish change for %s: %w", collection, err)
	}
	return nil
}

func (g *GoChannel) Subscribe(ctx context.Context, collection docstore.Path) (<-chan struct{}, error) {
	messages, err := g.pubSub.Subscribe(ctx, topicPrefix+collection.String())
	if err != nil {
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for msg := range messages {
			msg.Ack()
			select {
			case out <- struct{}{}:
			default:
				// a signal is already pending; the watcher will re-read anyway
			}
		}
	}()
	return out, nil
}

func (g *GoChannel) Close() error {
	return g.pubSub.Close()
}
