package changefeed

import (
	"context"
	"fmt"

	"reflection-chat-be/pkg/docstore"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "docstore:changes:"

// Redis fans change signals out across service instances using Redis pub/sub.
// The client is owned by the caller; Close does not close it.
type Redis struct {
	rdb *redis.Client
}

var _ docstore.Feed = (*Redis)(nil)

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Publish(ctx context.Context, collection docstore.Path) error {
	if err := r.rdb.Publish(ctx, redisChannelPrefix+collection.String(), collection.String()).Err(); err != nil {
		return fmt.Errorf("publish change for %s: %w", collection, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, collection docstore.Path) (<-chan struct{}, error) {
	pubsub := r.rdb.Subscribe(ctx, redisChannelPrefix+collection.String())

	// Wait for the subscription confirmation so that changes published after
	// Subscribe returns are never missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", collection, err)
	}

	ch := pubsub.Channel()
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Close() error {
	return nil
}
