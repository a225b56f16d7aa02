// api/bus/redis_broker.go
package bus

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	logger "github.com/amanshivam/auth/logging"
)

// RedisBroker carries invalidation traffic over a redis pub/sub channel. One
// outbound client connection serves publishes; each Subscribe holds exactly
// one inbound pub/sub connection for the life of its context.
type RedisBroker struct {
	client *redis.Client

	mu      sync.Mutex
	pubsubs []*redis.PubSub
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe consumes the channel on a dedicated goroutine until ctx is done.
// Receive errors are logged and the loop continues; go-redis reconnects the
// pub/sub connection internally.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	pubsub := b.client.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning, so callers
	// know delivery is live.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	b.mu.Lock()
	b.pubsubs = append(b.pubsubs, pubsub)
	b.mu.Unlock()

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					logger.Warn("Invalidation subscription channel closed",
						zap.String("channel", channel))
					return
				}
				handler([]byte(msg.Payload))
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pubsub := range b.pubsubs {
		if err := pubsub.Close(); err != nil {
			logger.Error("Error closing pub/sub connection", zap.Error(err))
		}
	}
	b.pubsubs = nil
	return nil
}
