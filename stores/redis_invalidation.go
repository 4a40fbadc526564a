package stores

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/ability"
)

// RedisInvalidationBus fans rule-change notifications out to other engine
// instances over Redis pub/sub. Each mutation publishes the changed role id
// (or "*" for a full flush); subscribers invalidate their local caches.
type RedisInvalidationBus struct {
	client  *redis.Client
	channel string
}

func NewRedisInvalidationBus(client *redis.Client) *RedisInvalidationBus {
	return &RedisInvalidationBus{client: client, channel: "ability:invalidate"}
}

func (b *RedisInvalidationBus) Publish(ctx context.Context, roleID string) error {
	return b.client.Publish(ctx, b.channel, roleID).Err()
}

// Listen subscribes to the invalidation channel and applies each message to
// the engine until ctx is cancelled. Run it in its own goroutine.
func (b *RedisInvalidationBus) Listen(ctx context.Context, engine *ability.Engine) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload == "*" {
				engine.ClearCache()
				continue
			}
			if err := engine.InvalidateRole(ctx, msg.Payload); err != nil {
				// A failed reload leaves the previous snapshot serving;
				// the next message or scheduled reload retries.
				continue
			}
		}
	}
}
