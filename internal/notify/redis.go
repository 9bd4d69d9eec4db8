package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces pub/sub channels on a shared Redis.
const channelPrefix = "grocery:changes:"

// Redis is a Bus backed by Redis pub/sub, so writers in one process wake
// watchers in another.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client. The caller owns the client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Publish sends a change signal on topic.
func (r *Redis) Publish(ctx context.Context, topic string) error {
	if err := r.client.Publish(ctx, channelPrefix+topic, "changed").Err(); err != nil {
		return fmt.Errorf("publishing change on %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription that lives until ctx is done.
// It returns once Redis has confirmed the subscription, so no signal
// published after Subscribe returns is missed.
func (r *Redis) Subscribe(ctx context.Context, topic string) (<-chan struct{}, error) {
	sub := r.client.Subscribe(ctx, channelPrefix+topic)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer sub.Close()
		forward(ctx, topic, sub.Channel(), out)
	}()
	return out, nil
}

// forward signals out for each message until ctx is done or msgs closes,
// then closes out.
func forward(ctx context.Context, topic string, msgs <-chan *redis.Message, out chan struct{}) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				slog.Warn("redis change subscription closed", "topic", topic)
				return
			}
			signal(out)
		}
	}
}
