package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"lumen.app/relay/common/logger"
)

// StopBus fans stop signals out to every server instance over Redis pub/sub. Delivery is
// best effort; an instance that is not running the turn ignores the signal.
type StopBus struct {
	client  *redis.Client
	channel string
}

func NewStopBus(client *redis.Client, channel string) *StopBus {
	if channel == "" {
		channel = StopChannel
	}
	return &StopBus{client: client, channel: channel}
}

func (b *StopBus) BroadcastStop(ctx context.Context, turnID string) error {
	if err := b.client.Publish(ctx, b.channel, turnID).Err(); err != nil {
		return fmt.Errorf("publishing stop (channel=%s): %w", b.channel, err)
	}
	return nil
}

// Listen calls onStop for every stop signal until ctx is done. It returns once the
// subscription is confirmed and delivers signals from a background goroutine.
func (b *StopBus) Listen(ctx context.Context, onStop func(turnID string)) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.queue.stop_bus",
	})

	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				slog.DebugContext(ctx, "stop signal received", "turn_id", msg.Payload)
				onStop(msg.Payload)
			}
		}
	}()

	slog.InfoContext(ctx, "listening for stop signals", "channel", b.channel)
	return nil
}
