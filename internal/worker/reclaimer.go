package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"lumen.app/relay/common/logger"
	"lumen.app/relay/internal/queue"
)

type RedisReclaimerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64

	// MaxDeliveries dead-letters a message once it has been delivered this many times.
	MaxDeliveries int64
}

// RedisReclaimer takes over finalized messages left pending by a worker that died between
// XREADGROUP and XACK, so no assistant reply is lost with its worker.
type RedisReclaimer struct {
	client    *redis.Client
	cfg       RedisReclaimerConfig
	consumer  Consumer
	processor queue.MessageProcessor

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewRedisReclaimer(client *redis.Client, cfg RedisReclaimerConfig, consumer Consumer, processor queue.MessageProcessor) *RedisReclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &RedisReclaimer{
		client:    client,
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until Stop is called or ctx is done.
func (r *RedisReclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.worker.reclaimer",
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"stream", r.cfg.Stream,
		"group", r.cfg.Group)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			n, err := r.ReclaimOnce(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "reclaim cycle finished", "handled", n)
			}
		}
	}
}

func (r *RedisReclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// ReclaimOnce handles one page of stale pending entries and reports how many it handled.
// Failures on single entries are logged; they stay pending for the next cycle.
func (r *RedisReclaimer) ReclaimOnce(ctx context.Context) (int, error) {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.Stream,
		Group:  r.cfg.Group,
		Idle:   r.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}

	handled := 0
	for _, p := range pending {
		if err := r.reclaim(ctx, p); err != nil {
			slog.ErrorContext(ctx, "failed to reclaim message",
				"error", err,
				"message_id", p.ID,
				"original_consumer", p.Consumer,
				"idle_time", p.Idle)
			continue
		}
		handled++
	}
	return handled, nil
}

func (r *RedisReclaimer) reclaim(ctx context.Context, pending redis.XPendingExt) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: logger.Ptr(pending.ID),
	})

	msg, ok, err := r.claim(ctx, pending.ID)
	if err != nil || !ok {
		return err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TurnID:         logger.Ptr(msg.TurnID),
		ConversationID: logger.Ptr(msg.ConversationID),
	})

	if r.cfg.MaxDeliveries > 0 && pending.RetryCount >= r.cfg.MaxDeliveries {
		slog.WarnContext(ctx, "stale message exhausted its deliveries",
			"deliveries", pending.RetryCount,
			"original_consumer", pending.Consumer)
		return r.consumer.SendDLQ(ctx, msg, fmt.Sprintf("delivered %d times without being persisted", pending.RetryCount))
	}

	start := time.Now()
	if err := r.processor(ctx, msg); err != nil {
		return fmt.Errorf("persisting reclaimed message: %w", err)
	}

	slog.InfoContext(ctx, "reclaimed message persisted",
		"original_consumer", pending.Consumer,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// claim moves the entry to this consumer. ok is false when another reclaimer won the race
// or the entry could not be parsed; unparseable entries are acked so they stop cycling.
func (r *RedisReclaimer) claim(ctx context.Context, id string) (queue.Message, bool, error) {
	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Messages: []string{id},
	}).Result()
	if err != nil {
		return queue.Message{}, false, fmt.Errorf("xclaim: %w", err)
	}
	if len(claimed) == 0 {
		slog.DebugContext(ctx, "message already reclaimed by another worker")
		return queue.Message{}, false, nil
	}

	raw := claimed[0]
	msg, err := queue.ParseMessage(raw)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse reclaimed message, acknowledging to prevent loop",
			"error", err)
		_ = r.consumer.Ack(ctx, queue.Message{ID: raw.ID, Raw: raw})
		return queue.Message{}, false, nil
	}
	return msg, true, nil
}
