package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"lumen.app/relay/internal/model"
)

type Producer interface {
	PublishMessage(ctx context.Context, msg model.FinalizedMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) PublishMessage(ctx context.Context, msg model.FinalizedMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding finalized message: %w", err)
	}

	fields := map[string]any{
		"turn_id":         msg.TurnID,
		"conversation_id": msg.ConversationID,
		"attempt":         1,
		"payload":         string(payload),
	}
	if msg.TraceID != "" {
		fields["trace_id"] = msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue finalized message: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued finalized message",
		"turn_id", msg.TurnID,
		"conversation_id", msg.ConversationID,
		"stopped", msg.Stopped)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
