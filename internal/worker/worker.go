package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"

	"lumen.app/relay/common/logger"
	"lumen.app/relay/internal/queue"
)

type Config struct {
	// MaxAttempts is how many deliveries a message gets before it goes to the DLQ.
	MaxAttempts int
	// SaveTries bounds the in-process retries of one delivery.
	SaveTries uint
	// SaveBackoff is the first wait between in-process retries.
	SaveBackoff time.Duration
}

// Worker drains finalized assistant messages from the stream into Postgres.
type Worker struct {
	consumer Consumer
	txRunner TxRunner
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, txRunner TxRunner, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.SaveTries == 0 {
		cfg.SaveTries = 3
	}
	if cfg.SaveBackoff <= 0 {
		cfg.SaveBackoff = 200 * time.Millisecond
	}
	return &Worker{
		consumer:  consumer,
		txRunner:  txRunner,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.worker",
	})
	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				select {
				case <-ctx.Done():
				case <-w.stopCh:
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"turn_id", msg.TurnID)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"turn_id", msg.TurnID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage persists one finalized message and acks it. Exported so it can be reused
// by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TurnID:         logger.Ptr(msg.TurnID),
		ConversationID: logger.Ptr(msg.ConversationID),
		MessageID:      logger.Ptr(msg.ID),
	})
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.persist_message", trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	slog.InfoContext(ctx, "persisting message",
		"attempt", msg.Attempt,
		"stopped", msg.Finalized.Stopped)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.SaveBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.txRunner.WithTx(ctx, func(sp StoreProvider) error {
			return sp.Messages().Upsert(ctx, msg.Finalized)
		})
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(w.cfg.SaveTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "persist failed, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		sc.RecordError(err)
		// Not acked: the message is requeued or dead-lettered by the caller.
		return fmt.Errorf("persisting message: %w", err)
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// The upsert is idempotent, so a redelivery after a failed ack is harmless.
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}

	slog.InfoContext(ctx, "message persisted")
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"turn_id", msg.TurnID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"turn_id", msg.TurnID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
