package worker_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"lumen.app/relay/internal/model"
	"lumen.app/relay/internal/queue"
	"lumen.app/relay/internal/worker"
)

var _ = Describe("RedisReclaimer", func() {
	var (
		ctx       context.Context
		mr        *miniredis.Miniredis
		client    *redis.Client
		consumer  *mockConsumer
		processed []queue.Message
		cfg       worker.RedisReclaimerConfig
	)

	// strand leaves an entry pending on a consumer that never acks it.
	strand := func(values map[string]any) string {
		id, err := client.XAdd(ctx, &redis.XAddArgs{Stream: queue.MessageStream, Values: values}).Result()
		Expect(err).NotTo(HaveOccurred())
		_, err = client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    queue.PersistGroup,
			Consumer: "crashed-worker",
			Streams:  []string{queue.MessageStream, ">"},
			Count:    10,
		}).Result()
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		Expect(client.XGroupCreateMkStream(ctx, queue.MessageStream, queue.PersistGroup, "0").Err()).To(Succeed())

		consumer = &mockConsumer{}
		processed = nil
		cfg = worker.RedisReclaimerConfig{
			Stream:   queue.MessageStream,
			Group:    queue.PersistGroup,
			Consumer: "worker-1-reclaimer",
		}
	})

	AfterEach(func() {
		_ = client.Close()
		mr.Close()
	})

	newReclaimer := func() *worker.RedisReclaimer {
		return worker.NewRedisReclaimer(client, cfg, consumer, func(_ context.Context, msg queue.Message) error {
			processed = append(processed, msg)
			return nil
		})
	}

	It("persists messages stranded on another consumer", func() {
		producer := queue.NewRedisProducer(client, queue.MessageStream, nil)
		Expect(producer.PublishMessage(ctx, model.FinalizedMessage{TurnID: "turn-7", ConversationID: "conv-1"})).To(Succeed())
		_, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    queue.PersistGroup,
			Consumer: "crashed-worker",
			Streams:  []string{queue.MessageStream, ">"},
		}).Result()
		Expect(err).NotTo(HaveOccurred())

		n, err := newReclaimer().ReclaimOnce(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(processed).To(HaveLen(1))
		Expect(processed[0].TurnID).To(Equal("turn-7"))

		pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: queue.MessageStream, Group: queue.PersistGroup, Start: "-", End: "+", Count: 10,
		}).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(1))
		Expect(pending[0].Consumer).To(Equal("worker-1-reclaimer"))
	})

	It("dead-letters messages that ran out of deliveries", func() {
		cfg.MaxDeliveries = 1
		id := strand(map[string]any{"payload": `{"turn_id":"turn-8","conversation_id":"conv-1"}`})

		_, err := newReclaimer().ReclaimOnce(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(processed).To(BeEmpty())
		_, _, dead := consumer.snapshot()
		Expect(dead).To(ConsistOf(id))
	})

	It("acks entries it cannot parse", func() {
		id := strand(map[string]any{"payload": `{"conversation_id":"conv-1"}`})

		_, err := newReclaimer().ReclaimOnce(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(processed).To(BeEmpty())
		acked, _, _ := consumer.snapshot()
		Expect(acked).To(ConsistOf(id))
	})

	It("runs on its interval until stopped", func() {
		cfg.Interval = 5 * time.Millisecond
		strand(map[string]any{"payload": `{"turn_id":"turn-9","conversation_id":"conv-1"}`})

		var calls atomic.Int32
		r := worker.NewRedisReclaimer(client, cfg, consumer, func(context.Context, queue.Message) error {
			calls.Add(1)
			return nil
		})
		done := make(chan struct{})
		go func() {
			defer close(done)
			r.Run(ctx)
		}()

		Eventually(calls.Load).Should(BeNumerically(">=", 1))
		r.Stop()
		Eventually(done).Should(BeClosed())
	})
})
