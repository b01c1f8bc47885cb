package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/ec-ordering/internal/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type consumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Consumer drains the per-type queues with manual acks. Poison messages are
// rejected to the dead-letter exchange; other failures are requeued until
// maxDeliveries, then rejected too.
type Consumer struct {
	ch            consumeChannel
	queues        []string
	prefetch      int
	maxDeliveries int
	log           *zap.Logger
}

func NewConsumer(ch consumeChannel, queues []string, prefetch, maxDeliveries int, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	if prefetch <= 0 {
		prefetch = 16
	}
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	return &Consumer{ch: ch, queues: queues, prefetch: prefetch, maxDeliveries: maxDeliveries, log: log}
}

// Run consumes every queue concurrently until ctx is cancelled or a
// delivery channel closes.
func (c *Consumer) Run(ctx context.Context, handle messaging.BodyHandler) error {
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	streams := make([]<-chan amqp.Delivery, 0, len(c.queues))
	for _, q := range c.queues {
		deliveries, err := c.ch.ConsumeWithContext(ctx, q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", q, err)
		}
		streams = append(streams, deliveries)
	}

	var wg sync.WaitGroup
	for i, deliveries := range streams {
		wg.Add(1)
		go func(queue string, deliveries <-chan amqp.Delivery) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						c.log.Warn("rabbitmq delivery channel closed", zap.String("queue", queue))
						return
					}
					c.handle(ctx, queue, d, handle)
				}
			}
		}(c.queues[i], deliveries)
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) handle(ctx context.Context, queue string, d amqp.Delivery, handle messaging.BodyHandler) {
	log := c.log.With(zap.String("queue", queue), zap.String("message_id", d.MessageId))

	err := handle(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Warn("ack failed", zap.Error(ackErr))
		}
	case messaging.IsPoison(err):
		log.Error("rejecting poison message", zap.Error(err))
		_ = d.Reject(false)
	case deliveryCount(d)+1 >= int64(c.maxDeliveries):
		log.Error("delivery limit reached, dead-lettering", zap.Int64("deliveries", deliveryCount(d)+1), zap.Error(err))
		_ = d.Reject(false)
	default:
		log.Warn("requeueing after failure", zap.Error(err))
		_ = d.Nack(false, true)
	}
}

// deliveryCount is the number of earlier deliveries as reported by quorum
// queues.
func deliveryCount(d amqp.Delivery) int64 {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}
