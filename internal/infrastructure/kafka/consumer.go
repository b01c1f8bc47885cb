package kafka

import (
	"context"
	"time"

	"github.com/example/ec-ordering/internal/messaging"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Config struct {
	Brokers        []string
	Topics         []string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = sync commit per message
	MaxDeliveries  int           // attempts before a failing message is dead-lettered
	RetryBackoff   time.Duration // default 200ms, doubled per attempt
}

// maxDLQBackoff caps the wait between dead-letter write attempts.
const maxDLQBackoff = 30 * time.Second

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads the event topics with a consumer group and commits each
// message only after it was applied or dead-lettered to <topic>_dlq.
type Consumer struct {
	r        messageReader
	dlq      messageWriter
	log      *zap.Logger
	attempts int
	backoff  time.Duration
}

func NewConsumer(c Config, log *zap.Logger) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		GroupTopics:    c.Topics,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: c.CommitInterval,
		MaxWait:        500 * time.Millisecond,
	})
	dlq := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newConsumer(r, dlq, c.MaxDeliveries, c.RetryBackoff, log)
}

func newConsumer(r messageReader, dlq messageWriter, attempts int, backoff time.Duration, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	if attempts <= 0 {
		attempts = 5
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Consumer{r: r, dlq: dlq, log: log, attempts: attempts, backoff: backoff}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle messaging.BodyHandler) error {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("kafka fetch failed", zap.Error(err))
			if !sleep(ctx, c.backoff) {
				return ctx.Err()
			}
			continue
		}

		// process only fails once ctx is done. Moving on to the next fetch
		// would let a later commit skip this offset.
		if err := c.process(ctx, m, handle); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, m); err != nil {
			c.log.Warn("kafka commit failed", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// process returns nil once the message is safe to commit and an error only
// when ctx is done first.
func (c *Consumer) process(ctx context.Context, m kafka.Message, handle messaging.BodyHandler) error {
	var err error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 && !sleep(ctx, c.backoff<<(attempt-1)) {
			return ctx.Err()
		}
		err = handle(ctx, m.Value)
		if err == nil {
			return nil
		}
		if messaging.IsPoison(err) {
			break
		}
		c.log.Warn("kafka handler failed", zap.String("topic", m.Topic), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return c.deadLetter(ctx, m, err)
}

func (c *Consumer) deadLetter(ctx context.Context, m kafka.Message, cause error) error {
	// A failure caused by shutdown is redelivered, not dead-lettered.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	dl := kafka.Message{
		Topic:   messaging.DeadLetterName(m.Topic),
		Key:     m.Key,
		Value:   m.Value,
		Headers: append(append([]kafka.Header(nil), m.Headers...), kafka.Header{Key: "x-error", Value: []byte(cause.Error())}),
		Time:    time.Now(),
	}
	for attempt := 0; ; attempt++ {
		err := c.dlq.WriteMessages(ctx, dl)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("kafka dead-letter write failed", zap.String("topic", dl.Topic), zap.Int64("offset", m.Offset), zap.Int("attempt", attempt+1), zap.Error(err))
		if !sleep(ctx, c.dlqBackoff(attempt)) {
			return ctx.Err()
		}
	}
	c.log.Error("kafka message dead-lettered", zap.String("topic", dl.Topic), zap.Error(cause))
	return nil
}

func (c *Consumer) dlqBackoff(attempt int) time.Duration {
	if attempt > 16 {
		return maxDLQBackoff
	}
	if d := c.backoff << attempt; d < maxDLQBackoff {
		return d
	}
	return maxDLQBackoff
}

func (c *Consumer) Close() error {
	rerr := c.r.Close()
	if err := c.dlq.Close(); err != nil {
		return err
	}
	return rerr
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
