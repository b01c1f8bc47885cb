package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/messaging"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is a messaging.Broker with one topic per event type. Messages
// are keyed by aggregate id so one order's events stay on one partition.
type Producer struct {
	writer messageWriter
}

var _ messaging.Broker = (*Producer)(nil)

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Send(ctx context.Context, msg messaging.Message) error {
	if err := p.writer.WriteMessages(ctx, toKafka(msg.Type, msg)); err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.Type, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func toKafka(topic string, msg messaging.Message) kafka.Message {
	km := kafka.Message{
		Topic: topic,
		Key:   []byte(msg.Key),
		Value: msg.Body,
		Time:  time.Now(),
	}
	for k, v := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return km
}
