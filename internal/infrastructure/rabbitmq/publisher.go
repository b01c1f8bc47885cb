package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/ec-ordering/internal/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Dial retries because RabbitMQ may still be starting.
func Dial(ctx context.Context, url string, attempts int, log *zap.Logger) (*amqp.Connection, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if attempts <= 0 {
		attempts = 10
	}
	var err error
	for i := 0; i < attempts; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		log.Warn("rabbitmq dial failed, retrying", zap.Int("attempt", i+1), zap.Int("of", attempts), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect to rabbitmq: %w", err)
}

type confirmChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// Publisher is a messaging.Broker over a confirm-mode channel. Send returns
// only after the broker acked the message.
type Publisher struct {
	mu       sync.Mutex
	ch       confirmChannel
	exchange string
}

var _ messaging.Broker = (*Publisher)(nil)

var errNacked = errors.New("rabbitmq: publish nacked")

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareExchanges(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

func (p *Publisher) Send(ctx context.Context, msg messaging.Message) error {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	pub := amqp.Publishing{
		MessageId:    msg.Headers["ce_id"],
		Type:         msg.Type,
		ContentType:  messaging.ContentTypeJSON,
		Headers:      headers,
		Body:         msg.Body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	p.mu.Lock()
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, msg.Type, false, false, pub)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	if dc == nil {
		// Channel not in confirm mode.
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm %s: %w", msg.Type, err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", errNacked, msg.Type)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
