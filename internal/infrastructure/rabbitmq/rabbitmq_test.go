package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-ordering/internal/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type binding struct{ queue, key, exchange string }

type fakeDeclarer struct {
	exchanges map[string]string
	queues    map[string]amqp.Table
	bindings  []binding
}

func newFakeDeclarer() *fakeDeclarer {
	return &fakeDeclarer{exchanges: map[string]string{}, queues: map[string]amqp.Table{}}
}

func (f *fakeDeclarer) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.exchanges[name] = kind
	return nil
}

func (f *fakeDeclarer) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeDeclarer) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.bindings = append(f.bindings, binding{name, key, exchange})
	return nil
}

// ============================================
// Topology Tests
// ============================================

func TestDeclareQueues(t *testing.T) {
	ch := newFakeDeclarer()

	queues, err := DeclareQueues(ch, messaging.Exchange, "order-projection", []string{messaging.WireOrderCreated}, 5)

	require.NoError(t, err)
	q := "order-projection." + messaging.WireOrderCreated
	assert.Equal(t, []string{q}, queues)
	assert.Equal(t, amqp.ExchangeTopic, ch.exchanges[messaging.Exchange])
	assert.Equal(t, amqp.ExchangeDirect, ch.exchanges[messaging.DeadLetterExchange])

	args := ch.queues[q]
	assert.Equal(t, messaging.DeadLetterExchange, args["x-dead-letter-exchange"])
	assert.Equal(t, q, args["x-dead-letter-routing-key"])
	assert.Equal(t, int64(5), args["x-delivery-limit"])
	assert.Contains(t, ch.queues, q+"_dlq")

	assert.Contains(t, ch.bindings, binding{q, messaging.WireOrderCreated, messaging.Exchange})
	assert.Contains(t, ch.bindings, binding{q + "_dlq", q, messaging.DeadLetterExchange})
}

// ============================================
// Publisher Tests
// ============================================

type fakeConfirmChannel struct {
	err       error
	exchange  string
	key       string
	published amqp.Publishing
}

func (f *fakeConfirmChannel) PublishWithDeferredConfirmWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	f.exchange, f.key, f.published = exchange, key, msg
	return nil, f.err
}

func (f *fakeConfirmChannel) Close() error { return nil }

func TestPublisher_Send_RoutesByType(t *testing.T) {
	ch := &fakeConfirmChannel{}
	p := &Publisher{ch: ch, exchange: messaging.Exchange}

	err := p.Send(context.Background(), messaging.Message{
		Type:    messaging.WireOrderUpdated,
		Key:     "order-1",
		Body:    []byte(`{}`),
		Headers: map[string]string{"ce_id": "env-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, messaging.Exchange, ch.exchange)
	assert.Equal(t, messaging.WireOrderUpdated, ch.key)
	assert.Equal(t, "env-1", ch.published.MessageId)
	assert.Equal(t, amqp.Persistent, ch.published.DeliveryMode)
	assert.Equal(t, "env-1", ch.published.Headers["ce_id"])
}

func TestPublisher_Send_Error(t *testing.T) {
	p := &Publisher{ch: &fakeConfirmChannel{err: amqp.ErrClosed}, exchange: messaging.Exchange}

	err := p.Send(context.Background(), messaging.Message{Type: "t"})

	assert.ErrorIs(t, err, amqp.ErrClosed)
}

// ============================================
// Consumer Tests
// ============================================

type fakeAck struct {
	mu      sync.Mutex
	acks    int
	nacks   []bool // requeue flags
	rejects []bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, requeue)
	return nil
}

func (a *fakeAck) Reject(_ uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects = append(a.rejects, requeue)
	return nil
}

func (a *fakeAck) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks + len(a.nacks) + len(a.rejects)
}

func delivery(ack *fakeAck, count int64) amqp.Delivery {
	d := amqp.Delivery{Acknowledger: ack, Body: []byte("body"), MessageId: "m-1"}
	if count > 0 {
		d.Headers = amqp.Table{"x-delivery-count": count}
	}
	return d
}

func TestConsumer_Handle(t *testing.T) {
	c := NewConsumer(nil, nil, 0, 3, nil)
	ctx := context.Background()

	t.Run("success acks", func(t *testing.T) {
		ack := &fakeAck{}
		c.handle(ctx, "q", delivery(ack, 0), func(context.Context, []byte) error { return nil })
		assert.Equal(t, 1, ack.acks)
	})
	t.Run("poison rejects without requeue", func(t *testing.T) {
		ack := &fakeAck{}
		c.handle(ctx, "q", delivery(ack, 0), func(context.Context, []byte) error {
			return fmt.Errorf("%w: bad", messaging.ErrPoisonMessage)
		})
		assert.Equal(t, []bool{false}, ack.rejects)
	})
	t.Run("transient requeues", func(t *testing.T) {
		ack := &fakeAck{}
		c.handle(ctx, "q", delivery(ack, 1), func(context.Context, []byte) error { return errors.New("db down") })
		assert.Equal(t, []bool{true}, ack.nacks)
	})
	t.Run("transient at limit dead-letters", func(t *testing.T) {
		ack := &fakeAck{}
		c.handle(ctx, "q", delivery(ack, 2), func(context.Context, []byte) error { return errors.New("db down") })
		assert.Equal(t, []bool{false}, ack.rejects)
		assert.Empty(t, ack.nacks)
	})
}

type fakeConsumeChannel struct {
	streams map[string]chan amqp.Delivery
	qos     int
}

func (f *fakeConsumeChannel) Qos(prefetch, _ int, _ bool) error {
	f.qos = prefetch
	return nil
}

func (f *fakeConsumeChannel) ConsumeWithContext(_ context.Context, queue, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("auto ack not expected")
	}
	return f.streams[queue], nil
}

func TestConsumer_Run_ConsumesAllQueues(t *testing.T) {
	ch := &fakeConsumeChannel{streams: map[string]chan amqp.Delivery{
		"a": make(chan amqp.Delivery, 1),
		"b": make(chan amqp.Delivery, 1),
	}}
	ack := &fakeAck{}
	ch.streams["a"] <- delivery(ack, 0)
	ch.streams["b"] <- delivery(ack, 0)
	c := NewConsumer(ch, []string{"a", "b"}, 4, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- c.Run(ctx, func(context.Context, []byte) error { return nil }) }()

	require.Eventually(t, func() bool { return ack.total() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 4, ch.qos)
	assert.Equal(t, 2, ack.acks)
}
