package messaging

import (
	"context"
	"errors"
	"sync"
)

// DeadLetter is a message a subscriber rejected.
type DeadLetter struct {
	Message Message
	Err     error
}

// Bus is an in-process Broker that delivers synchronously to subscribers.
// A send succeeds once the message is recorded; subscriber failures are
// collected as dead letters instead of failing the publisher.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string][]BodyHandler
	sent        []Message
	dead        []DeadLetter
	fail        error
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]BodyHandler)}
}

// Subscribe registers h for messages of wireType.
func (b *Bus) Subscribe(wireType string, h BodyHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[wireType] = append(b.subscribers[wireType], h)
}

// FailWith makes every following Send return err; nil restores delivery.
func (b *Bus) FailWith(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

func (b *Bus) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.fail != nil {
		err := b.fail
		b.mu.Unlock()
		return err
	}
	b.sent = append(b.sent, msg)
	handlers := append([]BodyHandler(nil), b.subscribers[msg.Type]...)
	b.mu.Unlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, msg.Body); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		b.mu.Lock()
		b.dead = append(b.dead, DeadLetter{Message: msg, Err: errors.Join(errs...)})
		b.mu.Unlock()
	}
	return nil
}

// Sent returns every acknowledged message in send order.
func (b *Bus) Sent() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.sent...)
}

func (b *Bus) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeadLetter(nil), b.dead...)
}
