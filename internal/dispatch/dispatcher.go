// Package dispatch hands committed domain events to in-process handlers.
package dispatch

import (
	"context"
	"sync"

	"github.com/example/ec-ordering/internal/domain/aggregate"
	"github.com/example/ec-ordering/internal/metrics"
	"go.uber.org/zap"
)

// Handler reacts to one committed event.
type Handler interface {
	Handle(ctx context.Context, evt aggregate.DomainEvent) error
}

type HandlerFunc func(ctx context.Context, evt aggregate.DomainEvent) error

func (f HandlerFunc) Handle(ctx context.Context, evt aggregate.DomainEvent) error { return f(ctx, evt) }

// Dispatcher routes events by type. Events are delivered in the order given;
// handler failures are logged and never returned to the caller, since the
// outbox sweep is the recovery path.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	any      []Handler
	log      *zap.Logger
}

func New(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

func (d *Dispatcher) Subscribe(eventType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// SubscribeAll registers h for every event type.
func (d *Dispatcher) SubscribeAll(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.any = append(d.any, h)
}

func (d *Dispatcher) Dispatch(ctx context.Context, events []aggregate.DomainEvent) {
	for _, evt := range events {
		for _, h := range d.handlersFor(evt.EventType()) {
			if err := h.Handle(ctx, evt); err != nil {
				metrics.DispatchErrorsTotal.WithLabelValues(evt.EventType()).Inc()
				d.log.Warn("event handler failed",
					zap.String("event_type", evt.EventType()),
					zap.String("aggregate_id", evt.AggregateID()),
					zap.Int("version", evt.AggregateVersion()),
					zap.Error(err),
				)
			}
		}
	}
}

func (d *Dispatcher) handlersFor(eventType string) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Handler, 0, len(d.handlers[eventType])+len(d.any))
	out = append(out, d.handlers[eventType]...)
	return append(out, d.any...)
}
