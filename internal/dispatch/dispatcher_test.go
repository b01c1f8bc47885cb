package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ec-ordering/internal/domain/aggregate"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type testEvent struct {
	typ     string
	version int
}

func (e testEvent) EventType() string     { return e.typ }
func (e testEvent) AggregateID() string   { return "agg-1" }
func (e testEvent) AggregateType() string { return "Test" }
func (e testEvent) AggregateVersion() int { return e.version }

func TestDispatcher_RaiseOrder(t *testing.T) {
	d := New(nil)
	var seen []int
	d.SubscribeAll(HandlerFunc(func(_ context.Context, evt aggregate.DomainEvent) error {
		seen = append(seen, evt.AggregateVersion())
		return nil
	}))

	d.Dispatch(context.Background(), []aggregate.DomainEvent{
		testEvent{"A", 0}, testEvent{"B", 1}, testEvent{"A", 2},
	})

	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestDispatcher_RoutesByType(t *testing.T) {
	d := New(nil)
	var a, b int
	d.Subscribe("A", HandlerFunc(func(context.Context, aggregate.DomainEvent) error { a++; return nil }))
	d.Subscribe("B", HandlerFunc(func(context.Context, aggregate.DomainEvent) error { b++; return nil }))

	d.Dispatch(context.Background(), []aggregate.DomainEvent{testEvent{"A", 0}, testEvent{"A", 1}})

	assert.Equal(t, 2, a)
	assert.Equal(t, 0, b)
}

func TestDispatcher_HandlerErrorIsLoggedAndNextRuns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := New(zap.New(core))
	var ran bool
	d.Subscribe("A", HandlerFunc(func(context.Context, aggregate.DomainEvent) error { return errors.New("broker down") }))
	d.Subscribe("A", HandlerFunc(func(context.Context, aggregate.DomainEvent) error { ran = true; return nil }))

	d.Dispatch(context.Background(), []aggregate.DomainEvent{testEvent{"A", 0}})

	assert.True(t, ran)
	assert.Equal(t, 1, logs.FilterMessage("event handler failed").Len())
}

func TestDispatcher_NoHandlers(t *testing.T) {
	d := New(nil)

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), []aggregate.DomainEvent{testEvent{"Z", 0}})
	})
}
