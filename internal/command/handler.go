package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/domain/aggregate"
	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/etag"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"go.uber.org/zap"
)

// EventDispatcher receives events after their unit of work committed.
type EventDispatcher interface {
	Dispatch(ctx context.Context, events []aggregate.DomainEvent)
}

type Handler struct {
	db            store.Database
	dispatcher    EventDispatcher
	pipeline      Next
	dispatchDelay time.Duration
	now           func() time.Time
}

type Option func(*Handler)

// WithMiddleware replaces the default pipeline (logging, metrics, validation).
func WithMiddleware(mws ...Middleware) Option {
	return func(h *Handler) { h.pipeline = Chain(h.execute, mws...) }
}

// WithDispatchDelay sets how far ahead outbox rows are scheduled for the sweep.
func WithDispatchDelay(d time.Duration) Option {
	return func(h *Handler) { h.dispatchDelay = d }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func NewHandler(db store.Database, dispatcher EventDispatcher, log *zap.Logger, opts ...Option) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		db:            db,
		dispatcher:    dispatcher,
		dispatchDelay: 10 * time.Second,
		now:           time.Now,
	}
	h.pipeline = Chain(h.execute, Logging(log), Metrics(), Validation())
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateOrder places a new pending order at version 0.
func (h *Handler) CreateOrder(ctx context.Context, cmd CreateOrder) (*order.Order, error) {
	res, err := h.pipeline(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return res.(*order.Order), nil
}

// UpdateOrder replaces the order's mutable fields. cmd.IfMatch must carry
// the current version.
func (h *Handler) UpdateOrder(ctx context.Context, cmd UpdateOrder) (*order.Order, error) {
	res, err := h.pipeline(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return res.(*order.Order), nil
}

// DeleteOrder soft-deletes the order. cmd.IfMatch must carry the current
// version.
func (h *Handler) DeleteOrder(ctx context.Context, cmd DeleteOrder) (*order.Order, error) {
	res, err := h.pipeline(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return res.(*order.Order), nil
}

func (h *Handler) execute(ctx context.Context, cmd Command) (any, error) {
	switch c := cmd.(type) {
	case CreateOrder:
		return h.createOrder(ctx, c)
	case UpdateOrder:
		return h.updateOrder(ctx, c)
	case DeleteOrder:
		return h.deleteOrder(ctx, c)
	default:
		return nil, fmt.Errorf("unknown command %T", cmd)
	}
}

func (h *Handler) createOrder(ctx context.Context, c CreateOrder) (*order.Order, error) {
	o, err := order.Create(
		order.NewOrderID(),
		order.CustomerID(c.CustomerID),
		order.OrderName(c.OrderName),
		c.ShippingAddress,
		c.BillingAddress,
		c.Payment,
		c.Items,
	)
	if err != nil {
		return nil, err
	}

	uow, err := BeginUnitOfWork(ctx, h.db, h.now().UTC(), h.dispatchDelay)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	if err := uow.Orders().Insert(ctx, o); err != nil {
		return nil, fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	uow.Track(o)

	events, err := uow.Commit(ctx)
	if err != nil {
		return nil, err
	}
	h.dispatcher.Dispatch(ctx, events)
	return o, nil
}

func (h *Handler) updateOrder(ctx context.Context, c UpdateOrder) (*order.Order, error) {
	expected, err := etag.Parse(c.IfMatch)
	if err != nil {
		return nil, err
	}
	fields := order.UpdateFields{
		Name:            order.OrderName(c.OrderName),
		ShippingAddress: c.ShippingAddress,
		BillingAddress:  c.BillingAddress,
		Payment:         c.Payment,
		Items:           c.Items,
	}
	if c.Status != "" {
		st, ok := order.ParseStatus(c.Status)
		if !ok {
			return nil, &order.ValidationError{Field: "status", Reason: "is not a known status"}
		}
		fields.Status = st
	}

	return h.mutate(ctx, c.OrderID, c.Actor, expected, func(o *order.Order) error {
		return o.Update(fields, expected)
	})
}

func (h *Handler) deleteOrder(ctx context.Context, c DeleteOrder) (*order.Order, error) {
	expected, err := etag.Parse(c.IfMatch)
	if err != nil {
		return nil, err
	}
	return h.mutate(ctx, c.OrderID, c.Actor, expected, func(o *order.Order) error {
		return o.Delete(expected)
	})
}

// mutate loads the order, applies fn and persists it guarded by the
// version the caller presented. Orders the actor does not own are reported
// as not found.
func (h *Handler) mutate(ctx context.Context, rawID string, actor *Actor, expected int, fn func(*order.Order) error) (*order.Order, error) {
	id, err := order.ParseOrderID(rawID)
	if err != nil {
		return nil, order.ErrOrderNotFound
	}

	uow, err := BeginUnitOfWork(ctx, h.db, h.now().UTC(), h.dispatchDelay)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	o, err := uow.Orders().Get(ctx, id.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	if !actor.Owns(o.CustomerID) {
		return nil, order.ErrOrderNotFound
	}

	if err := fn(o); err != nil {
		return nil, err
	}
	if err := uow.Orders().Update(ctx, o, expected); err != nil {
		return nil, conflict(err)
	}
	uow.Track(o)

	events, err := uow.Commit(ctx)
	if err != nil {
		return nil, err
	}
	h.dispatcher.Dispatch(ctx, events)
	return o, nil
}
