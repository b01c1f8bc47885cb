package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ec-ordering/internal/domain/order"
)

var errSessionClosed = errors.New("session already closed")

type outboxKey struct {
	aggregateID string
	versionID   int
	eventType   string
}

// MemoryDatabase is an in-memory write-side store. Session writes are staged
// and validated together on Commit, so a stale order update or a duplicate
// outbox key fails the whole session.
type MemoryDatabase struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
	outbox []*OutboxEntry
	keys   map[outboxKey]*OutboxEntry
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		orders: make(map[string]*order.Order),
		keys:   make(map[outboxKey]*OutboxEntry),
	}
}

func (d *MemoryDatabase) Begin(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memorySession{db: d, staged: make(map[outboxKey]bool)}, nil
}

// OutboxEntries returns a snapshot of every outbox row in insertion order.
func (d *MemoryDatabase) OutboxEntries() []OutboxEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]OutboxEntry, 0, len(d.outbox))
	for _, e := range d.outbox {
		out = append(out, *e)
	}
	return out
}

func copyOrder(o *order.Order) *order.Order {
	c := &order.Order{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		Name:            o.Name,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		Payment:         o.Payment,
		Items:           append([]order.OrderItem(nil), o.Items...),
		Status:          o.Status,
		RowVersion:      o.RowVersion,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.DeleteDate != nil {
		d := *o.DeleteDate
		c.DeleteDate = &d
	}
	return c
}

// memoryOp is validated under the database lock before any op is applied.
type memoryOp struct {
	check func() error
	apply func()
}

type memorySession struct {
	db     *MemoryDatabase
	ops    []memoryOp
	staged map[outboxKey]bool
	closed bool
}

func (s *memorySession) Orders() OrderRepository  { return (*memoryOrders)(s) }
func (s *memorySession) Outbox() OutboxRepository { return (*memoryOutbox)(s) }

func (s *memorySession) stage(op memoryOp) error {
	if s.closed {
		return errSessionClosed
	}
	s.ops = append(s.ops, op)
	return nil
}

func (s *memorySession) Commit() error {
	if s.closed {
		return errSessionClosed
	}
	s.closed = true

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, op := range s.ops {
		if op.check == nil {
			continue
		}
		if err := op.check(); err != nil {
			return err
		}
	}
	for _, op := range s.ops {
		op.apply()
	}
	return nil
}

func (s *memorySession) Rollback() error {
	s.closed = true
	s.ops = nil
	return nil
}

type memoryOrders memorySession

func (r *memoryOrders) Get(ctx context.Context, id string) (*order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	o, ok := r.db.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func (r *memoryOrders) Insert(ctx context.Context, o *order.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := copyOrder(o)
	db := r.db
	return (*memorySession)(r).stage(memoryOp{
		check: func() error {
			if _, exists := db.orders[snap.ID.String()]; exists {
				return fmt.Errorf("%w: order %s", ErrDuplicateKey, snap.ID)
			}
			return nil
		},
		apply: func() { db.orders[snap.ID.String()] = snap },
	})
}

func (r *memoryOrders) Update(ctx context.Context, o *order.Order, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := copyOrder(o)
	db := r.db
	return (*memorySession)(r).stage(memoryOp{
		check: func() error {
			cur, ok := db.orders[snap.ID.String()]
			if !ok {
				return ErrNotFound
			}
			if cur.RowVersion != expectedVersion {
				return fmt.Errorf("%w: order %s expected version %d, stored %d", ErrStaleVersion, snap.ID, expectedVersion, cur.RowVersion)
			}
			return nil
		},
		apply: func() { db.orders[snap.ID.String()] = snap },
	})
}

type memoryOutbox memorySession

func (r *memoryOutbox) Append(ctx context.Context, e OutboxEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Payload = append([]byte(nil), e.Payload...)

	key := outboxKey{e.AggregateID, e.VersionID, e.EventType}
	dup := fmt.Errorf("%w: %s v%d %s", ErrDuplicateOutboxEntry, e.AggregateID, e.VersionID, e.EventType)
	if r.staged[key] {
		return dup
	}
	r.staged[key] = true

	db := r.db
	return (*memorySession)(r).stage(memoryOp{
		check: func() error {
			if _, exists := db.keys[key]; exists {
				return dup
			}
			return nil
		},
		apply: func() {
			row := e
			db.outbox = append(db.outbox, &row)
			db.keys[key] = &row
		},
	})
}

func (r *memoryOutbox) MarkDispatched(ctx context.Context, aggregateID string, versionID int, eventType string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := outboxKey{aggregateID, versionID, eventType}
	db := r.db

	db.mu.RLock()
	_, ok := db.keys[key]
	db.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	return (*memorySession)(r).stage(memoryOp{
		apply: func() {
			row := db.keys[key]
			if row.IsDispatched {
				return
			}
			row.IsDispatched = true
			row.DispatchDateTime = at
			row.NumberOfDispatchTry++
		},
	})
}

func (r *memoryOutbox) RecordFailure(ctx context.Context, id string, nextAttempt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db := r.db
	return (*memorySession)(r).stage(memoryOp{
		apply: func() {
			for _, row := range db.outbox {
				if row.ID == id && !row.IsDispatched {
					row.DispatchDateTime = nextAttempt
					row.NumberOfDispatchTry++
					return
				}
			}
		},
	})
}

func (r *memoryOutbox) FindDispatchable(ctx context.Context, before time.Time, limit int) ([]OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []OutboxEntry
	for _, row := range r.db.outbox {
		if !row.IsDispatched && !row.DispatchDateTime.After(before) {
			out = append(out, *row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DispatchDateTime.Before(out[j].DispatchDateTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
