package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/readmodel"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateOutboxEntry is returned when an outbox row with the same
	// (aggregate id, version, event type) already exists.
	ErrDuplicateOutboxEntry = errors.New("duplicate outbox entry")

	// ErrStaleVersion is returned when a conditional order update finds a
	// different row version than the one the caller loaded.
	ErrStaleVersion = errors.New("stale row version")

	ErrDuplicateKey = errors.New("duplicate key")
)

// OutboxEntry is one event waiting to be delivered to the broker.
type OutboxEntry struct {
	ID                  string    `db:"id"`
	AggregateID         string    `db:"aggregate_id"`
	AggregateType       string    `db:"aggregate_type"`
	VersionID           int       `db:"version_id"`
	EventType           string    `db:"event_type"`
	Payload             []byte    `db:"payload"`
	IsDispatched        bool      `db:"is_dispatched"`
	DispatchDateTime    time.Time `db:"dispatch_date_time"`
	NumberOfDispatchTry int       `db:"number_of_dispatch_try"`
	CreatedAt           time.Time `db:"created_at"`
}

// Database opens write-side sessions. Everything done through one session
// is committed or rolled back together.
type Database interface {
	Begin(ctx context.Context) (Session, error)
}

type Session interface {
	Orders() OrderRepository
	Outbox() OutboxRepository
	Commit() error
	Rollback() error
}

type OrderRepository interface {
	// Get returns the order including soft-deleted ones.
	Get(ctx context.Context, id string) (*order.Order, error)
	Insert(ctx context.Context, o *order.Order) error
	// Update persists o only when the stored row version still equals
	// expectedVersion, otherwise ErrStaleVersion.
	Update(ctx context.Context, o *order.Order, expectedVersion int) error
}

type OutboxRepository interface {
	Append(ctx context.Context, e OutboxEntry) error
	// MarkDispatched is a no-op for rows already dispatched.
	MarkDispatched(ctx context.Context, aggregateID string, versionID int, eventType string, at time.Time) error
	RecordFailure(ctx context.Context, id string, nextAttempt time.Time) error
	FindDispatchable(ctx context.Context, before time.Time, limit int) ([]OutboxEntry, error)
}

// ViewStore opens projection sessions. A session loads, saves and audits a
// view atomically.
type ViewStore[V any] interface {
	Begin(ctx context.Context) (ViewSession[V], error)
}

type ViewSession[V any] interface {
	Load(ctx context.Context, id string) (V, bool, error)
	Save(ctx context.Context, v V) error
	AppendStream(ctx context.Context, rec readmodel.StreamRecord) error
	Commit() error
	Rollback() error
}

// OrderViewReader serves the query side.
type OrderViewReader interface {
	GetView(ctx context.Context, id string) (*readmodel.OrderView, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*readmodel.OrderView, error)
	Streams(ctx context.Context, viewID string) ([]readmodel.StreamRecord, error)
}
