package command

import (
	"context"
	"testing"
	"time"

	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/etag"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/example/ec-ordering/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(t *testing.T) *order.Order {
	t.Helper()
	o, err := order.Create(order.NewOrderID(), "customer-1", "Test order", testAddress(), testAddress(), testPayment(),
		[]order.OrderItem{{ProductID: "p", Quantity: 1, Price: decimal.NewFromInt(5)}})
	require.NoError(t, err)
	return o
}

func TestUnitOfWork_CommitReturnsEventsAfterPersisting(t *testing.T) {
	db := mocks.NewMockDatabase()
	ctx := context.Background()
	o := newOrder(t)

	uow, err := BeginUnitOfWork(ctx, db, fixedNow, time.Second)
	require.NoError(t, err)
	require.NoError(t, uow.Orders().Insert(ctx, o))
	uow.Track(o)

	events, err := uow.Commit(ctx)

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, order.EventOrderCreated, events[0].EventType())
	assert.Empty(t, o.PendingEvents())

	rows := db.OutboxEntries()
	require.Len(t, rows, 1)
	assert.Equal(t, fixedNow.Add(time.Second), rows[0].DispatchDateTime)
	assert.Contains(t, string(rows[0].Payload), `"order_id"`)
}

func TestUnitOfWork_DuplicateOutboxKeyIsConflict(t *testing.T) {
	db := mocks.NewMockDatabase()
	ctx := context.Background()
	o := newOrder(t)

	// Seed a row with the key the creation event will use.
	sess, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Outbox().Append(ctx, store.OutboxEntry{
		AggregateID: o.ID.String(), VersionID: 0, EventType: order.EventOrderCreated,
	}))
	require.NoError(t, sess.Commit())

	uow, err := BeginUnitOfWork(ctx, db, fixedNow, 0)
	require.NoError(t, err)
	require.NoError(t, uow.Orders().Insert(ctx, o))
	uow.Track(o)

	events, err := uow.Commit(ctx)

	assert.ErrorIs(t, err, etag.ErrInvalidEtag)
	assert.Nil(t, events)
	assert.Len(t, o.PendingEvents(), 1)
	assert.Nil(t, db.StoredOrder(o.ID.String()))
}

func TestUnitOfWork_RollbackAfterCommitIsNoop(t *testing.T) {
	db := mocks.NewMockDatabase()
	ctx := context.Background()

	uow, err := BeginUnitOfWork(ctx, db, fixedNow, 0)
	require.NoError(t, err)
	_, err = uow.Commit(ctx)
	require.NoError(t, err)

	assert.NotPanics(t, uow.Rollback)
	_, err = uow.Commit(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, db.CommitCalls)
}
