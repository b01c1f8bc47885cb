package query

import (
	"context"
	"testing"
	"time"

	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/example/ec-ordering/internal/readmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueryHandler() (*Handler, *store.MemoryViewStore) {
	views := store.NewMemoryViewStore()
	return NewHandler(views), views
}

func seedView(t *testing.T, views *store.MemoryViewStore, v *readmodel.OrderView) {
	t.Helper()
	ctx := context.Background()
	sess, err := views.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Save(ctx, v))
	require.NoError(t, sess.AppendStream(ctx, readmodel.StreamRecord{ViewID: v.ID, EventType: "created", Data: []byte(`{}`)}))
	require.NoError(t, sess.Commit())
}

func liveView(id, customer string) *readmodel.OrderView {
	v := readmodel.NewOrderView(id)
	v.CustomerID = customer
	v.OrderName = "Test order"
	v.CreatedEventVersion = 0
	v.Version = 0
	return v
}

// ============================================
// Order Query Tests
// ============================================

func TestHandler_GetOrder_Found(t *testing.T) {
	handler, views := newTestQueryHandler()
	seedView(t, views, liveView("o-1", "c-1"))

	v, err := handler.GetOrder(context.Background(), "o-1")

	require.NoError(t, err)
	assert.Equal(t, "Test order", v.OrderName)
	assert.Equal(t, 0, v.Version)
}

func TestHandler_GetOrder_NotFound(t *testing.T) {
	handler, _ := newTestQueryHandler()

	v, err := handler.GetOrder(context.Background(), "missing")

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	assert.Nil(t, v)
}

func TestHandler_GetOrder_Deleted(t *testing.T) {
	handler, views := newTestQueryHandler()
	v := liveView("o-1", "c-1")
	now := time.Now()
	v.DeletedDate = &now
	seedView(t, views, v)

	_, err := handler.GetOrder(context.Background(), "o-1")

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestHandler_GetOrder_NotYetCreated(t *testing.T) {
	handler, views := newTestQueryHandler()
	v := readmodel.NewOrderView("o-1")
	v.UpdatedEventVersion = 1
	seedView(t, views, v)

	_, err := handler.GetOrder(context.Background(), "o-1")

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestHandler_ListOrdersByCustomer(t *testing.T) {
	handler, views := newTestQueryHandler()
	seedView(t, views, liveView("o-2", "c-1"))
	seedView(t, views, liveView("o-1", "c-1"))
	seedView(t, views, liveView("o-3", "c-2"))
	gone := liveView("o-4", "c-1")
	now := time.Now()
	gone.DeletedDate = &now
	seedView(t, views, gone)

	orders, err := handler.ListOrdersByCustomer(context.Background(), "c-1")

	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o-1", orders[0].ID)
	assert.Equal(t, "o-2", orders[1].ID)
}

func TestHandler_ListOrdersByCustomer_Empty(t *testing.T) {
	handler, _ := newTestQueryHandler()

	orders, err := handler.ListOrdersByCustomer(context.Background(), "nobody")

	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.NotNil(t, orders)
}

func TestHandler_GetOrderHistory(t *testing.T) {
	handler, views := newTestQueryHandler()
	v := liveView("o-1", "c-1")
	now := time.Now()
	v.DeletedDate = &now
	seedView(t, views, v)

	history, err := handler.GetOrderHistory(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", history.CustomerID)
	assert.Len(t, history.Records, 1)

	_, err = handler.GetOrderHistory(context.Background(), "missing")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}
