package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/example/ec-ordering/internal/readmodel"
)

// Handler serves reads from the projection store only.
type Handler struct {
	views store.OrderViewReader
}

func NewHandler(views store.OrderViewReader) *Handler {
	return &Handler{views: views}
}

// GetOrder returns order.ErrOrderNotFound for missing and deleted views.
func (h *Handler) GetOrder(ctx context.Context, id string) (*readmodel.OrderView, error) {
	v, err := h.views.GetView(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order view %s: %w", id, err)
	}
	// A view created by an out-of-order update has no creation yet.
	if v.IsDeleted() || v.CreatedEventVersion == readmodel.NotApplied {
		return nil, order.ErrOrderNotFound
	}
	return v, nil
}

// ListOrdersByCustomer returns live orders sorted by id, which for ULIDs is
// creation order.
func (h *Handler) ListOrdersByCustomer(ctx context.Context, customerID string) ([]*readmodel.OrderView, error) {
	views, err := h.views.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders for %s: %w", customerID, err)
	}
	out := make([]*readmodel.OrderView, 0, len(views))
	for _, v := range views {
		if !v.IsDeleted() && v.CreatedEventVersion != readmodel.NotApplied {
			out = append(out, v)
		}
	}
	return out, nil
}

// OrderHistory is the audit trail of one order and the customer owning it.
type OrderHistory struct {
	CustomerID string
	Records    []readmodel.StreamRecord
}

// GetOrderHistory returns the audit rows applied to a view, deleted or not.
func (h *Handler) GetOrderHistory(ctx context.Context, id string) (*OrderHistory, error) {
	v, err := h.views.GetView(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order view %s: %w", id, err)
	}
	records, err := h.views.Streams(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order history %s: %w", id, err)
	}
	return &OrderHistory{CustomerID: v.CustomerID, Records: records}, nil
}
