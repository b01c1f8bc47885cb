package readmodel

import (
	"encoding/json"
	"time"

	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/shopspring/decimal"
)

// NotApplied marks a per-type version counter that has never seen an event.
const NotApplied = -1

// OrderView is the denormalized read model for orders. It is created by the
// first event seen for an id and never hard-deleted.
type OrderView struct {
	ID              string            `json:"id" db:"id"`
	CustomerID      string            `json:"customer_id" db:"customer_id"`
	OrderName       string            `json:"order_name" db:"order_name"`
	ShippingAddress order.Address     `json:"shipping_address"`
	BillingAddress  order.Address     `json:"billing_address"`
	Payment         order.Payment     `json:"payment"`
	Items           []order.OrderItem `json:"items"`
	Status          string            `json:"status" db:"status"`
	TotalPrice      decimal.Decimal   `json:"total_price" db:"total_price"`
	DeletedDate     *time.Time        `json:"deleted_date,omitempty" db:"deleted_date"`

	// Version is the highest aggregate row version applied to the view.
	Version int `json:"version" db:"version"`

	CreatedEventVersion int `json:"created_event_version" db:"created_event_version"`
	UpdatedEventVersion int `json:"updated_event_version" db:"updated_event_version"`
	DeletedEventVersion int `json:"deleted_event_version" db:"deleted_event_version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewOrderView returns an empty view with no event applied.
func NewOrderView(id string) *OrderView {
	return &OrderView{
		ID:                  id,
		Items:               []order.OrderItem{},
		Version:             NotApplied,
		CreatedEventVersion: NotApplied,
		UpdatedEventVersion: NotApplied,
		DeletedEventVersion: NotApplied,
	}
}

// IsDeleted reports whether a delete event has been applied.
func (v *OrderView) IsDeleted() bool { return v.DeletedDate != nil }

// Clone returns a deep copy.
func (v *OrderView) Clone() *OrderView {
	c := *v
	c.Items = append([]order.OrderItem(nil), v.Items...)
	if v.DeletedDate != nil {
		d := *v.DeletedDate
		c.DeletedDate = &d
	}
	return &c
}

// StreamRecord is one append-only audit row per applied event.
type StreamRecord struct {
	ID        string          `json:"id" db:"id"`
	ViewID    string          `json:"view_id" db:"view_id"`
	EventType string          `json:"event_type" db:"event_type"`
	Source    string          `json:"source" db:"source"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	Data      json.RawMessage `json:"data" db:"data"`
}
