package order

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/domain/aggregate"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated = "OrderCreated"
	EventOrderUpdated = "OrderUpdated"
	EventOrderDeleted = "OrderDeleted"
)

// OrderCreated carries the full initial state. Version is always 0.
type OrderCreated struct {
	OrderID         string          `json:"order_id"`
	CustomerID      string          `json:"customer_id"`
	OrderName       string          `json:"order_name"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  Address         `json:"billing_address"`
	Payment         Payment         `json:"payment"`
	Items           []OrderItem     `json:"items"`
	Status          Status          `json:"status"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (e OrderCreated) EventType() string     { return EventOrderCreated }
func (e OrderCreated) AggregateID() string   { return e.OrderID }
func (e OrderCreated) AggregateType() string { return AggregateType }
func (e OrderCreated) AggregateVersion() int { return e.Version }

// OrderUpdated carries the replaced mutable state and the new row version.
type OrderUpdated struct {
	OrderID         string          `json:"order_id"`
	CustomerID      string          `json:"customer_id"`
	OrderName       string          `json:"order_name"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  Address         `json:"billing_address"`
	Payment         Payment         `json:"payment"`
	Items           []OrderItem     `json:"items"`
	Status          Status          `json:"status"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Version         int             `json:"version"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (e OrderUpdated) EventType() string     { return EventOrderUpdated }
func (e OrderUpdated) AggregateID() string   { return e.OrderID }
func (e OrderUpdated) AggregateType() string { return AggregateType }
func (e OrderUpdated) AggregateVersion() int { return e.Version }

type OrderDeleted struct {
	OrderID   string    `json:"order_id"`
	Version   int       `json:"version"`
	DeletedAt time.Time `json:"deleted_at"`
}

func (e OrderDeleted) EventType() string     { return EventOrderDeleted }
func (e OrderDeleted) AggregateID() string   { return e.OrderID }
func (e OrderDeleted) AggregateType() string { return AggregateType }
func (e OrderDeleted) AggregateVersion() int { return e.Version }

// DecodeEvent rebuilds an event from its stored outbox payload.
func DecodeEvent(eventType string, data []byte) (aggregate.DomainEvent, error) {
	var (
		evt aggregate.DomainEvent
		err error
	)
	switch eventType {
	case EventOrderCreated:
		var e OrderCreated
		err = json.Unmarshal(data, &e)
		evt = e
	case EventOrderUpdated:
		var e OrderUpdated
		err = json.Unmarshal(data, &e)
		evt = e
	case EventOrderDeleted:
		var e OrderDeleted
		err = json.Unmarshal(data, &e)
		evt = e
	default:
		return nil, fmt.Errorf("unknown order event type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return evt, nil
}
