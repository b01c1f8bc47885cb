package command

import (
	"strings"

	"github.com/example/ec-ordering/internal/domain/order"
)

// Command is anything the pipeline can run.
type Command interface {
	Name() string
	Validate() error
}

// Actor is the caller of a write. A nil actor is trusted, as with auth
// disabled or internal callers.
type Actor struct {
	CustomerID string
	Admin      bool
}

// Owns reports whether the actor may modify an order of customerID.
func (a *Actor) Owns(customerID order.CustomerID) bool {
	return a == nil || a.Admin || a.CustomerID == customerID.String()
}

// Order Commands
type CreateOrder struct {
	CustomerID      string            `json:"customer_id"`
	OrderName       string            `json:"order_name"`
	ShippingAddress order.Address     `json:"shipping_address"`
	BillingAddress  order.Address     `json:"billing_address"`
	Payment         order.Payment     `json:"payment"`
	Items           []order.OrderItem `json:"items"`
}

type UpdateOrder struct {
	OrderID         string            `json:"order_id"`
	IfMatch         string            `json:"-"`
	Actor           *Actor            `json:"-"`
	OrderName       string            `json:"order_name"`
	ShippingAddress order.Address     `json:"shipping_address"`
	BillingAddress  order.Address     `json:"billing_address"`
	Payment         order.Payment     `json:"payment"`
	Items           []order.OrderItem `json:"items"`
	Status          string            `json:"status,omitempty"`
}

type DeleteOrder struct {
	OrderID string `json:"order_id"`
	IfMatch string `json:"-"`
	Actor   *Actor `json:"-"`
}

func (CreateOrder) Name() string { return "create_order" }
func (UpdateOrder) Name() string { return "update_order" }
func (DeleteOrder) Name() string { return "delete_order" }

// Validate checks request shape. Domain rules are enforced again by the
// aggregate.
func (c CreateOrder) Validate() error {
	return firstError(
		order.CustomerID(c.CustomerID).Validate,
		order.OrderName(c.OrderName).Validate,
		c.ShippingAddress.Validate,
		c.BillingAddress.Validate,
		c.Payment.Validate,
		func() error { return order.ValidateItems(c.Items) },
	)
}

func (c UpdateOrder) Validate() error {
	return firstError(
		func() error { return requireID(c.OrderID) },
		order.OrderName(c.OrderName).Validate,
		c.ShippingAddress.Validate,
		c.BillingAddress.Validate,
		c.Payment.Validate,
		func() error { return order.ValidateItems(c.Items) },
		func() error {
			if c.Status == "" {
				return nil
			}
			if _, ok := order.ParseStatus(c.Status); !ok {
				return &order.ValidationError{Field: "status", Reason: "is not a known status"}
			}
			return nil
		},
	)
}

func (c DeleteOrder) Validate() error {
	return requireID(c.OrderID)
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &order.ValidationError{Field: "order_id", Reason: "is required"}
	}
	return nil
}

func firstError(checks ...func() error) error {
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}
