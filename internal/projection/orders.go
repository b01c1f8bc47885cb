package projection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/example/ec-ordering/internal/messaging"
	"github.com/example/ec-ordering/internal/readmodel"
	"github.com/shopspring/decimal"
)

type OrderApplier = Applier[*readmodel.OrderView]

// NewOrderApplier wires the created, updated and deleted bindings.
func NewOrderApplier(s store.ViewStore[*readmodel.OrderView]) *OrderApplier {
	a := NewApplier(s)

	Register(a, Binding[*readmodel.OrderView, order.OrderCreated]{
		EventType: messaging.WireOrderCreated,
		Validate:  validateCreated,
		StreamID:  func(e order.OrderCreated) string { return e.OrderID },
		Skeleton:  readmodel.NewOrderView,
		CanApply: func(v *readmodel.OrderView, e order.OrderCreated) bool {
			return e.Version > v.CreatedEventVersion
		},
		Apply: applyCreated,
	})
	Register(a, Binding[*readmodel.OrderView, order.OrderUpdated]{
		EventType: messaging.WireOrderUpdated,
		Validate:  validateUpdated,
		StreamID:  func(e order.OrderUpdated) string { return e.OrderID },
		Skeleton:  readmodel.NewOrderView,
		CanApply: func(v *readmodel.OrderView, e order.OrderUpdated) bool {
			return e.Version > v.UpdatedEventVersion
		},
		Apply: applyUpdated,
	})
	Register(a, Binding[*readmodel.OrderView, order.OrderDeleted]{
		EventType: messaging.WireOrderDeleted,
		Validate:  validateDeleted,
		StreamID:  func(e order.OrderDeleted) string { return e.OrderID },
		Skeleton:  readmodel.NewOrderView,
		CanApply: func(v *readmodel.OrderView, e order.OrderDeleted) bool {
			return e.Version > v.DeletedEventVersion
		},
		Apply: applyDeleted,
	})
	return a
}

// State fields are only overwritten by an event newer than everything the
// view has seen, so a late created event cannot roll back an update.

func applyCreated(v *readmodel.OrderView, e order.OrderCreated) *readmodel.OrderView {
	v.CustomerID = e.CustomerID
	v.CreatedAt = e.CreatedAt
	v.CreatedEventVersion = e.Version
	if e.Version > v.Version {
		setState(v, e.OrderName, e.ShippingAddress, e.BillingAddress, e.Payment, e.Items, e.Status, e.TotalPrice)
		v.Version = e.Version
		v.UpdatedAt = e.CreatedAt
	}
	return v
}

func applyUpdated(v *readmodel.OrderView, e order.OrderUpdated) *readmodel.OrderView {
	if v.CustomerID == "" {
		v.CustomerID = e.CustomerID
	}
	v.UpdatedEventVersion = e.Version
	if e.Version > v.Version {
		setState(v, e.OrderName, e.ShippingAddress, e.BillingAddress, e.Payment, e.Items, e.Status, e.TotalPrice)
		v.Version = e.Version
		v.UpdatedAt = e.UpdatedAt
	}
	return v
}

func applyDeleted(v *readmodel.OrderView, e order.OrderDeleted) *readmodel.OrderView {
	at := e.DeletedAt
	v.DeletedDate = &at
	v.DeletedEventVersion = e.Version
	if e.Version > v.Version {
		v.Version = e.Version
		v.UpdatedAt = e.DeletedAt
	}
	return v
}

func setState(v *readmodel.OrderView, name string, ship, bill order.Address, pay order.Payment, items []order.OrderItem, st order.Status, total decimal.Decimal) {
	v.OrderName = name
	v.ShippingAddress = ship
	v.BillingAddress = bill
	v.Payment = pay
	v.Items = append([]order.OrderItem{}, items...)
	v.Status = string(st)
	v.TotalPrice = total
}

// ---- payload validation ----

func validateCreated(e order.OrderCreated) error {
	if e.Version != 0 {
		return fmt.Errorf("created event must carry version 0, got %d", e.Version)
	}
	return validateState(e.OrderID, e.CustomerID, e.OrderName, e.ShippingAddress, e.BillingAddress, e.Payment, e.Items, e.Status, e.TotalPrice)
}

func validateUpdated(e order.OrderUpdated) error {
	if e.Version < 1 {
		return fmt.Errorf("updated event must carry version >= 1, got %d", e.Version)
	}
	return validateState(e.OrderID, e.CustomerID, e.OrderName, e.ShippingAddress, e.BillingAddress, e.Payment, e.Items, e.Status, e.TotalPrice)
}

func validateDeleted(e order.OrderDeleted) error {
	if strings.TrimSpace(e.OrderID) == "" {
		return errors.New("order_id is required")
	}
	if e.Version < 1 {
		return fmt.Errorf("deleted event must carry version >= 1, got %d", e.Version)
	}
	if e.DeletedAt.IsZero() {
		return errors.New("deleted_at is required")
	}
	return nil
}

func validateState(id, customerID, name string, ship, bill order.Address, pay order.Payment, items []order.OrderItem, st order.Status, total decimal.Decimal) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("order_id is required")
	}
	checks := []func() error{
		order.CustomerID(customerID).Validate,
		order.OrderName(name).Validate,
		ship.Validate,
		bill.Validate,
		pay.Validate,
		func() error { return order.ValidateItems(items) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	if _, ok := order.ParseStatus(string(st)); !ok {
		return fmt.Errorf("unknown status %q", st)
	}
	if want := order.TotalOf(items); !want.Equal(total) {
		return fmt.Errorf("total_price %s does not match items %s", total, want)
	}
	return nil
}
