package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-ordering/internal/domain/aggregate"
	"github.com/example/ec-ordering/internal/etag"
	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus normalizes input; returns false for unknown values.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusDraft, StatusPending, StatusCompleted, StatusCancelled:
		return st, true
	default:
		return "", false
	}
}

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrEmptyOrder    = error(&ValidationError{Field: "items", Reason: "must contain at least one item"})
	ErrInvalidStatus = errors.New("invalid order status transition")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusDraft:     {StatusPending, StatusCancelled},
	StatusPending:   {StatusCompleted, StatusCancelled},
	StatusCompleted: {}, // terminal state
	StatusCancelled: {}, // terminal state
}

// CanTransitionTo checks if the order can move to target. Staying in the
// current status is always allowed.
func (o *Order) CanTransitionTo(target Status) bool {
	if o.Status == target {
		return true
	}
	for _, s := range validTransitions[o.Status] {
		if s == target {
			return true
		}
	}
	return false
}

var nowFunc = time.Now

type Order struct {
	aggregate.Root

	ID              OrderID
	CustomerID      CustomerID
	Name            OrderName
	ShippingAddress Address
	BillingAddress  Address
	Payment         Payment
	Items           []OrderItem
	Status          Status
	RowVersion      int
	DeleteDate      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Aggregate interface implementation
func (o *Order) GetID() string   { return o.ID.String() }
func (o *Order) GetVersion() int { return o.RowVersion }

func (o *Order) IsDeleted() bool { return o.DeleteDate != nil }

func (o *Order) TotalPrice() decimal.Decimal { return TotalOf(o.Items) }

// Create builds a pending order at RowVersion 0 and queues OrderCreated.
func Create(
	id OrderID,
	customerID CustomerID,
	name OrderName,
	shipping, billing Address,
	payment Payment,
	items []OrderItem,
) (*Order, error) {
	if err := validateAll(id, customerID, name, shipping, billing, payment, items); err != nil {
		return nil, err
	}

	now := nowFunc().UTC()
	o := &Order{
		ID:              id,
		CustomerID:      customerID,
		Name:            OrderName(strings.TrimSpace(name.String())),
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Payment:         payment,
		Items:           cloneItems(items),
		Status:          StatusPending,
		RowVersion:      0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	o.Raise(OrderCreated{
		OrderID:         o.ID.String(),
		CustomerID:      o.CustomerID.String(),
		OrderName:       o.Name.String(),
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		Payment:         o.Payment,
		Items:           cloneItems(o.Items),
		Status:          o.Status,
		TotalPrice:      o.TotalPrice(),
		Version:         o.RowVersion,
		CreatedAt:       now,
	})
	return o, nil
}

// UpdateFields holds the replaceable state. An empty Status keeps the
// current one.
type UpdateFields struct {
	Name            OrderName
	ShippingAddress Address
	BillingAddress  Address
	Payment         Payment
	Items           []OrderItem
	Status          Status
}

// Update replaces the mutable fields when expectedVersion matches.
func (o *Order) Update(f UpdateFields, expectedVersion int) error {
	if o.IsDeleted() {
		return ErrOrderNotFound
	}
	if err := etag.Check(expectedVersion, o.RowVersion); err != nil {
		return err
	}
	if err := validateAll(o.ID, o.CustomerID, f.Name, f.ShippingAddress, f.BillingAddress, f.Payment, f.Items); err != nil {
		return err
	}

	status := o.Status
	if f.Status != "" {
		if _, ok := ParseStatus(string(f.Status)); !ok {
			return invalid("status", fmt.Sprintf("unknown value %q", f.Status))
		}
		if !o.CanTransitionTo(f.Status) {
			return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, f.Status)
		}
		status = f.Status
	}

	now := nowFunc().UTC()
	o.Name = OrderName(strings.TrimSpace(f.Name.String()))
	o.ShippingAddress = f.ShippingAddress
	o.BillingAddress = f.BillingAddress
	o.Payment = f.Payment
	o.Items = cloneItems(f.Items)
	o.Status = status
	o.RowVersion++
	o.UpdatedAt = now

	o.Raise(OrderUpdated{
		OrderID:         o.ID.String(),
		CustomerID:      o.CustomerID.String(),
		OrderName:       o.Name.String(),
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		Payment:         o.Payment,
		Items:           cloneItems(o.Items),
		Status:          o.Status,
		TotalPrice:      o.TotalPrice(),
		Version:         o.RowVersion,
		UpdatedAt:       now,
	})
	return nil
}

// Delete soft-deletes the order when expectedVersion matches.
func (o *Order) Delete(expectedVersion int) error {
	if o.IsDeleted() {
		return ErrOrderNotFound
	}
	if err := etag.Check(expectedVersion, o.RowVersion); err != nil {
		return err
	}

	now := nowFunc().UTC()
	o.DeleteDate = &now
	o.RowVersion++
	o.UpdatedAt = now

	o.Raise(OrderDeleted{
		OrderID:   o.ID.String(),
		Version:   o.RowVersion,
		DeletedAt: now,
	})
	return nil
}

func validateAll(
	id OrderID,
	customerID CustomerID,
	name OrderName,
	shipping, billing Address,
	payment Payment,
	items []OrderItem,
) error {
	checks := []func() error{
		id.Validate,
		customerID.Validate,
		name.Validate,
		shipping.Validate,
		billing.Validate,
		payment.Validate,
		func() error { return ValidateItems(items) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func cloneItems(items []OrderItem) []OrderItem {
	out := make([]OrderItem, len(items))
	copy(out, items)
	return out
}
