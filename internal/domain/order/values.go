package order

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// ErrValidation is the root of every domain validation failure.
var ErrValidation = errors.New("validation failed")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// OrderID is a ULID: 128 bits, lexicographically sortable by creation time.
type OrderID string

// NewOrderID generates a fresh ULID-backed id. Ids from one process sort in
// generation order, also within a millisecond.
func NewOrderID() OrderID {
	return OrderID(ulid.Make().String())
}

// ParseOrderID accepts only canonical ULID strings.
func ParseOrderID(s string) (OrderID, error) {
	id, err := ulid.ParseStrict(strings.TrimSpace(s))
	if err != nil {
		return "", invalid("order_id", "is not a valid ULID")
	}
	return OrderID(id.String()), nil
}

func (id OrderID) String() string { return string(id) }

func (id OrderID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return invalid("order_id", "is required")
	}
	return nil
}

type CustomerID string

func (c CustomerID) String() string { return string(c) }

func (c CustomerID) Validate() error {
	if strings.TrimSpace(string(c)) == "" {
		return invalid("customer_id", "is required")
	}
	return nil
}

// MinOrderNameLength is the minimum number of characters in an order name.
const MinOrderNameLength = 5

type OrderName string

// NewOrderName trims s and enforces the minimum length.
func NewOrderName(s string) (OrderName, error) {
	n := OrderName(strings.TrimSpace(s))
	if err := n.Validate(); err != nil {
		return "", err
	}
	return n, nil
}

func (n OrderName) String() string { return string(n) }

func (n OrderName) Validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(string(n))) < MinOrderNameLength {
		return invalid("order_name", fmt.Sprintf("must be at least %d characters", MinOrderNameLength))
	}
	return nil
}

// Address is an immutable value object. Build it with NewAddress.
type Address struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	EmailAddress string `json:"email_address"`
	AddressLine  string `json:"address_line"`
	Country      string `json:"country"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
}

func NewAddress(firstName, lastName, email, addressLine, country, state, zipCode string) (Address, error) {
	a := Address{
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		EmailAddress: strings.TrimSpace(email),
		AddressLine:  strings.TrimSpace(addressLine),
		Country:      strings.TrimSpace(country),
		State:        strings.TrimSpace(state),
		ZipCode:      strings.TrimSpace(zipCode),
	}
	if err := a.Validate(); err != nil {
		return Address{}, err
	}
	return a, nil
}

func (a Address) Validate() error {
	required := []struct{ field, value string }{
		{"first_name", a.FirstName},
		{"last_name", a.LastName},
		{"email_address", a.EmailAddress},
		{"address_line", a.AddressLine},
		{"country", a.Country},
		{"state", a.State},
		{"zip_code", a.ZipCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return invalid("address."+r.field, "is required")
		}
	}
	if !strings.Contains(a.EmailAddress, "@") {
		return invalid("address.email_address", "is not an email address")
	}
	return nil
}

// Payment is an immutable value object. Build it with NewPayment.
type Payment struct {
	CardName      string `json:"card_name"`
	CardNumber    string `json:"card_number"`
	Expiration    string `json:"expiration"`
	CVV           string `json:"cvv"`
	PaymentMethod int    `json:"payment_method"`
}

func NewPayment(cardName, cardNumber, expiration, cvv string, method int) (Payment, error) {
	p := Payment{
		CardName:      strings.TrimSpace(cardName),
		CardNumber:    strings.ReplaceAll(strings.TrimSpace(cardNumber), " ", ""),
		Expiration:    strings.TrimSpace(expiration),
		CVV:           strings.TrimSpace(cvv),
		PaymentMethod: method,
	}
	if err := p.Validate(); err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (p Payment) Validate() error {
	if p.CardName == "" {
		return invalid("payment.card_name", "is required")
	}
	if n := len(p.CardNumber); n < 12 || n > 19 || !digitsOnly(p.CardNumber) {
		return invalid("payment.card_number", "must be 12 to 19 digits")
	}
	if p.Expiration == "" {
		return invalid("payment.expiration", "is required")
	}
	if len(p.CVV) != 3 || !digitsOnly(p.CVV) {
		return invalid("payment.cvv", "must be 3 digits")
	}
	if p.PaymentMethod < 0 {
		return invalid("payment.payment_method", "must not be negative")
	}
	return nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// OrderItem is owned exclusively by its order.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func NewOrderItem(productID string, quantity int, price decimal.Decimal) (OrderItem, error) {
	it := OrderItem{ProductID: strings.TrimSpace(productID), Quantity: quantity, Price: price}
	if err := it.Validate(); err != nil {
		return OrderItem{}, err
	}
	return it, nil
}

func (it OrderItem) Validate() error {
	if it.ProductID == "" {
		return invalid("items.product_id", "is required")
	}
	if it.Quantity <= 0 {
		return invalid("items.quantity", "must be greater than zero")
	}
	if !it.Price.IsPositive() {
		return invalid("items.price", "must be greater than zero")
	}
	return nil
}

// Subtotal is price times quantity.
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// ValidateItems rejects an empty list or any malformed item.
func ValidateItems(items []OrderItem) error {
	if len(items) == 0 {
		return ErrEmptyOrder
	}
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TotalOf sums the item subtotals.
func TotalOf(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}
