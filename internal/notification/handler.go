package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/email"
	"github.com/example/ec-ordering/internal/messaging"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Mailer interface {
	SendOrderConfirmation(to, recipient, orderID, orderName string, total decimal.Decimal, items []email.LineItem) error
}

// ErrInFlight reports that another consumer holds an unconfirmed claim on
// the same order. It is transient so the message is retried.
var ErrInFlight = errors.New("confirmation in flight")

// Deduper remembers which orders were already confirmed. Claim reports
// whether the caller is the first to claim key; the claim stays pending
// until Confirm, or is released by Forget. Done reports a confirmed key.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Confirm(ctx context.Context, key string) error
	Done(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Handler mails a confirmation to the billing address of every created
// order. Without a Deduper a redelivered event mails again.
type Handler struct {
	mailer Mailer
	dedupe Deduper
	log    *zap.Logger
}

func NewHandler(mailer Mailer, dedupe Deduper, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{mailer: mailer, dedupe: dedupe, log: log}
}

// HandleMessage matches messaging.BodyHandler.
func (h *Handler) HandleMessage(ctx context.Context, body []byte) error {
	env, err := messaging.ParseEnvelope(body)
	if err != nil {
		return err
	}
	if env.Type != messaging.WireOrderCreated {
		return nil
	}

	var e order.OrderCreated
	if err := json.Unmarshal(env.Data, &e); err != nil {
		return fmt.Errorf("%w: decode %s: %v", messaging.ErrPoisonMessage, env.Type, err)
	}
	to := e.BillingAddress.EmailAddress
	if e.OrderID == "" || to == "" {
		return fmt.Errorf("%w: order created without id or billing email", messaging.ErrPoisonMessage)
	}

	key := "order-confirmation:" + e.OrderID
	if h.dedupe != nil {
		first, err := h.dedupe.Claim(ctx, key)
		if err != nil {
			return fmt.Errorf("claim %s: %w", key, err)
		}
		if !first {
			done, err := h.dedupe.Done(ctx, key)
			if err != nil {
				return fmt.Errorf("check %s: %w", key, err)
			}
			if !done {
				return fmt.Errorf("%s: %w", key, ErrInFlight)
			}
			h.log.Debug("confirmation already sent", zap.String("order_id", e.OrderID))
			return nil
		}
	}

	items := make([]email.LineItem, 0, len(e.Items))
	for _, it := range e.Items {
		items = append(items, email.LineItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	recipient := e.BillingAddress.FirstName + " " + e.BillingAddress.LastName
	if err := h.mailer.SendOrderConfirmation(to, recipient, e.OrderID, e.OrderName, e.TotalPrice, items); err != nil {
		if h.dedupe != nil {
			_ = h.dedupe.Forget(ctx, key)
		}
		h.log.Warn("confirmation failed", zap.String("order_id", e.OrderID), zap.Error(err))
		return fmt.Errorf("send confirmation for %s: %w", e.OrderID, err)
	}

	if h.dedupe != nil {
		// The mail is out; a lost confirm only lets the pending claim lapse.
		if err := h.dedupe.Confirm(ctx, key); err != nil {
			h.log.Warn("confirm dedupe key failed", zap.String("order_id", e.OrderID), zap.Error(err))
		}
	}
	h.log.Info("confirmation sent", zap.String("order_id", e.OrderID), zap.String("customer_id", e.CustomerID))
	return nil
}
