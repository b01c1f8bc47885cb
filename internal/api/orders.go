package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/ec-ordering/internal/api/middleware"
	"github.com/example/ec-ordering/internal/command"
	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/etag"
	"github.com/example/ec-ordering/internal/query"
	"github.com/example/ec-ordering/internal/readmodel"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type orderHandlers struct {
	cmds    *command.Handler
	queries *query.Handler
	log     *zap.Logger
}

// paymentResponse never carries the full card number or the CVV.
type paymentResponse struct {
	CardName      string `json:"card_name"`
	CardLast4     string `json:"card_last4"`
	Expiration    string `json:"expiration"`
	PaymentMethod int    `json:"payment_method"`
}

type orderResponse struct {
	ID              string            `json:"id"`
	CustomerID      string            `json:"customer_id"`
	OrderName       string            `json:"order_name"`
	ShippingAddress order.Address     `json:"shipping_address"`
	BillingAddress  order.Address     `json:"billing_address"`
	Payment         paymentResponse   `json:"payment"`
	Items           []order.OrderItem `json:"items"`
	Status          string            `json:"status"`
	TotalPrice      decimal.Decimal   `json:"total_price"`
	Version         int               `json:"version"`
	DeletedDate     *time.Time        `json:"deleted_date,omitempty"`
}

func maskPayment(p order.Payment) paymentResponse {
	last4 := p.CardNumber
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	return paymentResponse{
		CardName:      p.CardName,
		CardLast4:     last4,
		Expiration:    p.Expiration,
		PaymentMethod: p.PaymentMethod,
	}
}

func fromOrder(o *order.Order) orderResponse {
	return orderResponse{
		ID:              o.ID.String(),
		CustomerID:      o.CustomerID.String(),
		OrderName:       o.Name.String(),
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		Payment:         maskPayment(o.Payment),
		Items:           o.Items,
		Status:          string(o.Status),
		TotalPrice:      o.TotalPrice(),
		Version:         o.RowVersion,
		DeletedDate:     o.DeleteDate,
	}
}

func fromView(v *readmodel.OrderView) orderResponse {
	return orderResponse{
		ID:              v.ID,
		CustomerID:      v.CustomerID,
		OrderName:       v.OrderName,
		ShippingAddress: v.ShippingAddress,
		BillingAddress:  v.BillingAddress,
		Payment:         maskPayment(v.Payment),
		Items:           v.Items,
		Status:          v.Status,
		TotalPrice:      v.TotalPrice,
		Version:         v.Version,
		DeletedDate:     v.DeletedDate,
	}
}

func (h *orderHandlers) create(c echo.Context) error {
	var req command.CreateOrder
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
	}
	// Customers always order for themselves.
	if claims, ok := middleware.ClaimsFromCtx(c); ok && !claims.IsAdmin() {
		req.CustomerID = claims.CustomerID
	}

	o, err := h.cmds.CreateOrder(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/orders/"+o.ID.String())
	c.Response().Header().Set("ETag", etag.Format(o.RowVersion))
	return c.JSON(http.StatusCreated, fromOrder(o))
}

func (h *orderHandlers) get(c echo.Context) error {
	v, err := h.queries.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	if !h.visible(c, v.CustomerID) {
		return h.writeError(c, order.ErrOrderNotFound)
	}
	c.Response().Header().Set("ETag", etag.Format(v.Version))
	return c.JSON(http.StatusOK, fromView(v))
}

func (h *orderHandlers) update(c echo.Context) error {
	var req command.UpdateOrder
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
	}
	req.OrderID = c.Param("id")
	req.IfMatch = c.Request().Header.Get("If-Match")
	req.Actor = actor(c)

	o, err := h.cmds.UpdateOrder(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	c.Response().Header().Set("ETag", etag.Format(o.RowVersion))
	return c.JSON(http.StatusOK, fromOrder(o))
}

func (h *orderHandlers) delete(c echo.Context) error {
	_, err := h.cmds.DeleteOrder(c.Request().Context(), command.DeleteOrder{
		OrderID: c.Param("id"),
		IfMatch: c.Request().Header.Get("If-Match"),
		Actor:   actor(c),
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *orderHandlers) history(c echo.Context) error {
	hist, err := h.queries.GetOrderHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	if !h.visible(c, hist.CustomerID) {
		return h.writeError(c, order.ErrOrderNotFound)
	}
	items := make([]readmodel.StreamRecord, 0, len(hist.Records))
	for _, r := range hist.Records {
		items = append(items, redactRecord(r))
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// redactRecord masks the payment carried in an audit row's event data.
// Data that cannot be parsed is dropped rather than served raw.
func redactRecord(r readmodel.StreamRecord) readmodel.StreamRecord {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Data, &fields); err != nil {
		r.Data = nil
		return r
	}
	raw, ok := fields["payment"]
	if !ok {
		return r
	}
	delete(fields, "payment")
	var p order.Payment
	if err := json.Unmarshal(raw, &p); err == nil {
		if masked, err := json.Marshal(maskPayment(p)); err == nil {
			fields["payment"] = masked
		}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		r.Data = nil
		return r
	}
	r.Data = data
	return r
}

func (h *orderHandlers) listByCustomer(c echo.Context) error {
	views, err := h.queries.ListOrdersByCustomer(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	items := make([]orderResponse, 0, len(views))
	for _, v := range views {
		items = append(items, fromView(v))
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func actor(c echo.Context) *command.Actor {
	claims, ok := middleware.ClaimsFromCtx(c)
	if !ok {
		return nil
	}
	return &command.Actor{CustomerID: claims.CustomerID, Admin: claims.IsAdmin()}
}

// visible hides other customers' orders from non-admin tokens.
func (h *orderHandlers) visible(c echo.Context, customerID string) bool {
	claims, ok := middleware.ClaimsFromCtx(c)
	return !ok || claims.IsAdmin() || claims.CustomerID == customerID
}

func (h *orderHandlers) writeError(c echo.Context, err error) error {
	switch command.Outcome(err) {
	case command.OutcomeInvalid:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case command.OutcomePreconditionFailed:
		return c.JSON(http.StatusPreconditionFailed, map[string]string{"error": "precondition failed"})
	case command.OutcomeNotFound:
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		h.log.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
