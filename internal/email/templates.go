package email

import (
	"bytes"
	"html/template"

	"github.com/shopspring/decimal"
)

// LineItem is one row of the confirmation table.
type LineItem struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

func (i LineItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type confirmation struct {
	OrderID   string
	OrderName string
	Recipient string
	Items     []LineItem
	Total     decimal.Decimal
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 22px;">Thank you for your order, {{.Recipient}}</h1>
	<p>Order <strong style="font-family: monospace;">{{.OrderID}}</strong> ({{.OrderName}}) has been received.</p>
	<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
		<thead>
			<tr style="background: #f8f9fa;">
				<th style="padding: 8px; text-align: left;">Product</th>
				<th style="padding: 8px; text-align: center;">Qty</th>
				<th style="padding: 8px; text-align: right;">Price</th>
				<th style="padding: 8px; text-align: right;">Subtotal</th>
			</tr>
		</thead>
		<tbody>
		{{- range .Items}}
			<tr>
				<td style="padding: 8px; border-bottom: 1px solid #eee;">{{.ProductID}}</td>
				<td style="padding: 8px; border-bottom: 1px solid #eee; text-align: center;">{{.Quantity}}</td>
				<td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">{{.Price.StringFixed 2}}</td>
				<td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">{{.Subtotal.StringFixed 2}}</td>
			</tr>
		{{- end}}
		</tbody>
	</table>
	<p style="text-align: right; font-size: 18px;">Total <strong>{{.Total.StringFixed 2}}</strong></p>
	<p style="font-size: 12px; color: #999;">This message was sent automatically.</p>
</body>
</html>`))

// BuildOrderConfirmationBody renders the HTML body. Values are escaped.
func BuildOrderConfirmationBody(orderID, orderName, recipient string, total decimal.Decimal, items []LineItem) (string, error) {
	var buf bytes.Buffer
	err := confirmationTmpl.Execute(&buf, confirmation{
		OrderID:   orderID,
		OrderName: orderName,
		Recipient: recipient,
		Items:     items,
		Total:     total,
	})
	return buf.String(), err
}
