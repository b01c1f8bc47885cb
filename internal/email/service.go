package email

import (
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/shopspring/decimal"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service handles email sending via SMTP
type Service struct {
	addr string
	from string
	send sendFunc
}

func NewService(host, port, from string) *Service {
	return &Service{addr: net.JoinHostPort(host, port), from: from, send: smtp.SendMail}
}

// SendOrderConfirmation sends an order confirmation email
func (s *Service) SendOrderConfirmation(to, recipient, orderID, orderName string, total decimal.Decimal, items []LineItem) error {
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient %q", to)
	}
	body, err := BuildOrderConfirmationBody(orderID, orderName, recipient, total, items)
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}
	subject := fmt.Sprintf("Order confirmation %s", orderID)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	return s.send(s.addr, nil, s.from, []string{to}, []byte(msg))
}
