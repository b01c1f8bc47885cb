package rabbitmq

import (
	"fmt"

	"github.com/example/ec-ordering/internal/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Declarer is the subset of *amqp.Channel topology needs.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareExchanges declares the event topic exchange and its dead-letter
// exchange. Publishers only need this part.
func DeclareExchanges(ch Declarer, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.ExchangeDeclare(messaging.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", messaging.DeadLetterExchange, err)
	}
	return nil
}

// DeclareQueues declares one quorum queue per (consumer, event type), bound
// by event type, each dead-lettering to <queue>_dlq. The broker itself
// dead-letters after maxDeliveries.
func DeclareQueues(ch Declarer, exchange, consumer string, wireTypes []string, maxDeliveries int) ([]string, error) {
	if err := DeclareExchanges(ch, exchange); err != nil {
		return nil, err
	}

	queues := make([]string, 0, len(wireTypes))
	for _, wt := range wireTypes {
		q := messaging.QueueName(consumer, wt)
		dlq := messaging.DeadLetterName(q)

		if _, err := ch.QueueDeclare(dlq, true, false, false, false, amqp.Table{
			amqp.QueueTypeArg: amqp.QueueTypeQuorum,
		}); err != nil {
			return nil, fmt.Errorf("declare queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, q, messaging.DeadLetterExchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind %s: %w", dlq, err)
		}

		args := amqp.Table{
			amqp.QueueTypeArg:           amqp.QueueTypeQuorum,
			"x-dead-letter-exchange":    messaging.DeadLetterExchange,
			"x-dead-letter-routing-key": q,
		}
		if maxDeliveries > 0 {
			args["x-delivery-limit"] = int64(maxDeliveries)
		}
		if _, err := ch.QueueDeclare(q, true, false, false, false, args); err != nil {
			return nil, fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, wt, exchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind %s: %w", q, err)
		}
		queues = append(queues, q)
	}
	return queues, nil
}
