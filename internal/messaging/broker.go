package messaging

import "context"

// Message is a transport-neutral broker message. Type doubles as routing
// key (RabbitMQ) and topic (Kafka).
type Message struct {
	Type    string
	Key     string
	Body    []byte
	Headers map[string]string
}

// Broker sends a message and returns only once the broker acknowledged it.
type Broker interface {
	Send(ctx context.Context, msg Message) error
}

// BodyHandler consumes one raw message body. Returning an error wrapping
// ErrPoisonMessage dead-letters the message; any other error is retried.
type BodyHandler func(ctx context.Context, body []byte) error
