package messaging

import "github.com/example/ec-ordering/internal/domain/order"

const (
	// DefaultSource identifies the ordering command side as envelope source.
	DefaultSource = "eshop.order-command"
	// Exchange is the topic exchange events are published to.
	Exchange = "eshop.order-command"
	// DeadLetterExchange routes rejected messages to their <queue>_dlq.
	DeadLetterExchange = "eshop.order-command.dlx"

	WireOrderCreated = "com.eshop.order-command.order-created"
	WireOrderUpdated = "com.eshop.order-command.order-updated"
	WireOrderDeleted = "com.eshop.order-command.order-deleted"
)

var wireTypes = map[string]string{
	order.EventOrderCreated: WireOrderCreated,
	order.EventOrderUpdated: WireOrderUpdated,
	order.EventOrderDeleted: WireOrderDeleted,
}

// WireType maps a domain event type to its envelope type.
func WireType(eventType string) (string, bool) {
	t, ok := wireTypes[eventType]
	return t, ok
}

// WireTypes lists every published envelope type.
func WireTypes() []string {
	return []string{WireOrderCreated, WireOrderUpdated, WireOrderDeleted}
}

// QueueName is the per (consumer, event type) queue.
func QueueName(consumer, wireType string) string {
	return consumer + "." + wireType
}

// DeadLetterName names the dead-letter queue or topic paired with name.
func DeadLetterName(name string) string {
	return name + "_dlq"
}
