package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/domain/aggregate"
	"github.com/example/ec-ordering/internal/metrics"
	"go.uber.org/zap"
)

// Publisher wraps domain events in envelopes and hands them to a Broker.
type Publisher struct {
	broker Broker
	source string
	log    *zap.Logger
	now    func() time.Time
}

func NewPublisher(broker Broker, source string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	if source == "" {
		source = DefaultSource
	}
	return &Publisher{broker: broker, source: source, log: log, now: time.Now}
}

// Publish reports whether the broker acknowledged the event. Every failure,
// cancellation included, is logged and returned as false so the outbox row
// stays undispatched.
func (p *Publisher) Publish(ctx context.Context, evt aggregate.DomainEvent) bool {
	err := p.send(ctx, evt)
	result := "ok"
	if err != nil {
		result = "failed"
		p.log.Warn("publish failed",
			zap.String("event_type", evt.EventType()),
			zap.String("aggregate_id", evt.AggregateID()),
			zap.Int("version", evt.AggregateVersion()),
			zap.Error(err),
		)
	}
	metrics.OutboxPublishTotal.WithLabelValues(evt.EventType(), result).Inc()
	return err == nil
}

func (p *Publisher) send(ctx context.Context, evt aggregate.DomainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wireType, ok := WireType(evt.EventType())
	if !ok {
		return fmt.Errorf("no wire type for %s", evt.EventType())
	}
	env, err := NewEnvelope(ctx, wireType, p.source, evt.AggregateID(), evt, p.now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return p.broker.Send(ctx, Message{
		Type: wireType,
		Key:  evt.AggregateID(),
		Body: body,
		Headers: map[string]string{
			"ce_id":   env.ID,
			"ce_type": env.Type,
		},
	})
}
