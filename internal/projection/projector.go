package projection

import (
	"context"
	"errors"

	"github.com/example/ec-ordering/internal/messaging"
	"github.com/example/ec-ordering/internal/metrics"
	"go.uber.org/zap"
)

// Consumer applies one parsed envelope.
type Consumer interface {
	Consume(ctx context.Context, env messaging.Envelope) (Outcome, error)
}

// Projector turns raw broker bodies into Consume calls. Errors propagate so
// the broker adapter can retry or dead-letter.
type Projector struct {
	consumer Consumer
	log      *zap.Logger
}

func NewProjector(c Consumer, log *zap.Logger) *Projector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Projector{consumer: c, log: log}
}

// HandleMessage matches messaging.BodyHandler.
func (p *Projector) HandleMessage(ctx context.Context, body []byte) error {
	env, err := messaging.ParseEnvelope(body)
	if err != nil {
		metrics.ProjectionEventsTotal.WithLabelValues("unknown", "poison").Inc()
		p.log.Error("undecodable envelope", zap.Error(err))
		return err
	}
	ctx = env.Context(ctx)

	outcome, err := p.consumer.Consume(ctx, env)
	log := p.log.With(zap.String("envelope_id", env.ID), zap.String("type", env.Type))
	if env.Subject != nil {
		log = log.With(zap.String("subject", *env.Subject))
	}

	var poison *PoisonError
	switch {
	case errors.As(err, &poison):
		metrics.ProjectionEventsTotal.WithLabelValues(env.Type, "poison").Inc()
		log.Error("poison message", zap.Error(err))
		return err
	case err != nil:
		metrics.ProjectionEventsTotal.WithLabelValues(env.Type, "error").Inc()
		log.Warn("projection failed", zap.Error(err))
		return err
	}

	metrics.ProjectionEventsTotal.WithLabelValues(env.Type, string(outcome)).Inc()
	if outcome == OutcomeSkipped {
		log.Debug("event already applied")
	} else {
		log.Info("event applied")
	}
	return nil
}
