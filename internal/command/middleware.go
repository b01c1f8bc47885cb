package command

import (
	"context"
	"errors"
	"time"

	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/etag"
	"github.com/example/ec-ordering/internal/metrics"
	"go.uber.org/zap"
)

// Next runs a command and returns its result.
type Next func(ctx context.Context, cmd Command) (any, error)

// Middleware wraps a Next with a cross-cutting concern.
type Middleware func(Next) Next

// Chain wraps h so that mws[0] runs first.
func Chain(h Next, mws ...Middleware) Next {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

const (
	OutcomeOK                 = "ok"
	OutcomeInvalid            = "invalid"
	OutcomePreconditionFailed = "precondition_failed"
	OutcomeNotFound           = "not_found"
	OutcomeError              = "error"
)

// Outcome classifies a command error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, order.ErrValidation), errors.Is(err, order.ErrInvalidStatus):
		return OutcomeInvalid
	case errors.Is(err, etag.ErrInvalidEtag):
		return OutcomePreconditionFailed
	case errors.Is(err, order.ErrOrderNotFound):
		return OutcomeNotFound
	default:
		return OutcomeError
	}
}

func Logging(log *zap.Logger) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, cmd Command) (any, error) {
			start := time.Now()
			res, err := next(ctx, cmd)
			fields := []zap.Field{
				zap.String("command", cmd.Name()),
				zap.String("outcome", Outcome(err)),
				zap.Duration("took", time.Since(start)),
			}
			switch Outcome(err) {
			case OutcomeOK:
				log.Info("command handled", fields...)
			case OutcomeError:
				log.Error("command failed", append(fields, zap.Error(err))...)
			default:
				log.Warn("command rejected", append(fields, zap.Error(err))...)
			}
			return res, err
		}
	}
}

func Validation() Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, cmd Command) (any, error) {
			if err := cmd.Validate(); err != nil {
				return nil, err
			}
			return next(ctx, cmd)
		}
	}
}

func Metrics() Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, cmd Command) (any, error) {
			res, err := next(ctx, cmd)
			metrics.CommandsTotal.WithLabelValues(cmd.Name(), Outcome(err)).Inc()
			return res, err
		}
	}
}
