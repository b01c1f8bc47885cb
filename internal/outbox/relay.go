package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/domain/aggregate"
	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/example/ec-ordering/internal/metrics"
	"go.uber.org/zap"
)

// EventPublisher returns true only on a broker-acknowledged send.
type EventPublisher interface {
	Publish(ctx context.Context, evt aggregate.DomainEvent) bool
}

// Decoder rebuilds a domain event from an outbox payload.
type Decoder func(eventType string, payload []byte) (aggregate.DomainEvent, error)

type Config struct {
	Interval    time.Duration
	BatchSize   int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
	LeaseTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * c.Interval
	}
	return c
}

// Relay publishes committed events and marks their outbox rows. Handle is
// the fast path fed by the dispatcher; Sweep retries whatever Handle missed.
type Relay struct {
	db        store.Database
	publisher EventPublisher
	decode    Decoder
	cfg       Config
	lease     Lease
	log       *zap.Logger
	now       func() time.Time
}

type Option func(*Relay)

func WithLease(l Lease) Option { return func(r *Relay) { r.lease = l } }

func WithClock(now func() time.Time) Option { return func(r *Relay) { r.now = now } }

func WithDecoder(d Decoder) Option { return func(r *Relay) { r.decode = d } }

func NewRelay(db store.Database, publisher EventPublisher, cfg Config, log *zap.Logger, opts ...Option) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Relay{
		db:        db,
		publisher: publisher,
		decode:    order.DecodeEvent,
		cfg:       cfg.withDefaults(),
		lease:     noLease{},
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle publishes evt and, on success, marks its outbox row in a separate
// session. A failed publish leaves the row for the sweep.
func (r *Relay) Handle(ctx context.Context, evt aggregate.DomainEvent) error {
	if !r.publisher.Publish(ctx, evt) {
		return fmt.Errorf("publish %s %s v%d: not acknowledged", evt.EventType(), evt.AggregateID(), evt.AggregateVersion())
	}
	return r.markDispatched(ctx, evt.AggregateID(), evt.AggregateVersion(), evt.EventType())
}

func (r *Relay) markDispatched(ctx context.Context, aggregateID string, version int, eventType string) error {
	sess, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := sess.Outbox().MarkDispatched(ctx, aggregateID, version, eventType, r.now().UTC()); err != nil {
		_ = sess.Rollback()
		return fmt.Errorf("mark %s %s v%d dispatched: %w", eventType, aggregateID, version, err)
	}
	return sess.Commit()
}

// SweepResult counts what one sweep pass did.
type SweepResult struct {
	Published int
	Failed    int
	Dead      int
}

// Sweep republishes undispatched rows that are due. It returns early only
// when the batch cannot be read.
func (r *Relay) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := r.now().UTC()

	rows, err := r.findDue(ctx, now)
	if err != nil {
		return res, err
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		log := r.log.With(
			zap.String("outbox_id", row.ID),
			zap.String("aggregate_id", row.AggregateID),
			zap.Int("version", row.VersionID),
			zap.String("event_type", row.EventType),
		)

		if row.NumberOfDispatchTry >= r.cfg.MaxAttempts {
			res.Dead++
			metrics.OutboxDeadTotal.Inc()
			log.Error("outbox row exhausted its attempts", zap.Int("tries", row.NumberOfDispatchTry))
			// Park it so it does not crowd the batch on every pass.
			if err := r.recordFailure(ctx, row.ID, now.Add(r.cfg.MaxBackoff)); err != nil {
				log.Warn("record failure failed", zap.Error(err))
			}
			continue
		}

		evt, err := r.decode(row.EventType, row.Payload)
		if err == nil && r.publisher.Publish(ctx, evt) {
			if err := r.markDispatched(ctx, row.AggregateID, row.VersionID, row.EventType); err != nil {
				log.Warn("mark dispatched failed", zap.Error(err))
			}
			res.Published++
			continue
		}
		if err != nil {
			log.Error("outbox payload undecodable", zap.Error(err))
		}

		res.Failed++
		next := now.Add(Backoff(r.cfg.BaseBackoff, r.cfg.MaxBackoff, row.NumberOfDispatchTry))
		if err := r.recordFailure(ctx, row.ID, next); err != nil {
			log.Warn("record failure failed", zap.Error(err))
		}
	}
	return res, nil
}

func (r *Relay) findDue(ctx context.Context, now time.Time) ([]store.OutboxEntry, error) {
	sess, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Rollback()

	rows, err := sess.Outbox().FindDispatchable(ctx, now, r.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("find dispatchable: %w", err)
	}
	return rows, nil
}

func (r *Relay) recordFailure(ctx context.Context, id string, next time.Time) error {
	sess, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := sess.Outbox().RecordFailure(ctx, id, next); err != nil {
		_ = sess.Rollback()
		return err
	}
	return sess.Commit()
}

// Run sweeps every Interval until ctx is cancelled. A pass runs only while
// this replica holds the lease.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("outbox sweep started", zap.Duration("interval", r.cfg.Interval), zap.Int("batch", r.cfg.BatchSize))
	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = r.lease.Release(releaseCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Relay) tick(ctx context.Context) {
	held, err := r.lease.Acquire(ctx, r.cfg.LeaseTTL)
	if err != nil {
		r.log.Warn("outbox lease unavailable", zap.Error(err))
		return
	}
	if !held {
		return
	}
	res, err := r.Sweep(ctx)
	if err != nil {
		r.log.Warn("outbox sweep failed", zap.Error(err))
		return
	}
	if res != (SweepResult{}) {
		r.log.Info("outbox sweep",
			zap.Int("published", res.Published),
			zap.Int("failed", res.Failed),
			zap.Int("dead", res.Dead),
		)
	}
}
