package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/domain/aggregate"
	"github.com/example/ec-ordering/internal/etag"
	"github.com/example/ec-ordering/internal/infrastructure/store"
)

// UnitOfWork couples aggregate writes with their outbox rows. Commit writes
// one outbox row per pending event, commits the session and, only on
// success, drains and returns the events for the caller to dispatch.
type UnitOfWork struct {
	sess    store.Session
	tracked []aggregate.EventSource
	now     time.Time
	delay   time.Duration
	done    bool
}

// BeginUnitOfWork opens a session. Outbox rows are scheduled dispatchDelay
// after now, leaving the in-process publish time to mark them first.
func BeginUnitOfWork(ctx context.Context, db store.Database, now time.Time, dispatchDelay time.Duration) (*UnitOfWork, error) {
	sess, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &UnitOfWork{sess: sess, now: now, delay: dispatchDelay}, nil
}

func (u *UnitOfWork) Orders() store.OrderRepository { return u.sess.Orders() }

// Track registers an aggregate whose pending events belong to this unit.
func (u *UnitOfWork) Track(src aggregate.EventSource) {
	u.tracked = append(u.tracked, src)
}

func (u *UnitOfWork) Commit(ctx context.Context) ([]aggregate.DomainEvent, error) {
	if u.done {
		return nil, errors.New("unit of work already finished")
	}
	u.done = true

	for _, src := range u.tracked {
		for _, evt := range src.PendingEvents() {
			payload, err := json.Marshal(evt)
			if err != nil {
				_ = u.sess.Rollback()
				return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
			}
			entry := store.OutboxEntry{
				AggregateID:      evt.AggregateID(),
				AggregateType:    evt.AggregateType(),
				VersionID:        evt.AggregateVersion(),
				EventType:        evt.EventType(),
				Payload:          payload,
				DispatchDateTime: u.now.Add(u.delay),
				CreatedAt:        u.now,
			}
			if err := u.sess.Outbox().Append(ctx, entry); err != nil {
				_ = u.sess.Rollback()
				return nil, conflict(err)
			}
		}
	}

	if err := u.sess.Commit(); err != nil {
		return nil, conflict(err)
	}

	var events []aggregate.DomainEvent
	for _, src := range u.tracked {
		events = append(events, src.PullEvents()...)
	}
	return events, nil
}

// Rollback is safe to defer; it does nothing after Commit.
func (u *UnitOfWork) Rollback() {
	if u.done {
		return
	}
	u.done = true
	_ = u.sess.Rollback()
}

// conflict maps storage-level concurrency failures to ErrInvalidEtag.
func conflict(err error) error {
	if errors.Is(err, store.ErrDuplicateOutboxEntry) || errors.Is(err, store.ErrStaleVersion) {
		return fmt.Errorf("%w: concurrent modification: %v", etag.ErrInvalidEtag, err)
	}
	return err
}
