package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/example/ec-ordering/internal/messaging"
	"github.com/example/ec-ordering/internal/readmodel"
)

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
)

var ErrUnknownEventType = errors.New("unknown event type")

// PoisonError is a delivery that can never be applied. It matches both
// messaging.ErrPoisonMessage and its cause under errors.Is.
type PoisonError struct {
	EventType string
	Err       error
}

func (e *PoisonError) Error() string {
	return fmt.Sprintf("poison %s: %v", e.EventType, e.Err)
}

func (e *PoisonError) Unwrap() []error {
	return []error{messaging.ErrPoisonMessage, e.Err}
}

// Binding describes how one event type E lands on view type V.
type Binding[V, E any] struct {
	// EventType is the envelope type the binding answers to.
	EventType string
	Validate  func(E) error
	StreamID  func(E) string
	Skeleton  func(id string) V
	// CanApply is false for duplicates and stale deliveries.
	CanApply func(V, E) bool
	Apply    func(V, E) V
}

type consumeFunc func(ctx context.Context, env messaging.Envelope) (Outcome, error)

// Applier applies envelopes to views of type V through registered bindings.
type Applier[V any] struct {
	store    store.ViewStore[V]
	bindings map[string]consumeFunc
	now      func() time.Time
}

func NewApplier[V any](s store.ViewStore[V]) *Applier[V] {
	return &Applier[V]{
		store:    s,
		bindings: make(map[string]consumeFunc),
		now:      time.Now,
	}
}

// Register adds b to a. Registering the same event type twice panics.
func Register[V, E any](a *Applier[V], b Binding[V, E]) {
	if _, dup := a.bindings[b.EventType]; dup {
		panic("projection: duplicate binding for " + b.EventType)
	}
	a.bindings[b.EventType] = func(ctx context.Context, env messaging.Envelope) (Outcome, error) {
		var evt E
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			return "", &PoisonError{EventType: env.Type, Err: err}
		}
		if err := b.Validate(evt); err != nil {
			return "", &PoisonError{EventType: env.Type, Err: err}
		}
		id := b.StreamID(evt)
		if id == "" {
			return "", &PoisonError{EventType: env.Type, Err: errors.New("missing stream id")}
		}
		return apply(ctx, a, env, id, evt, b)
	}
}

// EventTypes lists the registered envelope types.
func (a *Applier[V]) EventTypes() []string {
	out := make([]string, 0, len(a.bindings))
	for t := range a.bindings {
		out = append(out, t)
	}
	return out
}

// Consume applies env at most once per event version. Duplicates and
// out-of-order deliveries return OutcomeSkipped without side effects.
func (a *Applier[V]) Consume(ctx context.Context, env messaging.Envelope) (Outcome, error) {
	fn, ok := a.bindings[env.Type]
	if !ok {
		return "", &PoisonError{EventType: env.Type, Err: ErrUnknownEventType}
	}
	return fn(ctx, env)
}

func apply[V, E any](ctx context.Context, a *Applier[V], env messaging.Envelope, id string, evt E, b Binding[V, E]) (Outcome, error) {
	sess, err := a.store.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin view session: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sess.Rollback()
		}
	}()

	view, found, err := sess.Load(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load view %s: %w", id, err)
	}
	if !found {
		view = b.Skeleton(id)
	}
	if !b.CanApply(view, evt) {
		return OutcomeSkipped, nil
	}

	view = b.Apply(view, evt)
	if err := sess.Save(ctx, view); err != nil {
		return "", fmt.Errorf("save view %s: %w", id, err)
	}
	rec := readmodel.StreamRecord{
		ViewID:    id,
		EventType: env.Type,
		Source:    env.Source,
		CreatedAt: a.now().UTC(),
		Data:      env.Data,
	}
	if err := sess.AppendStream(ctx, rec); err != nil {
		return "", fmt.Errorf("append stream %s: %w", id, err)
	}
	if err := sess.Commit(); err != nil {
		return "", fmt.Errorf("commit view %s: %w", id, err)
	}
	committed = true
	return OutcomeApplied, nil
}
