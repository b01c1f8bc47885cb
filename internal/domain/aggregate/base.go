package aggregate

import "sync"

// DomainEvent is a fact raised by an aggregate mutation.
type DomainEvent interface {
	EventType() string
	AggregateID() string
	AggregateType() string
	AggregateVersion() int
}

// EventSource is implemented by aggregates that queue domain events until
// the surrounding unit of work commits.
type EventSource interface {
	GetID() string
	GetVersion() int
	PendingEvents() []DomainEvent
	PullEvents() []DomainEvent
}

// Root holds the transient, non-persisted queue of uncommitted events.
// Embed it in an aggregate struct.
type Root struct {
	mu     sync.Mutex
	events []DomainEvent
}

// Raise appends an event to the queue in raise order.
func (r *Root) Raise(e DomainEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// PendingEvents returns a copy of the queued events without draining them.
func (r *Root) PendingEvents() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}

// PullEvents drains the queue. A second call returns nothing until new
// events are raised.
func (r *Root) PullEvents() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}
