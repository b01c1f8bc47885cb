package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/infrastructure/store"
)

// MockDatabase wraps the in-memory store with call recording and error
// injection for testing.
type MockDatabase struct {
	*store.MemoryDatabase

	mu sync.Mutex

	// For tracking calls in tests
	AppendCalls         []store.OutboxEntry
	MarkDispatchedCalls []MarkDispatchedCall
	RecordFailureCalls  []RecordFailureCall
	CommitCalls         int

	BeginErr          error
	CommitErr         error
	MarkDispatchedErr error

	// BeforeCommit runs just before a session commits.
	BeforeCommit func()
}

// MarkDispatchedCall records parameters passed to MarkDispatched
type MarkDispatchedCall struct {
	AggregateID string
	VersionID   int
	EventType   string
	At          time.Time
}

// RecordFailureCall records parameters passed to RecordFailure
type RecordFailureCall struct {
	ID          string
	NextAttempt time.Time
}

// NewMockDatabase creates a new MockDatabase
func NewMockDatabase() *MockDatabase {
	return &MockDatabase{MemoryDatabase: store.NewMemoryDatabase()}
}

func (m *MockDatabase) Begin(ctx context.Context) (store.Session, error) {
	m.mu.Lock()
	err := m.BeginErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sess, err := m.MemoryDatabase.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &mockSession{Session: sess, m: m}, nil
}

// AppendedEventTypes lists the event types of every recorded Append call.
func (m *MockDatabase) AppendedEventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.AppendCalls))
	for _, c := range m.AppendCalls {
		out = append(out, c.EventType)
	}
	return out
}

type mockSession struct {
	store.Session
	m *MockDatabase
}

func (s *mockSession) Orders() store.OrderRepository { return s.Session.Orders() }

func (s *mockSession) Outbox() store.OutboxRepository {
	return &mockOutbox{OutboxRepository: s.Session.Outbox(), m: s.m}
}

func (s *mockSession) Commit() error {
	s.m.mu.Lock()
	s.m.CommitCalls++
	hook, err := s.m.BeforeCommit, s.m.CommitErr
	s.m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		_ = s.Session.Rollback()
		return err
	}
	return s.Session.Commit()
}

type mockOutbox struct {
	store.OutboxRepository
	m *MockDatabase
}

func (o *mockOutbox) Append(ctx context.Context, e store.OutboxEntry) error {
	o.m.mu.Lock()
	o.m.AppendCalls = append(o.m.AppendCalls, e)
	o.m.mu.Unlock()
	return o.OutboxRepository.Append(ctx, e)
}

func (o *mockOutbox) MarkDispatched(ctx context.Context, aggregateID string, versionID int, eventType string, at time.Time) error {
	o.m.mu.Lock()
	o.m.MarkDispatchedCalls = append(o.m.MarkDispatchedCalls, MarkDispatchedCall{aggregateID, versionID, eventType, at})
	err := o.m.MarkDispatchedErr
	o.m.mu.Unlock()
	if err != nil {
		return err
	}
	return o.OutboxRepository.MarkDispatched(ctx, aggregateID, versionID, eventType, at)
}

func (o *mockOutbox) RecordFailure(ctx context.Context, id string, nextAttempt time.Time) error {
	o.m.mu.Lock()
	o.m.RecordFailureCalls = append(o.m.RecordFailureCalls, RecordFailureCall{id, nextAttempt})
	o.m.mu.Unlock()
	return o.OutboxRepository.RecordFailure(ctx, id, nextAttempt)
}

// StoredOrder reads the committed order, or nil.
func (m *MockDatabase) StoredOrder(id string) *order.Order {
	sess, err := m.MemoryDatabase.Begin(context.Background())
	if err != nil {
		return nil
	}
	defer sess.Rollback()
	o, err := sess.Orders().Get(context.Background(), id)
	if err != nil {
		return nil
	}
	return o
}
