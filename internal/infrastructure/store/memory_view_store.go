package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/ec-ordering/internal/readmodel"
)

// MemoryViewStore keeps order views in memory. A session holds the store's
// write lock from Begin until Commit or Rollback, which serializes
// load-check-apply-save the way row locks do in SQL.
type MemoryViewStore struct {
	sem chan struct{}

	mu      sync.RWMutex
	views   map[string]*readmodel.OrderView
	streams []readmodel.StreamRecord
}

func NewMemoryViewStore() *MemoryViewStore {
	return &MemoryViewStore{
		sem:   make(chan struct{}, 1),
		views: make(map[string]*readmodel.OrderView),
	}
}

var (
	_ ViewStore[*readmodel.OrderView] = (*MemoryViewStore)(nil)
	_ OrderViewReader                 = (*MemoryViewStore)(nil)
)

func (s *MemoryViewStore) Begin(ctx context.Context) (ViewSession[*readmodel.OrderView], error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memoryViewSession{store: s, saved: make(map[string]*readmodel.OrderView)}, nil
}

func (s *MemoryViewStore) GetView(ctx context.Context, id string) (*readmodel.OrderView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.views[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

func (s *MemoryViewStore) ListByCustomer(ctx context.Context, customerID string) ([]*readmodel.OrderView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*readmodel.OrderView
	for _, v := range s.views {
		if v.CustomerID == customerID {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryViewStore) Streams(ctx context.Context, viewID string) ([]readmodel.StreamRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []readmodel.StreamRecord
	for _, r := range s.streams {
		if r.ViewID == viewID {
			out = append(out, r)
		}
	}
	return out, nil
}

type memoryViewSession struct {
	store   *MemoryViewStore
	saved   map[string]*readmodel.OrderView
	order   []string
	streams []readmodel.StreamRecord
	closed  bool
}

func (s *memoryViewSession) Load(ctx context.Context, id string) (*readmodel.OrderView, bool, error) {
	if s.closed {
		return nil, false, errSessionClosed
	}
	if v, ok := s.saved[id]; ok {
		return v.Clone(), true, nil
	}
	v, err := s.store.GetView(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *memoryViewSession) Save(ctx context.Context, v *readmodel.OrderView) error {
	if s.closed {
		return errSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, seen := s.saved[v.ID]; !seen {
		s.order = append(s.order, v.ID)
	}
	s.saved[v.ID] = v.Clone()
	return nil
}

func (s *memoryViewSession) AppendStream(ctx context.Context, rec readmodel.StreamRecord) error {
	if s.closed {
		return errSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = newID()
	}
	rec.Data = append([]byte(nil), rec.Data...)
	s.streams = append(s.streams, rec)
	return nil
}

func (s *memoryViewSession) Commit() error {
	if s.closed {
		return errSessionClosed
	}
	s.closed = true
	defer func() { <-s.store.sem }()

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, id := range s.order {
		s.store.views[id] = s.saved[id]
	}
	s.store.streams = append(s.store.streams, s.streams...)
	return nil
}

func (s *memoryViewSession) Rollback() error {
	if s.closed {
		return nil
	}
	s.closed = true
	<-s.store.sem
	return nil
}
