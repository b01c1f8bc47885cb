package outbox

import (
	"context"
	"time"
)

// Lease keeps concurrent sweeps apart across replicas.
type Lease interface {
	// Acquire reports whether this holder owns the lease for ttl.
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

type noLease struct{}

func (noLease) Acquire(context.Context, time.Duration) (bool, error) { return true, nil }
func (noLease) Release(context.Context) error                       { return nil }
