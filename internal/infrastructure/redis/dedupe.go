package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	dedupePending = "pending"
	dedupeDone    = "done"
)

// Deduper records processed keys with SET NX so concurrent consumers agree
// on a single winner. A claim is held as pending for pendingTTL and kept
// for ttl once confirmed, so a holder that dies before confirming blocks
// redeliveries only until the pending claim expires.
type Deduper struct {
	rdb        goredis.Cmdable
	prefix     string
	pendingTTL time.Duration
	ttl        time.Duration
}

func NewDeduper(rdb goredis.Cmdable, prefix string, pendingTTL, ttl time.Duration) *Deduper {
	if pendingTTL <= 0 {
		pendingTTL = time.Minute
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{rdb: rdb, prefix: prefix, pendingTTL: pendingTTL, ttl: ttl}
}

func (d *Deduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, d.prefix+key, dedupePending, d.pendingTTL).Result()
}

func (d *Deduper) Confirm(ctx context.Context, key string) error {
	return d.rdb.Set(ctx, d.prefix+key, dedupeDone, d.ttl).Err()
}

// Done reports whether key was confirmed. A pending or expired claim is not.
func (d *Deduper) Done(ctx context.Context, key string) (bool, error) {
	v, err := d.rdb.Get(ctx, d.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == dedupeDone, nil
}

func (d *Deduper) Forget(ctx context.Context, key string) error {
	return d.rdb.Del(ctx, d.prefix+key).Err()
}
