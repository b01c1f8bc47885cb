package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

type Opts struct {
	Addr        string        // "127.0.0.1:6379"
	Password    string        // optional
	DB          int           // default 0
	DialTimeout time.Duration // default 5s
}

func NewClient(opts Opts) (*goredis.Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return rdb, nil
}

// acquire takes the key when free and extends it when we already hold it.
var acquireScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 1
end
return 0
`)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a single-holder lock on one key, identified by a random token.
type Lease struct {
	rdb   goredis.Scripter
	key   string
	token string
}

// NewLease returns a lease on key. Each Lease value is a distinct holder.
func NewLease(rdb goredis.Scripter, key string) *Lease {
	return &Lease{rdb: rdb, key: key, token: uuid.NewString()}
}

func (l *Lease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, l.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release drops the lease only if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
