package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRedisPrefix = "lock:account:"
	defaultRedisExpiry = 10 * time.Second
	defaultRedisTries  = 64
	defaultRetryDelay  = 25 * time.Millisecond
	releaseTimeout     = 2 * time.Second
)

// Redis coordinates account locks across instances using redsync mutexes.
type Redis struct {
	rs         *redsync.Redsync
	logger     *zap.Logger
	prefix     string
	expiry     time.Duration
	tries      int
	retryDelay time.Duration
}

// RedisOption customises a Redis locker.
type RedisOption func(*Redis)

// WithExpiry sets how long a lock survives if its holder disappears.
func WithExpiry(d time.Duration) RedisOption {
	return func(r *Redis) { r.expiry = d }
}

// WithTries bounds the acquisition attempts per key.
func WithTries(n int, delay time.Duration) RedisOption {
	return func(r *Redis) {
		r.tries = n
		r.retryDelay = delay
	}
}

// WithPrefix namespaces the lock keys.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis builds a distributed locker on an existing client.
func NewRedis(client *redis.Client, logger *zap.Logger, opts ...RedisOption) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Redis{
		rs:         redsync.New(goredis.NewPool(client)),
		logger:     logger,
		prefix:     defaultRedisPrefix,
		expiry:     defaultRedisExpiry,
		tries:      defaultRedisTries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock takes a redsync mutex per key in sorted order.
func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	held := make([]*redsync.Mutex, 0, len(keys))
	for _, k := range keys {
		m := r.rs.NewMutex(r.prefix+k,
			redsync.WithExpiry(r.expiry),
			redsync.WithTries(r.tries),
			redsync.WithRetryDelay(r.retryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			r.release(held)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, k, err)
		}
		held = append(held, m)
	}

	var once sync.Once
	return func() { once.Do(func() { r.release(held) }) }, nil
}

func (r *Redis) release(held []*redsync.Mutex) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		if ok, err := held[i].UnlockContext(ctx); err != nil || !ok {
			r.logger.Warn("account lock release failed",
				zap.String("key", held[i].Name()),
				zap.Error(err),
			)
		}
	}
}
