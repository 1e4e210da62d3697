package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aidenrawles/synergy/pkg/metrics"
)

const (
	defaultKey = "synergy:lock:allocation"
	defaultTTL = 60 * time.Second
)

// releaseScript deletes the key only while it still holds our token, so an
// expired holder cannot drop a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisOption applies a configuration option to the RedisLock.
type RedisOption func(*RedisLock)

// WithKey overrides the lock key.
func WithKey(key string) RedisOption {
	return func(l *RedisLock) {
		if key != "" {
			l.key = key
		}
	}
}

// WithTTL sets how long a lock survives a crashed holder.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// RedisLock is a Locker backed by SET NX PX on a single key.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

var _ Locker = (*RedisLock)(nil)

// NewRedisLock creates a RedisLock on client.
func NewRedisLock(client redis.UniversalClient, opts ...RedisOption) *RedisLock {
	l := &RedisLock{client: client, key: defaultKey, ttl: defaultTTL}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLock) TryLock(ctx context.Context) (Unlock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	metrics.RecordLockAttempt("redis", ok)
	if !ok {
		return nil, ErrLocked
	}

	var (
		once sync.Once
		rerr error
	)
	return func(ctx context.Context) error {
		once.Do(func() {
			if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
				rerr = fmt.Errorf("%w: release: %v", ErrUnavailable, err)
			}
		})
		return rerr
	}, nil
}
