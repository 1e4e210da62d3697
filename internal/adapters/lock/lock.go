// Package lock serialises allocation runs. RedisLock coordinates several
// service instances; LocalLock covers a single process.
package lock

import (
	"context"
	"sync"

	"github.com/aidenrawles/synergy/pkg/metrics"
)

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func(ctx context.Context) error

// Locker hands out a single exclusive lock.
type Locker interface {
	// TryLock acquires the lock without waiting. Returns ErrLocked when it
	// is already held.
	TryLock(ctx context.Context) (Unlock, error)
}

// LocalLock is an in-process Locker.
type LocalLock struct {
	mu sync.Mutex
}

var _ Locker = (*LocalLock)(nil)

// NewLocalLock creates an unlocked LocalLock.
func NewLocalLock() *LocalLock { return &LocalLock{} }

func (l *LocalLock) TryLock(context.Context) (Unlock, error) {
	if !l.mu.TryLock() {
		metrics.RecordLockAttempt("local", false)
		return nil, ErrLocked
	}
	metrics.RecordLockAttempt("local", true)
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}
