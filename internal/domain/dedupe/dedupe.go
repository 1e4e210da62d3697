// Package dedupe coalesces work keyed by group id so a burst of member
// updates produces one pending refresh per group.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records keys that have work in flight.
type Deduper interface {
	// SeenAndRecord atomically checks whether key is pending and records it
	// if not. Returns true if key was already pending.
	SeenAndRecord(ctx context.Context, key int64) bool

	// Unrecord clears key once its work has been picked up, or when it could
	// not be queued, so the next update schedules it again.
	Unrecord(ctx context.Context, key int64)

	Size() int64
}

// inMemoryDeduper is a mutex-guarded set. When bounded and full, new keys
// are not tracked: SeenAndRecord reports them as unseen so callers still
// schedule the work, at the cost of possible duplicates.
type inMemoryDeduper struct {
	mu      sync.Mutex
	pending map[int64]struct{}
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.pending = make(map[int64]struct{})
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pending[key]; ok {
		return true
	}
	if d.maxSize > 0 && len(d.pending) >= d.maxSize {
		return false
	}
	d.pending[key] = struct{}{}
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pending[key]; ok {
		delete(d.pending, key)
		d.size.Add(-1)
	}
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
