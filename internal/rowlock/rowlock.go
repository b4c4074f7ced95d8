// Package rowlock provides exclusive per-row locks with a bounded wait.
package rowlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"bingo-coordinator/internal/apperr"

	"golang.org/x/sync/semaphore"
)

const DefaultWait = 10 * time.Second

var ErrLockTimeout = errors.New("row lock wait exceeded")

// Row is a single exclusive lock. Waiting longer than the configured bound
// fails with a transient lock_timeout error.
type Row struct {
	sem  *semaphore.Weighted
	wait time.Duration
}

func NewRow(wait time.Duration) *Row {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Row{sem: semaphore.NewWeighted(1), wait: wait}
}

// Lock blocks until the row is free. The returned unlock is safe to call
// more than once.
func (r *Row) Lock(ctx context.Context) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()
	if err := r.sem.Acquire(lctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Transient("lock_timeout", ErrLockTimeout)
	}
	var once sync.Once
	return func() { once.Do(func() { r.sem.Release(1) }) }, nil
}

// TryLock takes the row only if it is free right now.
func (r *Row) TryLock() (func(), bool) {
	if !r.sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { r.sem.Release(1) }) }, true
}

// Table lazily allocates one Row per key.
type Table[K comparable] struct {
	mu   sync.Mutex
	rows map[K]*Row
	wait time.Duration
}

func NewTable[K comparable](wait time.Duration) *Table[K] {
	return &Table[K]{rows: map[K]*Row{}, wait: wait}
}

func (t *Table[K]) Row(key K) *Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[key]
	if !ok {
		r = NewRow(t.wait)
		t.rows[key] = r
	}
	return r
}

func (t *Table[K]) Lock(ctx context.Context, key K) (func(), error) {
	return t.Row(key).Lock(ctx)
}
