package rowlock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"bingo-coordinator/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRowIsExclusive(t *testing.T) {
	row := NewRow(time.Second)
	var inside, maxInside int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			unlock, err := row.Lock(context.Background())
			if err != nil {
				return err
			}
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside)
}

func TestRowWaitBoundIsTransient(t *testing.T) {
	row := NewRow(20 * time.Millisecond)
	unlock, err := row.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	_, err = row.Lock(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
	assert.Equal(t, "lock_timeout", apperr.CodeOf(err))
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestRowCallerCancelIsNotTransient(t *testing.T) {
	row := NewRow(time.Second)
	unlock, err := row.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = row.Lock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnlockTwiceIsSafe(t *testing.T) {
	row := NewRow(time.Second)
	unlock, err := row.Lock(context.Background())
	require.NoError(t, err)
	unlock()
	unlock()
	again, ok := row.TryLock()
	require.True(t, ok)
	again()
}

func TestTableSharesRowPerKey(t *testing.T) {
	tbl := NewTable[int](time.Second)
	assert.Same(t, tbl.Row(7), tbl.Row(7))
	assert.NotSame(t, tbl.Row(7), tbl.Row(8))
}
