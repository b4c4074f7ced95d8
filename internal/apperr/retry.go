package apperr

import (
	"context"
	"math/rand/v2"
	"time"
)

var baseBackoff = 50 * time.Millisecond

// Retry runs fn once plus up to retries more times while it fails with a
// transient error. Other kinds are returned immediately.
func Retry(ctx context.Context, retries int, fn func(context.Context) error) error {
	backoff := baseBackoff
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || KindOf(err) != KindTransient || attempt >= retries {
			return err
		}
		wait := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		backoff *= 2
	}
}
