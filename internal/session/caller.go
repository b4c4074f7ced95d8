package session

import (
	"context"
	"errors"
	"time"

	"bingo-coordinator/internal/store"

	"github.com/rs/zerolog/log"
)

func (c *Coordinator) startCallerLocked(rm *room) {
	ctx, cancel := context.WithCancel(c.baseCtx)
	rm.stopCaller = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runCaller(ctx, rm)
	}()
}

func (c *Coordinator) runCaller(ctx context.Context, rm *room) {
	ticker := time.NewTicker(c.opts.CallInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.callNext(ctx, rm) {
				return
			}
		}
	}
}

// callNext draws and publishes one number. It reports whether the caller
// should keep running.
func (c *Coordinator) callNext(ctx context.Context, rm *room) bool {
	unlock, err := rm.lock.Lock(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Warn().Err(err).Int64("session_id", rm.id).Msg("number call skipped")
		return true
	}
	cont, effects := c.callNextLocked(ctx, rm)
	unlock()
	c.dispatch(effects)
	return cont
}

// callNextLocked appends the next number durably before anyone sees it.
// A failed write leaves memory untouched and is retried on the next tick.
func (c *Coordinator) callNextLocked(ctx context.Context, rm *room) (bool, []effect) {
	if rm.dead || rm.sess.Status != store.SessionActive || ctx.Err() != nil {
		return false, nil
	}
	if len(rm.pool) == 0 {
		effects, err := c.finishNoWinnerLocked(ctx, rm, c.now())
		if err != nil {
			log.Warn().Err(err).Int64("session_id", rm.sess.ID).Msg("no-winner finish deferred")
			return true, nil
		}
		return false, effects
	}

	n := rm.pool[0]
	seq := len(rm.sess.CalledNumbers)
	if err := c.repo.AppendCalledNumber(ctx, rm.sess.ID, seq, n); err != nil {
		if errors.Is(err, store.ErrRowChanged) {
			log.Error().Err(err).Int64("session_id", rm.sess.ID).Int("seq", seq).Msg("called numbers diverged from store")
			return false, nil
		}
		log.Warn().Err(err).Int64("session_id", rm.sess.ID).Int("number", n).Msg("number append failed")
		return true, nil
	}
	rm.pool = rm.pool[1:]
	rm.sess.CalledNumbers = append(rm.sess.CalledNumbers, n)
	rm.buffer.Append(EventNumberCalled, rm.sess.ID, map[string]any{
		"number":      n,
		"totalCalled": len(rm.sess.CalledNumbers),
	})
	metricNumbersCalled.Add(1)
	log.Debug().Int64("session_id", rm.sess.ID).Int("number", n).Int("total", len(rm.sess.CalledNumbers)).Msg("number called")
	return true, nil
}
