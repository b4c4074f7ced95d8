package session

import (
	"context"
	"math"
	"time"

	"bingo-coordinator/internal/apperr"
	"bingo-coordinator/internal/store"

	"github.com/rs/zerolog/log"
)

var (
	settledPlayers = []store.PlayerStatus{store.PlayerWaiting, store.PlayerReady, store.PlayerPlaying}
	readyPlayers   = []store.PlayerStatus{store.PlayerReady}
)

// transition writes next through the store, then applies it in memory.
// The caller holds rm.lock.
func (c *Coordinator) transition(ctx context.Context, rm *room, next store.Session, pt *store.PlayerTransition) error {
	from := rm.sess.Status
	if !from.CanTransition(next.Status) {
		return apperr.Conflict("invalid_transition", map[string]any{"from": from, "to": next.Status})
	}
	next.CalledNumbers = rm.sess.CalledNumbers
	if err := c.repo.TransitionSession(ctx, from, next, pt); err != nil {
		return c.storeErr(err)
	}
	rm.sess = next
	for _, p := range rm.players {
		if pt.Applies(p.Status) {
			p.Status = pt.To
		}
	}
	if !next.Status.Open() {
		c.mu.Lock()
		if c.open[next.Stake] == rm {
			delete(c.open, next.Stake)
		}
		c.mu.Unlock()
	}
	if next.Status.Terminal() {
		c.endLocked(rm)
	}
	log.Info().
		Int64("session_id", next.ID).
		Str("session_code", next.Code).
		Str("from", string(from)).
		Str("to", string(next.Status)).
		Msg("session transition")
	return nil
}

func (c *Coordinator) endLocked(rm *room) {
	rm.endedAt = c.now()
	c.stopTimersLocked(rm)
}

func (c *Coordinator) stopTimersLocked(rm *room) {
	if rm.timer != nil {
		rm.timer.Stop()
		rm.timer = nil
	}
	if rm.stopCaller != nil {
		rm.stopCaller()
		rm.stopCaller = nil
	}
}

func (c *Coordinator) schedule(rm *room, d time.Duration) {
	if rm.timer != nil {
		rm.timer.Stop()
	}
	rm.timer = time.AfterFunc(d, func() { c.tick(rm) })
}

// tick advances a room from its countdown timer.
func (c *Coordinator) tick(rm *room) {
	ctx := c.baseCtx
	if ctx.Err() != nil {
		return
	}
	unlock, err := rm.lock.Lock(ctx)
	if err != nil {
		log.Warn().Err(err).Int64("session_id", rm.id).Msg("countdown tick skipped")
		return
	}
	if rm.dead {
		unlock()
		return
	}
	effects, err := c.advanceLocked(ctx, rm, c.now())
	unlock()
	c.dispatch(effects)
	if err != nil {
		log.Warn().Err(err).Int64("session_id", rm.id).Msg("session advance failed")
	}
}

// advanceLocked applies the time-driven transitions due at now. It is safe
// to call repeatedly; nothing happens when no transition is due.
func (c *Coordinator) advanceLocked(ctx context.Context, rm *room, now time.Time) ([]effect, error) {
	switch rm.sess.Status {
	case store.SessionWaiting:
		if rm.activeCount() >= c.opts.MinPlayers {
			return nil, c.beginCountdownLocked(ctx, rm, now)
		}
	case store.SessionCountdown:
		if rm.sess.CountdownDeadline == nil || now.Before(*rm.sess.CountdownDeadline) {
			return nil, nil
		}
		if rm.activeCount() >= c.opts.MinPlayers {
			return nil, c.startGameLocked(ctx, rm, now)
		}
		return c.cancelLocked(ctx, rm, now, "not_enough_players")
	case store.SessionActive:
		if rm.stopCaller == nil && ctx.Err() == nil {
			c.startCallerLocked(rm)
		}
	}
	return nil, nil
}

func (c *Coordinator) beginCountdownLocked(ctx context.Context, rm *room, now time.Time) error {
	deadline := now.Add(c.opts.CountdownWindow)
	next := rm.sess
	next.Status = store.SessionCountdown
	next.CountdownDeadline = &deadline
	if err := c.transition(ctx, rm, next, nil); err != nil {
		return err
	}
	rm.buffer.Append(EventCountdownStarted, rm.sess.ID, map[string]any{
		"deadline":  deadline,
		"remaining": remainingSeconds(deadline, now),
		"players":   rm.activeCount(),
	})
	c.schedule(rm, c.opts.CountdownWindow)
	return nil
}

func (c *Coordinator) startGameLocked(ctx context.Context, rm *room, now time.Time) error {
	next := rm.sess
	next.Status = store.SessionActive
	next.StartedAt = &now
	pt := &store.PlayerTransition{From: readyPlayers, To: store.PlayerPlaying}
	if err := c.transition(ctx, rm, next, pt); err != nil {
		return err
	}
	rm.pool = c.opts.Shuffle(c.opts.PoolSize)
	rm.buffer.Append(EventGameStarted, rm.sess.ID, map[string]any{
		"startedAt":      now,
		"players":        rm.activeCount(),
		"callIntervalMs": c.opts.CallInterval.Milliseconds(),
	})
	metricSessionsStarted.Add(1)
	if ctx.Err() == nil {
		c.startCallerLocked(rm)
	}
	return nil
}

func (c *Coordinator) cancelLocked(ctx context.Context, rm *room, now time.Time, reason string) ([]effect, error) {
	active := rm.activePlayers()
	next := rm.sess
	next.Status = store.SessionCancelled
	next.FinishedAt = &now
	pt := &store.PlayerTransition{From: settledPlayers, To: store.PlayerFinished}
	if err := c.transition(ctx, rm, next, pt); err != nil {
		return nil, err
	}
	rm.buffer.Append(EventGameCancelled, rm.sess.ID, map[string]any{"reason": reason, "refunded": len(active)})
	metricSessionsCancelled.Add(1)
	return c.unwind(rm.sess, active, "session_cancelled", reason), nil
}

// finishNoWinnerLocked ends an active game whose pool ran out unclaimed.
func (c *Coordinator) finishNoWinnerLocked(ctx context.Context, rm *room, now time.Time) ([]effect, error) {
	active := rm.activePlayers()
	next := rm.sess
	next.Status = store.SessionFinished
	next.FinishedAt = &now
	pt := &store.PlayerTransition{From: settledPlayers, To: store.PlayerFinished}
	if err := c.transition(ctx, rm, next, pt); err != nil {
		return nil, err
	}
	rm.buffer.Append(EventGameFinished, rm.sess.ID, map[string]any{
		"winnerId":    nil,
		"reason":      "pool_exhausted",
		"totalCalled": len(rm.sess.CalledNumbers),
	})
	metricSessionsNoWinner.Add(1)
	return c.unwind(rm.sess, active, "session_no_winner", "pool_exhausted"), nil
}

// unwind refunds and frees the cards of players in a session that ended
// without a winner.
func (c *Coordinator) unwind(sess store.Session, players []store.Player, kind, reason string) []effect {
	effects := make([]effect, 0, 3*len(players))
	for _, p := range players {
		effects = append(effects,
			c.refund(sess, p),
			c.returnCard(p.CardNo, sess.ID),
			c.tell(p.UserID, kind, map[string]any{"sessionId": sess.ID, "code": sess.Code, "reason": reason, "refund": sess.Stake}),
		)
	}
	return effects
}

func remainingSeconds(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
