package session

import (
	"context"
	"time"

	"bingo-coordinator/internal/store"

	"github.com/rs/zerolog/log"
)

// StartJanitor periodically advances overdue sessions and drops finished
// rooms once their retention passes and no stream is attached.
func (c *Coordinator) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one janitor pass. Rooms busy with another operation are
// skipped until the next pass.
func (c *Coordinator) Sweep(ctx context.Context) {
	c.mu.Lock()
	rooms := make([]*room, 0, len(c.rooms))
	for _, rm := range c.rooms {
		rooms = append(rooms, rm)
	}
	c.mu.Unlock()

	now := c.now()
	for _, rm := range rooms {
		unlock, ok := rm.lock.TryLock()
		if !ok {
			continue
		}
		if rm.dead {
			unlock()
			continue
		}
		effects, err := c.advanceLocked(ctx, rm, now)
		expired := rm.sess.Status.Terminal() &&
			!rm.endedAt.IsZero() &&
			now.Sub(rm.endedAt) >= c.opts.Retention &&
			rm.buffer.Subscribers() == 0
		if expired {
			rm.dead = true
		}
		unlock()
		c.dispatch(effects)
		if err != nil {
			log.Warn().Err(err).Int64("session_id", rm.id).Msg("session advance failed")
		}
		if expired {
			c.removeRoom(rm)
		}
	}
}

func (c *Coordinator) removeRoom(rm *room) {
	c.mu.Lock()
	delete(c.rooms, rm.id)
	delete(c.byCode, rm.code)
	if c.open[rm.stake] == rm {
		delete(c.open, rm.stake)
	}
	c.mu.Unlock()
	rm.buffer.Close()
	metricRoomsActive.Add(-1)
	log.Debug().Int64("session_id", rm.id).Msg("session room released")
}

// Recover settles sessions left unfinished by a previous process. Pre-game
// sessions are cancelled and running games end without a winner; every
// active player is refunded and their card returned.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	pending, err := c.repo.ListSessionsByStatus(ctx, store.SessionWaiting, store.SessionCountdown, store.SessionActive)
	if err != nil {
		return 0, c.storeErr(err)
	}
	now := c.now()
	recovered := 0
	for _, sess := range pending {
		players, err := c.repo.ListPlayers(ctx, sess.ID)
		if err != nil {
			return recovered, c.storeErr(err)
		}
		next := sess
		next.FinishedAt = &now
		next.Status = store.SessionCancelled
		if sess.Status == store.SessionActive {
			next.Status = store.SessionFinished
		}
		pt := &store.PlayerTransition{From: settledPlayers, To: store.PlayerFinished}
		if err := c.repo.TransitionSession(ctx, sess.Status, next, pt); err != nil {
			log.Error().Err(err).Int64("session_id", sess.ID).Msg("session recovery failed")
			continue
		}
		var active []store.Player
		for _, p := range players {
			if p.Status.Active() {
				active = append(active, p)
			}
		}
		for _, fn := range c.unwind(next, active, "session_cancelled", "restart") {
			fn(ctx)
		}
		recovered++
		log.Info().Int64("session_id", sess.ID).Str("from", string(sess.Status)).Str("to", string(next.Status)).Int("players", len(active)).Msg("session recovered")
	}
	return recovered, nil
}
