package session

import (
	"context"
	"errors"
	"time"

	"bingo-coordinator/internal/store"

	"github.com/rs/zerolog/log"
)

// Snapshot returns the session as seen by userID. Live sessions advance any
// overdue transition first so polling clients observe the game start even
// if a timer was missed.
func (c *Coordinator) Snapshot(ctx context.Context, ref Ref, userID string) (View, error) {
	rm := c.lookup(ref)
	if rm == nil {
		return c.archivedView(ctx, ref, userID)
	}
	unlock, err := rm.lock.Lock(ctx)
	if err != nil {
		return View{}, err
	}
	if rm.dead {
		unlock()
		return c.archivedView(ctx, ref, userID)
	}
	now := c.now()
	effects, err := c.advanceLocked(ctx, rm, now)
	if err != nil {
		log.Warn().Err(err).Int64("session_id", rm.sess.ID).Msg("session advance failed")
	}
	view := buildView(rm.sess, rm.players, rm.win, userID, now)
	unlock()
	c.dispatch(effects)
	return view, nil
}

func (c *Coordinator) archivedView(ctx context.Context, ref Ref, userID string) (View, error) {
	var (
		sess *store.Session
		err  error
	)
	if ref.ID != 0 {
		sess, err = c.repo.GetSession(ctx, ref.ID)
	} else {
		sess, err = c.repo.GetSessionByCode(ctx, ref.Code)
	}
	if err != nil {
		return View{}, c.storeErr(err)
	}
	players, err := c.repo.ListPlayers(ctx, sess.ID)
	if err != nil {
		return View{}, c.storeErr(err)
	}
	var win *store.Win
	if sess.WinnerID != "" {
		win, err = c.repo.GetWin(ctx, sess.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return View{}, c.storeErr(err)
		}
	}
	ptrs := make([]*store.Player, len(players))
	for i := range players {
		ptrs[i] = &players[i]
	}
	return buildView(*sess, ptrs, win, userID, c.now()), nil
}

func buildView(sess store.Session, players []*store.Player, win *store.Win, userID string, now time.Time) View {
	v := View{
		SessionID:       sess.ID,
		Code:            sess.Code,
		Stake:           sess.Stake,
		Status:          sess.Status,
		Players:         make([]PlayerView, 0, len(players)),
		CalledNumbers:   append([]int{}, sess.CalledNumbers...),
		ShouldStartGame: sess.Status == store.SessionActive,
		Winner:          winDetails(win),
		CreatedAt:       sess.CreatedAt,
		StartedAt:       sess.StartedAt,
		FinishedAt:      sess.FinishedAt,
		ServerTime:      now,
	}
	if sess.Status == store.SessionCountdown && sess.CountdownDeadline != nil {
		d := *sess.CountdownDeadline
		v.CountdownDeadline = &d
		v.CountdownRemaining = remainingSeconds(d, now)
	}
	for _, p := range players {
		pv := PlayerView{UserID: p.UserID, Status: p.Status, CardNumber: p.CardNo, JoinedAt: p.JoinedAt}
		v.Players = append(v.Players, pv)
		if userID != "" && p.UserID == userID {
			you := pv
			v.You = &you
		}
	}
	return v
}
