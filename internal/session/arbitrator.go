package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bingo-coordinator/internal/apperr"
	"bingo-coordinator/internal/bingo"
	"bingo-coordinator/internal/store"

	"github.com/rs/zerolog/log"
)

// Claim arbitrates a bingo claim. Concurrent claims for one session are
// serialized on the session lock and at most one is ever accepted; a
// repeated claim by the winner returns the recorded win.
func (c *Coordinator) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	if req.UserID == "" {
		return ClaimResult{}, apperr.Invalid("missing_user", "userId is required")
	}
	rm := c.room(req.SessionID)
	if rm == nil {
		return c.countClaim(c.claimArchived(ctx, req))
	}

	var (
		res      ClaimResult
		effects  []effect
		archived bool
	)
	err := apperr.Retry(ctx, c.opts.Retries, func(ctx context.Context) error {
		unlock, err := rm.lock.Lock(ctx)
		if err != nil {
			return err
		}
		defer unlock()
		if rm.dead {
			archived = true
			return nil
		}
		// A countdown whose deadline passed must start before claims are judged.
		pending, err := c.advanceLocked(ctx, rm, c.now())
		effects = append(effects, pending...)
		if err != nil {
			return err
		}
		r, e, err := c.claimLocked(ctx, rm, req)
		if err != nil {
			return err
		}
		res = r
		effects = append(effects, e...)
		return nil
	})
	c.dispatch(effects)
	if archived && err == nil {
		return c.countClaim(c.claimArchived(ctx, req))
	}
	return c.countClaim(res, err)
}

func (c *Coordinator) countClaim(res ClaimResult, err error) (ClaimResult, error) {
	if err != nil {
		metricClaimsRejected.Add(1)
		return ClaimResult{}, err
	}
	return res, nil
}

func (c *Coordinator) claimLocked(ctx context.Context, rm *room, req ClaimRequest) (ClaimResult, []effect, error) {
	if rm.win != nil {
		if rm.win.UserID == req.UserID {
			return accepted(rm.sess, rm.win), nil, nil
		}
		return ClaimResult{}, nil, alreadyWon(rm.win)
	}
	if rm.sess.Status.Terminal() {
		return ClaimResult{}, nil, apperr.Conflict("game_ended", Rejection{Reason: "game_ended"})
	}
	p := rm.byUser[req.UserID]
	if p == nil || !p.Status.Active() {
		return ClaimResult{}, nil, apperr.NotAParticipant("not_a_participant")
	}
	if rm.sess.Status != store.SessionActive {
		return ClaimResult{}, nil, apperr.Conflict("game_not_started", map[string]any{"status": rm.sess.Status})
	}
	if req.CardNo != 0 && req.CardNo != p.CardNo {
		return ClaimResult{}, nil, apperr.Invalid("card_mismatch", fmt.Sprintf("player holds card %d", p.CardNo))
	}
	pattern := bingo.Pattern(strings.ToLower(strings.TrimSpace(req.Pattern)))
	if !c.patterns[pattern] {
		return ClaimResult{}, nil, apperr.Invalid("unknown_pattern", fmt.Sprintf("pattern %q is not playable", req.Pattern))
	}

	layout := c.layouts.Layout(p.CardNo)
	cells, ok := bingo.Match(layout, pattern, rm.sess.CalledNumbers)
	if !ok {
		if c.opts.VerifyClaims {
			return ClaimResult{}, nil, apperr.Invalid("invalid_claim", "pattern is not complete on the called numbers")
		}
		cells, _ = bingo.Match(layout, pattern, req.CalledNumbers)
	}

	now := c.now()
	active := rm.activePlayers()
	win := store.Win{
		SessionID:      rm.sess.ID,
		UserID:         req.UserID,
		CardNo:         p.CardNo,
		WinType:        string(pattern),
		Pattern:        cells,
		CalledNumbers:  append([]int(nil), rm.sess.CalledNumbers...),
		ClaimedNumbers: append([]int(nil), req.CalledNumbers...),
		PrizeAmount:    c.prize(rm.sess.Stake, len(active)),
		DeclaredAt:     now,
	}
	if err := c.repo.FinalizeWin(ctx, win); err != nil {
		if errors.Is(err, store.ErrAlreadyWon) {
			stored, gerr := c.repo.GetWin(ctx, rm.sess.ID)
			if gerr != nil {
				return ClaimResult{}, nil, c.storeErr(gerr)
			}
			return ClaimResult{}, nil, alreadyWon(stored)
		}
		return ClaimResult{}, nil, c.storeErr(err)
	}

	rm.win = &win
	rm.sess.Status = store.SessionFinished
	rm.sess.WinnerID = win.UserID
	rm.sess.WinningPattern = win.WinType
	rm.sess.FinishedAt = &now
	for _, pl := range rm.players {
		if !pl.Status.Active() {
			continue
		}
		if pl.UserID == win.UserID {
			pl.Status = store.PlayerWinner
		} else {
			pl.Status = store.PlayerFinished
		}
	}
	c.endLocked(rm)

	rm.buffer.Append(EventWinner, rm.sess.ID, map[string]any{
		"winnerId":   win.UserID,
		"winnerName": win.UserID,
		"winAmount":  win.PrizeAmount,
		"pattern":    win.WinType,
		"cardNumber": win.CardNo,
		"cells":      win.Pattern,
	})
	rm.buffer.Append(EventGameFinished, rm.sess.ID, map[string]any{
		"winnerId":    win.UserID,
		"reason":      "winner",
		"totalCalled": len(win.CalledNumbers),
	})
	metricClaimsAccepted.Add(1)
	log.Info().
		Int64("session_id", rm.sess.ID).
		Str("session_code", rm.sess.Code).
		Str("winner_id", win.UserID).
		Str("pattern", win.WinType).
		Int64("prize", win.PrizeAmount).
		Msg("winner declared")

	sess := rm.sess
	effects := []effect{c.creditPrize(sess, win)}
	for _, pl := range active {
		effects = append(effects, c.returnCard(pl.CardNo, sess.ID))
		kind := "session_lost"
		if pl.UserID == win.UserID {
			kind = "session_won"
		}
		effects = append(effects, c.tell(pl.UserID, kind, map[string]any{
			"sessionId": sess.ID, "code": sess.Code, "winnerId": win.UserID, "winAmount": win.PrizeAmount,
		}))
	}
	return accepted(sess, &win), effects, nil
}

// claimArchived answers claims for sessions no longer held in memory.
func (c *Coordinator) claimArchived(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	sess, err := c.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		return ClaimResult{}, c.storeErr(err)
	}
	if sess.WinnerID != "" {
		w, err := c.repo.GetWin(ctx, sess.ID)
		if err != nil {
			return ClaimResult{}, c.storeErr(err)
		}
		if w.UserID == req.UserID {
			return accepted(*sess, w), nil
		}
		return ClaimResult{}, alreadyWon(w)
	}
	if sess.Status.Terminal() {
		return ClaimResult{}, apperr.Conflict("game_ended", Rejection{Reason: "game_ended"})
	}
	return ClaimResult{}, apperr.Transient("session_not_loaded", nil)
}

// prize is the pot of all stakes in play less the house cut.
func (c *Coordinator) prize(stake int64, players int) int64 {
	pot := stake * int64(players)
	return pot * int64(100-c.opts.HouseCutPct) / 100
}

func (c *Coordinator) creditPrize(sess store.Session, win store.Win) effect {
	return func(ctx context.Context) {
		if err := c.wallet.CreditPrize(ctx, win.UserID, sess.ID, win.PrizeAmount); err != nil {
			metricSettleFailures.Add(1)
			log.Error().Err(err).Int64("session_id", sess.ID).Str("winner_id", win.UserID).Msg("prize credit failed")
			c.notify.NotifyAdmins(ctx, "prize_credit_failed", map[string]any{
				"sessionId": sess.ID, "winnerId": win.UserID, "amount": win.PrizeAmount, "error": err.Error(),
			})
		}
	}
}

func accepted(sess store.Session, w *store.Win) ClaimResult {
	return ClaimResult{
		Win:          *winDetails(w),
		Announcement: fmt.Sprintf("%s won session %s with %s", w.UserID, sess.Code, strings.ReplaceAll(w.WinType, "_", " ")),
	}
}

func alreadyWon(w *store.Win) error {
	return apperr.Conflict("already_won", Rejection{Reason: "already_won", Winner: winDetails(w)})
}
