// Package session runs bingo sessions: the registry of open and live rooms,
// the lifecycle state machine, the number caller and win arbitration.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bingo-coordinator/internal/apperr"
	"bingo-coordinator/internal/bingo"
	"bingo-coordinator/internal/rowlock"
	"bingo-coordinator/internal/store"

	"github.com/rs/zerolog/log"
)

// room is the in-memory state of one session. Every field is guarded by
// lock; the session row is never mutated without holding it.
// room is the live state of one session. id, code and stake are fixed once
// the session row exists and may be read without the lock; everything else
// is guarded by lock.
type room struct {
	id         int64
	code       string
	stake      int64
	lock       *rowlock.Row
	sess       store.Session
	players    []*store.Player
	byUser     map[string]*store.Player
	pool       []int
	win        *store.Win
	buffer     *EventBuffer
	timer      *time.Timer
	stopCaller context.CancelFunc
	endedAt    time.Time
	dead       bool
}

func (r *room) activePlayers() []store.Player {
	var out []store.Player
	for _, p := range r.players {
		if p.Status.Active() {
			out = append(out, *p)
		}
	}
	return out
}

func (r *room) activeCount() int {
	n := 0
	for _, p := range r.players {
		if p.Status.Active() {
			n++
		}
	}
	return n
}

type effect func(ctx context.Context)

type Deps struct {
	Repo     Repository
	Wallet   Wallet
	Cards    CardReturner
	Notifier Notifier
	Layouts  Layouts
}

type Coordinator struct {
	repo     Repository
	wallet   Wallet
	cards    CardReturner
	notify   Notifier
	layouts  Layouts
	opts     Options
	stakes   map[int64]bool
	patterns map[bingo.Pattern]bool

	mu     sync.Mutex
	rooms  map[int64]*room
	byCode map[string]*room
	open   map[int64]*room

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(deps Deps, opts Options) *Coordinator {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		repo:     deps.Repo,
		wallet:   deps.Wallet,
		cards:    deps.Cards,
		notify:   deps.Notifier,
		layouts:  deps.Layouts,
		opts:     opts,
		stakes:   map[int64]bool{},
		patterns: map[bingo.Pattern]bool{},
		rooms:    map[int64]*room{},
		byCode:   map[string]*room{},
		open:     map[int64]*room{},
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, s := range opts.Stakes {
		c.stakes[s] = true
	}
	for _, p := range opts.Patterns {
		c.patterns[p] = true
	}
	if c.wallet == nil {
		c.wallet = noopWallet{}
	}
	if c.cards == nil {
		c.cards = noopCards{}
	}
	if c.notify == nil {
		c.notify = noopNotifier{}
	}
	if c.layouts == nil {
		c.layouts = generatedLayouts{}
	}
	return c
}

// Close stops timers and callers and waits for pending settlements.
func (c *Coordinator) Close() {
	c.cancel()
	c.mu.Lock()
	rooms := make([]*room, 0, len(c.rooms))
	for _, rm := range c.rooms {
		rooms = append(rooms, rm)
	}
	c.mu.Unlock()
	for _, rm := range rooms {
		if unlock, ok := rm.lock.TryLock(); ok {
			c.stopTimersLocked(rm)
			unlock()
		}
	}
	c.wg.Wait()
}

func (c *Coordinator) now() time.Time { return c.opts.Now() }

func (c *Coordinator) room(id int64) *room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[id]
}

type Ref struct {
	ID   int64
	Code string
}

func (c *Coordinator) lookup(ref Ref) *room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref.ID != 0 {
		return c.rooms[ref.ID]
	}
	return c.byCode[ref.Code]
}

// Buffer returns the live event buffer of a session still in the registry.
func (c *Coordinator) Buffer(ref Ref) (*EventBuffer, error) {
	rm := c.lookup(ref)
	if rm == nil {
		return nil, apperr.NotFound("session_not_live")
	}
	return rm.buffer, nil
}

// openRoom returns the open session for stake, creating and persisting one
// when none exists.
func (c *Coordinator) openRoom(ctx context.Context, stake int64) (*room, error) {
	for attempt := 0; attempt < 3; attempt++ {
		c.mu.Lock()
		if rm := c.open[stake]; rm != nil {
			c.mu.Unlock()
			return rm, nil
		}
		rm := &room{
			lock:   rowlock.NewRow(c.opts.LockWait),
			byUser: map[string]*store.Player{},
			buffer: NewEventBuffer(c.opts.BufferSize),
		}
		unlock, _ := rm.lock.TryLock()
		c.open[stake] = rm
		c.mu.Unlock()

		created, err := c.repo.CreateSession(ctx, store.Session{
			Code:      store.NewSessionCode(),
			Stake:     stake,
			Status:    store.SessionWaiting,
			CreatedAt: c.now(),
		})
		if err != nil {
			rm.dead = true
			c.mu.Lock()
			if c.open[stake] == rm {
				delete(c.open, stake)
			}
			c.mu.Unlock()
			unlock()
			if errors.Is(err, store.ErrDuplicate) {
				continue
			}
			return nil, c.storeErr(err)
		}
		rm.sess = created
		rm.id, rm.code, rm.stake = created.ID, created.Code, created.Stake
		c.mu.Lock()
		c.rooms[created.ID] = rm
		c.byCode[created.Code] = rm
		c.mu.Unlock()
		unlock()

		metricSessionsCreated.Add(1)
		metricRoomsActive.Add(1)
		log.Info().Int64("session_id", created.ID).Str("session_code", created.Code).Int64("stake", stake).Msg("session created")
		return rm, nil
	}
	return nil, apperr.Transient("session_code_collision", nil)
}

// Join adds the user to the open session for the stake, debiting the stake.
// It is called while the user's card row is locked.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	if req.UserID == "" {
		return JoinResult{}, apperr.Invalid("missing_user", "userId is required")
	}
	if len(c.stakes) > 0 && !c.stakes[req.Stake] {
		return JoinResult{}, apperr.Invalid("unknown_stake", fmt.Sprintf("stake %d is not offered", req.Stake))
	}
	var res JoinResult
	err := apperr.Retry(ctx, c.opts.Retries, func(ctx context.Context) error {
		for i := 0; i < 3; i++ {
			rm, err := c.openRoom(ctx, req.Stake)
			if err != nil {
				return err
			}
			unlock, err := rm.lock.Lock(ctx)
			if err != nil {
				return err
			}
			if rm.dead {
				unlock()
				continue
			}
			// An overdue countdown must start or cancel before anyone else
			// is seated in it.
			effects, err := c.advanceLocked(ctx, rm, c.now())
			if err != nil {
				unlock()
				c.dispatch(effects)
				return err
			}
			if !rm.sess.Status.Open() {
				unlock()
				c.dispatch(effects)
				continue
			}
			res, err = c.joinLocked(ctx, rm, req)
			unlock()
			c.dispatch(effects)
			return err
		}
		return apperr.Transient("session_busy", nil)
	})
	return res, err
}

func (c *Coordinator) joinLocked(ctx context.Context, rm *room, req JoinRequest) (JoinResult, error) {
	if p := rm.byUser[req.UserID]; p != nil && p.Status.Active() {
		if p.CardNo == req.CardNo {
			return joinResult(rm, p), nil
		}
		return JoinResult{}, apperr.Conflict("already_in_session", map[string]any{
			"sessionId": rm.sess.ID, "cardNumber": p.CardNo,
		})
	}

	ref := fmt.Sprintf("%d-%s", rm.sess.ID, store.NewID())
	if err := c.wallet.DebitStake(ctx, req.UserID, ref, rm.sess.Stake); err != nil {
		return JoinResult{}, err
	}
	now := c.now()
	next := store.Player{
		SessionID: rm.sess.ID,
		UserID:    req.UserID,
		Status:    store.PlayerReady,
		CardNo:    req.CardNo,
		StakeRef:  ref,
		JoinedAt:  now,
	}
	if err := c.repo.SavePlayer(ctx, next); err != nil {
		if rerr := c.wallet.RefundStake(context.WithoutCancel(ctx), req.UserID, ref, rm.sess.Stake); rerr != nil {
			log.Error().Err(rerr).Str("user_id", req.UserID).Int64("session_id", rm.sess.ID).Msg("refund after failed join")
		}
		return JoinResult{}, c.storeErr(err)
	}
	p := rm.byUser[req.UserID]
	if p == nil {
		p = &store.Player{}
		rm.byUser[req.UserID] = p
		rm.players = append(rm.players, p)
	}
	*p = next

	rm.buffer.Append(EventPlayerJoined, rm.sess.ID, map[string]any{
		"userId": req.UserID, "cardNumber": req.CardNo, "players": rm.activeCount(),
	})
	log.Info().Int64("session_id", rm.sess.ID).Str("user_id", req.UserID).Int("card_no", req.CardNo).Msg("player joined")

	if rm.sess.Status == store.SessionWaiting && rm.activeCount() >= c.opts.MinPlayers {
		if err := c.beginCountdownLocked(ctx, rm, now); err != nil {
			log.Warn().Err(err).Int64("session_id", rm.sess.ID).Msg("countdown start deferred")
		}
	}
	return joinResult(rm, p), nil
}

func joinResult(rm *room, p *store.Player) JoinResult {
	return JoinResult{
		SessionID: rm.sess.ID,
		Code:      rm.sess.Code,
		CardNo:    p.CardNo,
		Stake:     rm.sess.Stake,
		Status:    rm.sess.Status,
	}
}

// Leave withdraws a player before the game starts, refunding the stake and
// returning the card.
func (c *Coordinator) Leave(ctx context.Context, sessionID int64, userID string) error {
	return c.leave(ctx, sessionID, userID, true)
}

// RevertJoin undoes a join whose card commit could not be written. The card
// is still held by the user so it is not returned.
func (c *Coordinator) RevertJoin(ctx context.Context, sessionID int64, userID string) {
	if err := c.leave(ctx, sessionID, userID, false); err != nil {
		log.Error().Err(err).Int64("session_id", sessionID).Str("user_id", userID).Msg("revert join failed")
	}
}

func (c *Coordinator) leave(ctx context.Context, sessionID int64, userID string, returnCard bool) error {
	rm := c.room(sessionID)
	if rm == nil {
		if _, err := c.repo.GetSession(ctx, sessionID); err != nil {
			return c.storeErr(err)
		}
		return apperr.Conflict("game_ended", Rejection{Reason: "game_ended"})
	}
	var effects []effect
	err := apperr.Retry(ctx, c.opts.Retries, func(ctx context.Context) error {
		unlock, err := rm.lock.Lock(ctx)
		if err != nil {
			return err
		}
		defer unlock()

		p := rm.byUser[userID]
		if rm.dead || p == nil || !p.Status.Active() {
			return apperr.NotAParticipant("not_a_participant")
		}
		if !rm.sess.Status.Open() {
			return apperr.Conflict("game_in_progress", map[string]any{"status": rm.sess.Status})
		}
		now := c.now()
		next := *p
		next.Status = store.PlayerFinished
		next.LeftAt = &now
		if err := c.repo.SavePlayer(ctx, next); err != nil {
			return c.storeErr(err)
		}
		*p = next
		rm.buffer.Append(EventPlayerLeft, rm.sess.ID, map[string]any{"userId": userID, "players": rm.activeCount()})
		log.Info().Int64("session_id", rm.sess.ID).Str("user_id", userID).Msg("player left")

		effects = append(effects, c.refund(rm.sess, next))
		if returnCard {
			effects = append(effects, c.returnCard(next.CardNo, rm.sess.ID))
		}
		return nil
	})
	c.dispatch(effects)
	return err
}

// dispatch runs settlement side effects off the request path. Their failures
// are logged and never undo the transition that produced them.
func (c *Coordinator) dispatch(effects []effect) {
	if len(effects) == 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for _, fn := range effects {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			fn(ctx)
			cancel()
		}
	}()
}

func (c *Coordinator) refund(sess store.Session, p store.Player) effect {
	return func(ctx context.Context) {
		if err := c.wallet.RefundStake(ctx, p.UserID, p.StakeRef, sess.Stake); err != nil {
			metricSettleFailures.Add(1)
			log.Error().Err(err).Int64("session_id", sess.ID).Str("user_id", p.UserID).Msg("stake refund failed")
			c.notify.NotifyAdmins(ctx, "refund_failed", map[string]any{
				"sessionId": sess.ID, "userId": p.UserID, "amount": sess.Stake, "error": err.Error(),
			})
		}
	}
}

func (c *Coordinator) returnCard(cardNo int, sessionID int64) effect {
	return func(ctx context.Context) {
		if err := c.cards.ReturnCommitted(ctx, cardNo, sessionID); err != nil {
			metricSettleFailures.Add(1)
			log.Error().Err(err).Int64("session_id", sessionID).Int("card_no", cardNo).Msg("card return failed")
		}
	}
}

func (c *Coordinator) tell(userID, kind string, data any) effect {
	return func(ctx context.Context) {
		c.notify.NotifyUser(ctx, userID, kind, data)
	}
}

func (c *Coordinator) storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("session_not_found")
	case errors.Is(err, store.ErrRowChanged):
		return apperr.Conflict("session_state_changed", nil)
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	log.Error().Err(err).Msg("session store failure")
	return apperr.Internal(err)
}

type noopWallet struct{}

func (noopWallet) DebitStake(context.Context, string, string, int64) error  { return nil }
func (noopWallet) RefundStake(context.Context, string, string, int64) error { return nil }
func (noopWallet) CreditPrize(context.Context, string, int64, int64) error  { return nil }

type noopCards struct{}

func (noopCards) ReturnCommitted(context.Context, int, int64) error { return nil }

type noopNotifier struct{}

func (noopNotifier) NotifyUser(context.Context, string, string, any) {}
func (noopNotifier) NotifyAdmins(context.Context, string, any)       {}

type generatedLayouts struct{}

func (generatedLayouts) Layout(cardNo int) bingo.Layout { return bingo.GenerateLayout(cardNo) }
