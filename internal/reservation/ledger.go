// Package reservation owns card holds: the short exclusive claim a user takes
// on a card before paying into a session.
package reservation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"bingo-coordinator/internal/apperr"
	"bingo-coordinator/internal/rowlock"
	"bingo-coordinator/internal/store"

	"github.com/rs/zerolog/log"
)

const DefaultHoldTTL = 50 * time.Second

type CardRepository interface {
	ListCards(ctx context.Context) ([]store.Card, error)
	SaveCard(ctx context.Context, prev, next store.Card) error
}

// HistorySink receives card transitions after they are durable. It must not
// block.
type HistorySink interface {
	Record(h store.CardHistory)
}

type Options struct {
	HoldTTL  time.Duration
	LockWait time.Duration
	Retries  int
	Now      func() time.Time
}

type Hold struct {
	CardNo    int       `json:"cardId"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Renewed   bool      `json:"renewed"`
}

type Release struct {
	CardNo           int  `json:"cardId"`
	Released         bool `json:"released"`
	AlreadyAvailable bool `json:"alreadyAvailable"`
}

// ConflictDetail describes the card state behind a rejected hold or commit.
type ConflictDetail struct {
	CardNo    int              `json:"cardId"`
	Status    store.CardStatus `json:"status"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
}

// Binding is produced by the commit callback once the user is in a session.
// Undo reverses the join if the card write fails afterwards.
type Binding struct {
	SessionID int64
	Undo      func(ctx context.Context)
}

type BindFunc func(ctx context.Context, card store.Card) (Binding, error)

// Ledger keeps the authoritative card table in memory and writes every
// transition through to the repository before applying it.
type Ledger struct {
	repo    CardRepository
	history HistorySink
	locks   *rowlock.Table[int]
	users   *rowlock.Table[string]
	ttl     time.Duration
	retries int
	now     func() time.Time

	mu    sync.RWMutex
	cards map[int]store.Card
}

func New(ctx context.Context, repo CardRepository, history HistorySink, opts Options) (*Ledger, error) {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = DefaultHoldTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	cards, err := repo.ListCards(ctx)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		repo:    repo,
		history: history,
		locks:   rowlock.NewTable[int](opts.LockWait),
		users:   rowlock.NewTable[string](opts.LockWait),
		ttl:     opts.HoldTTL,
		retries: opts.Retries,
		now:     opts.Now,
		cards:   make(map[int]store.Card, len(cards)),
	}
	for _, c := range cards {
		l.cards[c.No] = c
	}
	return l, nil
}

func (l *Ledger) HoldTTL() time.Duration { return l.ttl }

func (l *Ledger) Card(cardNo int) (store.Card, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.cards[cardNo]
	return c, ok
}

// Cards returns the catalogue ordered by card number.
func (l *Ledger) Cards() []store.Card {
	l.mu.RLock()
	out := make([]store.Card, 0, len(l.cards))
	for _, c := range l.cards {
		out = append(out, c)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].No < out[j].No })
	return out
}

func (l *Ledger) put(c store.Card) {
	l.mu.Lock()
	l.cards[c.No] = c
	l.mu.Unlock()
}

// heldBy lists cards the user currently holds, live or lapsed.
func (l *Ledger) heldBy(userID string) []int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []int
	for no, c := range l.cards {
		if c.Status == store.CardHeld && c.HolderID == userID {
			out = append(out, no)
		}
	}
	sort.Ints(out)
	return out
}

// TryHold grants or renews userID's hold on cardNo. Any other card the user
// holds is released first so a user holds at most one card. The user lock is
// held from that scan through the grant and is always taken before a card
// lock.
func (l *Ledger) TryHold(ctx context.Context, cardNo int, userID string) (Hold, error) {
	if userID == "" {
		return Hold{}, apperr.Invalid("missing_user", "userId is required")
	}
	if _, ok := l.Card(cardNo); !ok {
		return Hold{}, apperr.NotFound("card_not_found")
	}
	unlockUser, err := l.users.Lock(ctx, userID)
	if err != nil {
		metricHoldRejected.Add(1)
		return Hold{}, err
	}
	defer unlockUser()

	for _, other := range l.heldBy(userID) {
		if other == cardNo {
			continue
		}
		if _, err := l.release(ctx, other, userID, store.ActionAutoRelease); err != nil {
			return Hold{}, err
		}
	}

	var hold Hold
	err = apperr.Retry(ctx, l.retries, func(ctx context.Context) error {
		unlock, err := l.locks.Lock(ctx, cardNo)
		if err != nil {
			return err
		}
		defer unlock()

		cur, _ := l.Card(cardNo)
		now := l.now()
		switch cur.Status {
		case store.CardCommitted:
			return apperr.Conflict("already_committed", ConflictDetail{CardNo: cardNo, Status: cur.Status})
		case store.CardHeld:
			if cur.HolderID != userID && !cur.Expired(now) {
				return apperr.Conflict("held_by_other", ConflictDetail{CardNo: cardNo, Status: cur.Status, ExpiresAt: cur.HoldExpiresAt})
			}
		}

		exp := now.Add(l.ttl)
		next := cur
		next.Status = store.CardHeld
		next.HolderID = userID
		next.HoldExpiresAt = &exp
		next.SessionID = 0
		next.UpdatedAt = now
		if err := l.save(ctx, cur, next); err != nil {
			return err
		}

		renewed := cur.Status == store.CardHeld && cur.HolderID == userID
		if cur.Status == store.CardHeld && !renewed {
			l.record(cardNo, cur.HolderID, store.ActionExpire, 0, now)
			metricHoldsExpired.Add(1)
		}
		action := store.ActionHold
		if renewed {
			action = store.ActionRenew
		}
		l.record(cardNo, userID, action, 0, now)
		hold = Hold{CardNo: cardNo, UserID: userID, ExpiresAt: exp, Renewed: renewed}
		return nil
	})
	if err != nil {
		metricHoldRejected.Add(1)
		return Hold{}, err
	}
	metricHoldGranted.Add(1)
	return hold, nil
}

// Release gives up userID's hold. Releasing an available card is benign.
func (l *Ledger) Release(ctx context.Context, cardNo int, userID string) (Release, error) {
	if userID == "" {
		return Release{}, apperr.Invalid("missing_user", "userId is required")
	}
	if _, ok := l.Card(cardNo); !ok {
		return Release{}, apperr.NotFound("card_not_found")
	}
	return l.release(ctx, cardNo, userID, store.ActionRelease)
}

func (l *Ledger) release(ctx context.Context, cardNo int, userID string, action store.CardAction) (Release, error) {
	var out Release
	err := apperr.Retry(ctx, l.retries, func(ctx context.Context) error {
		unlock, err := l.locks.Lock(ctx, cardNo)
		if err != nil {
			return err
		}
		defer unlock()

		cur, _ := l.Card(cardNo)
		switch {
		case cur.Status == store.CardAvailable:
			out = Release{CardNo: cardNo, AlreadyAvailable: true}
			return nil
		case cur.HolderID != userID:
			return apperr.NotAParticipant("not_card_holder")
		case cur.Status == store.CardCommitted:
			return apperr.Conflict("card_committed", ConflictDetail{CardNo: cardNo, Status: cur.Status})
		}
		now := l.now()
		if err := l.save(ctx, cur, available(cur, now)); err != nil {
			return err
		}
		l.record(cardNo, userID, action, 0, now)
		out = Release{CardNo: cardNo, Released: true}
		return nil
	})
	return out, err
}

// Commit converts a live hold into a committed card. bind joins the session
// while the card row is locked; it is skipped when the card is already
// committed to userID so retries stay idempotent.
func (l *Ledger) Commit(ctx context.Context, cardNo int, userID string, bind BindFunc) (store.Card, error) {
	if userID == "" {
		return store.Card{}, apperr.Invalid("missing_user", "userId is required")
	}
	if _, ok := l.Card(cardNo); !ok {
		return store.Card{}, apperr.NotFound("card_not_found")
	}
	var out store.Card
	err := apperr.Retry(ctx, l.retries, func(ctx context.Context) error {
		unlock, err := l.locks.Lock(ctx, cardNo)
		if err != nil {
			return err
		}
		defer unlock()

		cur, _ := l.Card(cardNo)
		now := l.now()
		switch cur.Status {
		case store.CardAvailable:
			return apperr.Expired("hold_expired", ConflictDetail{CardNo: cardNo, Status: cur.Status})
		case store.CardCommitted:
			if cur.HolderID == userID {
				out = cur
				return nil
			}
			return apperr.Conflict("already_taken", ConflictDetail{CardNo: cardNo, Status: cur.Status})
		}
		// Only the holder can see its own hold expire; the lapsed hold of
		// someone else is left for the reaper or the next TryHold.
		if cur.HolderID != userID {
			return apperr.Conflict("already_taken", ConflictDetail{CardNo: cardNo, Status: cur.Status, ExpiresAt: cur.HoldExpiresAt})
		}
		if cur.Expired(now) {
			if err := l.save(ctx, cur, available(cur, now)); err != nil {
				return err
			}
			l.record(cardNo, cur.HolderID, store.ActionExpire, 0, now)
			metricHoldsExpired.Add(1)
			return apperr.Expired("hold_expired", ConflictDetail{CardNo: cardNo, Status: store.CardAvailable})
		}

		b, err := bind(ctx, cur)
		if err != nil {
			return err
		}
		next := cur
		next.Status = store.CardCommitted
		next.SessionID = b.SessionID
		next.UpdatedAt = now
		if err := l.save(ctx, cur, next); err != nil {
			if b.Undo != nil {
				b.Undo(context.WithoutCancel(ctx))
			}
			return err
		}
		l.record(cardNo, userID, store.ActionCommit, b.SessionID, now)
		out = next
		return nil
	})
	if err != nil {
		metricCommitRejected.Add(1)
		return store.Card{}, err
	}
	metricCommitTotal.Add(1)
	return out, nil
}

// ReturnCommitted puts a committed card back into circulation once its
// session has ended or the player left. Cards bound elsewhere are untouched.
func (l *Ledger) ReturnCommitted(ctx context.Context, cardNo int, sessionID int64) error {
	return apperr.Retry(ctx, l.retries, func(ctx context.Context) error {
		unlock, err := l.locks.Lock(ctx, cardNo)
		if err != nil {
			return err
		}
		defer unlock()

		cur, ok := l.Card(cardNo)
		if !ok || cur.Status != store.CardCommitted || cur.SessionID != sessionID {
			return nil
		}
		now := l.now()
		if err := l.save(ctx, cur, available(cur, now)); err != nil {
			return err
		}
		l.record(cardNo, cur.HolderID, store.ActionReturn, sessionID, now)
		return nil
	})
}

func (l *Ledger) save(ctx context.Context, prev, next store.Card) error {
	err := l.repo.SaveCard(ctx, prev, next)
	if err == nil {
		l.put(next)
		return nil
	}
	if errors.Is(err, store.ErrRowChanged) {
		return apperr.Conflict("card_state_changed", ConflictDetail{CardNo: prev.No, Status: prev.Status})
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("card_not_found")
	}
	if apperr.KindOf(err) == apperr.KindTransient {
		return err
	}
	log.Error().Err(err).Int("card_no", prev.No).Msg("card write failed")
	return apperr.Internal(err)
}

func (l *Ledger) record(cardNo int, userID string, action store.CardAction, sessionID int64, at time.Time) {
	if l.history == nil {
		return
	}
	l.history.Record(store.CardHistory{
		CardNo:    cardNo,
		UserID:    userID,
		Action:    action,
		SessionID: sessionID,
		CreatedAt: at,
	})
}

func available(c store.Card, now time.Time) store.Card {
	return store.Card{No: c.No, Status: store.CardAvailable, UpdatedAt: now}
}
