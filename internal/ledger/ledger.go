package ledger

import (
	"context"
	"errors"
	"strconv"

	"bingo-coordinator/internal/apperr"
	"bingo-coordinator/internal/store"

	"github.com/rs/zerolog/log"
)

const (
	EntryStakeDebit  = "stake_debit"
	EntryStakeRefund = "stake_refund"
	EntryPrizeCredit = "prize_credit"
	EntryTopup       = "topup_credit"
)

type Accounts interface {
	EnsureAccount(ctx context.Context, userID string, initial int64) error
	GetAccountBalance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amount int64, entryType, refType, refID string) (int64, error)
	Credit(ctx context.Context, userID string, amount int64, entryType, refType, refID string) (int64, error)
}

// Ledger is the wallet behind sessions. Every movement is keyed by
// (user, entry type, reference) so a replayed request is applied once.
type Ledger struct {
	Store   Accounts
	Initial int64
}

func New(s Accounts, initial int64) *Ledger {
	return &Ledger{Store: s, Initial: initial}
}

func (l *Ledger) DebitStake(ctx context.Context, userID, ref string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := l.Store.EnsureAccount(ctx, userID, l.Initial); err != nil {
		return l.fail(err)
	}
	_, err := l.Store.Debit(ctx, userID, amount, EntryStakeDebit, "join", ref)
	return l.settle(err)
}

func (l *Ledger) RefundStake(ctx context.Context, userID, ref string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	_, err := l.Store.Credit(ctx, userID, amount, EntryStakeRefund, "join", ref)
	return l.settle(err)
}

func (l *Ledger) CreditPrize(ctx context.Context, userID string, sessionID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	_, err := l.Store.Credit(ctx, userID, amount, EntryPrizeCredit, "session", strconv.FormatInt(sessionID, 10))
	return l.settle(err)
}

// Topup credits an account from the admin surface. ref makes it idempotent.
func (l *Ledger) Topup(ctx context.Context, userID, ref string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apperr.Invalid("invalid_amount", "amount must be positive")
	}
	if err := l.Store.EnsureAccount(ctx, userID, l.Initial); err != nil {
		return 0, l.fail(err)
	}
	bal, err := l.Store.Credit(ctx, userID, amount, EntryTopup, "admin", ref)
	if errors.Is(err, store.ErrDuplicate) {
		return l.Balance(ctx, userID)
	}
	if err != nil {
		return 0, l.fail(err)
	}
	return bal, nil
}

func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	bal, err := l.Store.GetAccountBalance(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return l.Initial, nil
	}
	if err != nil {
		return 0, l.fail(err)
	}
	return bal, nil
}

// settle treats an already recorded entry as success.
func (l *Ledger) settle(err error) error {
	switch {
	case err == nil, errors.Is(err, store.ErrDuplicate):
		return nil
	case errors.Is(err, store.ErrInsufficientBalance):
		return apperr.Conflict("insufficient_balance", nil)
	case errors.Is(err, store.ErrNotFound):
		return apperr.Conflict("insufficient_balance", nil)
	}
	return l.fail(err)
}

func (l *Ledger) fail(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	log.Error().Err(err).Msg("ledger write failed")
	return apperr.Internal(err)
}
