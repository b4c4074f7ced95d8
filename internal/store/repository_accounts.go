package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

func (s *Store) EnsureAccount(ctx context.Context, userID string, initial int64) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO accounts (user_id, balance) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, initial)
	return classify(err)
}

func (s *Store) GetAccountBalance(ctx context.Context, userID string) (int64, error) {
	var bal int64
	err := s.Pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE user_id = $1`, userID).Scan(&bal)
	if err != nil {
		return 0, classify(err)
	}
	return bal, nil
}

func (s *Store) Debit(ctx context.Context, userID string, amount int64, entryType, refType, refID string) (int64, error) {
	if amount < 0 {
		return 0, errors.New("amount must be positive")
	}
	return s.applyEntry(ctx, userID, -amount, entryType, refType, refID)
}

func (s *Store) Credit(ctx context.Context, userID string, amount int64, entryType, refType, refID string) (int64, error) {
	if amount < 0 {
		return 0, errors.New("amount must be positive")
	}
	return s.applyEntry(ctx, userID, amount, entryType, refType, refID)
}

// applyEntry moves the balance by delta and records the ledger row. A repeated
// (user, type, ref) triple returns ErrDuplicate without touching the balance.
func (s *Store) applyEntry(ctx context.Context, userID string, delta int64, entryType, refType, refID string) (int64, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, classify(err)
	}
	defer tx.Rollback(ctx)

	if delta > 0 {
		if _, err := tx.Exec(ctx, `INSERT INTO accounts (user_id, balance) VALUES ($1, 0) ON CONFLICT DO NOTHING`, userID); err != nil {
			return 0, classify(err)
		}
	}
	var bal int64
	if err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&bal); err != nil {
		return 0, classify(err)
	}
	if bal+delta < 0 {
		return 0, ErrInsufficientBalance
	}
	amount := delta
	if amount < 0 {
		amount = -amount
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO ledger_entries (id, user_id, type, amount, ref_type, ref_id)
VALUES ($1, $2, $3, $4, $5, $6)`, NewID(), userID, entryType, amount, refType, refID); err != nil {
		return 0, classify(err)
	}
	bal += delta
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $2, updated_at = now() WHERE user_id = $1`, userID, bal); err != nil {
		return 0, classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, classify(err)
	}
	return bal, nil
}
