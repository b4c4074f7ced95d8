package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func (s *Store) EnsureCards(ctx context.Context, count int) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO cards (card_no) SELECT generate_series(1, $1) ON CONFLICT DO NOTHING`, count)
	return classify(err)
}

func (s *Store) ListCards(ctx context.Context) ([]Card, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT card_no, status, holder_id, hold_expires_at, session_id, updated_at
FROM cards ORDER BY card_no`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []Card{}
	for rows.Next() {
		var (
			c       Card
			status  string
			holder  pgtype.Text
			expires pgtype.Timestamptz
			session pgtype.Int8
		)
		if err := rows.Scan(&c.No, &status, &holder, &expires, &session, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Status = CardStatus(status)
		c.HolderID = textVal(holder)
		c.HoldExpiresAt = timePtrVal(expires)
		c.SessionID = int8Val(session)
		out = append(out, c)
	}
	return out, classify(rows.Err())
}

// SaveCard writes next only if the stored row still matches prev.
func (s *Store) SaveCard(ctx context.Context, prev, next Card) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	var (
		status  string
		holder  pgtype.Text
		session pgtype.Int8
	)
	err = tx.QueryRow(ctx, `SELECT status, holder_id, session_id FROM cards WHERE card_no = $1 FOR UPDATE`, prev.No).
		Scan(&status, &holder, &session)
	if err != nil {
		return classify(err)
	}
	if CardStatus(status) != prev.Status || textVal(holder) != prev.HolderID || int8Val(session) != prev.SessionID {
		return ErrRowChanged
	}
	if _, err := tx.Exec(ctx, `
UPDATE cards SET status = $2, holder_id = $3, hold_expires_at = $4, session_id = $5, updated_at = $6
WHERE card_no = $1`,
		next.No, string(next.Status), textParam(next.HolderID), timeParam(next.HoldExpiresAt), int8Param(next.SessionID), next.UpdatedAt,
	); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

func (s *Store) AppendCardHistory(ctx context.Context, h CardHistory) error {
	if h.ID == "" {
		h.ID = NewID()
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO card_history (id, card_no, user_id, action, session_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.CardNo, h.UserID, string(h.Action), int8Param(h.SessionID), h.CreatedAt)
	return classify(err)
}

func (s *Store) ListCardHistory(ctx context.Context, cardNo, limit int) ([]CardHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
SELECT id, card_no, user_id, action, session_id, created_at
FROM card_history WHERE card_no = $1
ORDER BY created_at DESC, id DESC LIMIT $2`, cardNo, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []CardHistory{}
	for rows.Next() {
		var (
			h       CardHistory
			action  string
			session pgtype.Int8
		)
		if err := rows.Scan(&h.ID, &h.CardNo, &h.UserID, &action, &session, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Action = CardAction(action)
		h.SessionID = int8Val(session)
		out = append(out, h)
	}
	return out, classify(rows.Err())
}
