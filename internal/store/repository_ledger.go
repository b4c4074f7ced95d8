package store

import (
	"context"
	"time"
)

type LedgerFilter struct {
	UserID string
	RefID  string
	From   *time.Time
	To     *time.Time
}

func (s *Store) ListLedgerEntries(ctx context.Context, f LedgerFilter, limit, offset int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
SELECT id, user_id, type, amount, ref_type, ref_id, created_at
FROM ledger_entries
WHERE ($1 = '' OR user_id = $1)
  AND ($2 = '' OR ref_id = $2)
  AND ($3::timestamptz IS NULL OR created_at >= $3)
  AND ($4::timestamptz IS NULL OR created_at < $4)
ORDER BY created_at DESC, id DESC
LIMIT $5 OFFSET $6`, f.UserID, f.RefID, timeParam(f.From), timeParam(f.To), limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.RefType, &e.RefID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, classify(rows.Err())
}
