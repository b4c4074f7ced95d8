package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const sessionColumns = `id, code, stake, status, countdown_deadline, winner_id, winning_pattern,
called_numbers, created_at, started_at, finished_at`

func (s *Store) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	err := s.Pool.QueryRow(ctx, `
INSERT INTO game_sessions (code, stake, status, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`,
		sess.Code, sess.Stake, string(sess.Status), sess.CreatedAt).Scan(&sess.ID)
	if err != nil {
		return Session{}, classify(err)
	}
	if sess.CalledNumbers == nil {
		sess.CalledNumbers = []int{}
	}
	return sess, nil
}

// TransitionSession persists a status change guarded by the expected
// previous status. Players matching pt move in the same transaction.
func (s *Store) TransitionSession(ctx context.Context, prev SessionStatus, next Session, pt *PlayerTransition) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE game_sessions
SET status = $2, countdown_deadline = $3, started_at = $4, finished_at = $5, winner_id = $6, winning_pattern = $7
WHERE id = $1 AND status = $8`,
		next.ID, string(next.Status), timeParam(next.CountdownDeadline), timeParam(next.StartedAt),
		timeParam(next.FinishedAt), textParam(next.WinnerID), textParam(next.WinningPattern), string(prev))
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRowChanged
	}
	if pt != nil {
		from := make([]string, len(pt.From))
		for i, f := range pt.From {
			from[i] = string(f)
		}
		if _, err := tx.Exec(ctx, `
UPDATE session_players SET status = $2 WHERE session_id = $1 AND status = ANY($3)`,
			next.ID, string(pt.To), from); err != nil {
			return classify(err)
		}
	}
	return classify(tx.Commit(ctx))
}

// AppendCalledNumber appends n as the seq-th call. It refuses when the
// session is no longer active, the sequence moved on, or n was already called.
func (s *Store) AppendCalledNumber(ctx context.Context, sessionID int64, seq, n int) error {
	tag, err := s.Pool.Exec(ctx, `
UPDATE game_sessions SET called_numbers = array_append(called_numbers, $3::int)
WHERE id = $1 AND status = 'active' AND cardinality(called_numbers) = $2 AND NOT ($3::int = ANY(called_numbers))`,
		sessionID, seq, n)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRowChanged
	}
	return nil
}

func (s *Store) SavePlayer(ctx context.Context, p Player) error {
	_, err := s.Pool.Exec(ctx, `
INSERT INTO session_players (session_id, user_id, status, card_no, stake_ref, joined_at, left_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id, user_id) DO UPDATE
SET status = EXCLUDED.status, card_no = EXCLUDED.card_no, stake_ref = EXCLUDED.stake_ref,
    joined_at = EXCLUDED.joined_at, left_at = EXCLUDED.left_at`,
		p.SessionID, p.UserID, string(p.Status), p.CardNo, p.StakeRef, p.JoinedAt, timeParam(p.LeftAt))
	return classify(err)
}

// FinalizeWin records the single winner of an active session, finishes it and
// settles every roster entry in one transaction.
func (s *Store) FinalizeWin(ctx context.Context, w Win) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	var (
		status string
		winner pgtype.Text
	)
	if err := tx.QueryRow(ctx, `SELECT status, winner_id FROM game_sessions WHERE id = $1 FOR UPDATE`, w.SessionID).
		Scan(&status, &winner); err != nil {
		return classify(err)
	}
	if winner.Valid {
		return ErrAlreadyWon
	}
	if SessionStatus(status) != SessionActive {
		return ErrRowChanged
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO wins (session_id, user_id, card_no, win_type, pattern, called_numbers, claimed_numbers, prize_amount, declared_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.SessionID, w.UserID, w.CardNo, w.WinType, int32s(w.Pattern), int32s(w.CalledNumbers),
		int32s(w.ClaimedNumbers), w.PrizeAmount, w.DeclaredAt); err != nil {
		if err = classify(err); errors.Is(err, ErrDuplicate) {
			return ErrAlreadyWon
		}
		return err
	}
	if _, err := tx.Exec(ctx, `
UPDATE game_sessions SET status = 'finished', winner_id = $2, winning_pattern = $3, finished_at = $4
WHERE id = $1`, w.SessionID, w.UserID, w.WinType, w.DeclaredAt); err != nil {
		return classify(err)
	}
	if _, err := tx.Exec(ctx, `
UPDATE session_players
SET status = CASE WHEN user_id = $2 THEN 'winner' ELSE 'finished' END
WHERE session_id = $1 AND status IN ('ready', 'playing')`, w.SessionID, w.UserID); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

func (s *Store) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (*Session, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE code = $1`, code)
	return scanSession(row)
}

func (s *Store) ListSessionsByStatus(ctx context.Context, statuses ...SessionStatus) ([]Session, error) {
	in := make([]string, len(statuses))
	for i, st := range statuses {
		in[i] = string(st)
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE status = ANY($1) ORDER BY id`, in)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, classify(rows.Err())
}

func (s *Store) ListPlayers(ctx context.Context, sessionID int64) ([]Player, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT session_id, user_id, status, card_no, stake_ref, joined_at, left_at
FROM session_players WHERE session_id = $1 ORDER BY joined_at, user_id`, sessionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []Player{}
	for rows.Next() {
		var (
			p      Player
			status string
			left   pgtype.Timestamptz
		)
		if err := rows.Scan(&p.SessionID, &p.UserID, &status, &p.CardNo, &p.StakeRef, &p.JoinedAt, &left); err != nil {
			return nil, err
		}
		p.Status = PlayerStatus(status)
		p.LeftAt = timePtrVal(left)
		out = append(out, p)
	}
	return out, classify(rows.Err())
}

func (s *Store) GetWin(ctx context.Context, sessionID int64) (*Win, error) {
	var (
		w                        Win
		pattern, called, claimed []int32
	)
	err := s.Pool.QueryRow(ctx, `
SELECT session_id, user_id, card_no, win_type, pattern, called_numbers, claimed_numbers, prize_amount, declared_at
FROM wins WHERE session_id = $1`, sessionID).
		Scan(&w.SessionID, &w.UserID, &w.CardNo, &w.WinType, &pattern, &called, &claimed, &w.PrizeAmount, &w.DeclaredAt)
	if err != nil {
		return nil, classify(err)
	}
	w.Pattern = ints(pattern)
	w.CalledNumbers = ints(called)
	w.ClaimedNumbers = ints(claimed)
	return &w, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		sess      Session
		status    string
		deadline  pgtype.Timestamptz
		winner    pgtype.Text
		pattern   pgtype.Text
		called    []int32
		started   pgtype.Timestamptz
		finishedT pgtype.Timestamptz
	)
	if err := row.Scan(&sess.ID, &sess.Code, &sess.Stake, &status, &deadline, &winner, &pattern,
		&called, &sess.CreatedAt, &started, &finishedT); err != nil {
		return nil, classify(err)
	}
	sess.Status = SessionStatus(status)
	sess.CountdownDeadline = timePtrVal(deadline)
	sess.WinnerID = textVal(winner)
	sess.WinningPattern = textVal(pattern)
	sess.CalledNumbers = ints(called)
	sess.StartedAt = timePtrVal(started)
	sess.FinishedAt = timePtrVal(finishedT)
	return &sess, nil
}
