package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is the in-process twin of Store. It backs STORE_DRIVER=memory and
// the unit tests, with the same guards as the SQL statements.
type Memory struct {
	mu       sync.Mutex
	cards    map[int]Card
	history  []CardHistory
	sessions map[int64]*Session
	codes    map[string]int64
	players  map[int64][]*Player
	wins     map[int64]Win
	accounts map[string]*Account
	entries  []LedgerEntry
	entryKey map[string]bool
	nextID   int64

	// Fail, when set, is consulted before each write and its error returned.
	Fail func(op string) error
}

func NewMemory() *Memory {
	return &Memory{
		cards:    map[int]Card{},
		sessions: map[int64]*Session{},
		codes:    map[string]int64{},
		players:  map[int64][]*Player{},
		wins:     map[int64]Win{},
		accounts: map[string]*Account{},
		entryKey: map[string]bool{},
	}
}

func (m *Memory) fail(op string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) EnsureCards(_ context.Context, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for no := 1; no <= count; no++ {
		if _, ok := m.cards[no]; !ok {
			m.cards[no] = Card{No: no, Status: CardAvailable, UpdatedAt: time.Now().UTC()}
		}
	}
	return nil
}

func (m *Memory) ListCards(context.Context) ([]Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Card, 0, len(m.cards))
	for _, c := range m.cards {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].No < out[j].No })
	return out, nil
}

func (m *Memory) SaveCard(_ context.Context, prev, next Card) error {
	if err := m.fail("save_card"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.cards[prev.No]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != prev.Status || cur.HolderID != prev.HolderID || cur.SessionID != prev.SessionID {
		return ErrRowChanged
	}
	m.cards[next.No] = next
	return nil
}

func (m *Memory) AppendCardHistory(_ context.Context, h CardHistory) error {
	if err := m.fail("card_history"); err != nil {
		return err
	}
	if h.ID == "" {
		h.ID = NewID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, h)
	return nil
}

func (m *Memory) ListCardHistory(_ context.Context, cardNo, limit int) ([]CardHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []CardHistory{}
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		if m.history[i].CardNo == cardNo {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

func (m *Memory) CreateSession(_ context.Context, sess Session) (Session, error) {
	if err := m.fail("create_session"); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[sess.Code]; ok {
		return Session{}, ErrDuplicate
	}
	m.nextID++
	sess.ID = m.nextID
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.CalledNumbers = []int{}
	cp := sess
	m.sessions[sess.ID] = &cp
	m.codes[sess.Code] = sess.ID
	return sess, nil
}

func (m *Memory) TransitionSession(_ context.Context, prev SessionStatus, next Session, pt *PlayerTransition) error {
	if err := m.fail("transition_session"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[next.ID]
	if !ok || cur.Status != prev {
		return ErrRowChanged
	}
	cur.Status = next.Status
	cur.CountdownDeadline = next.CountdownDeadline
	cur.StartedAt = next.StartedAt
	cur.FinishedAt = next.FinishedAt
	cur.WinnerID = next.WinnerID
	cur.WinningPattern = next.WinningPattern
	for _, p := range m.players[next.ID] {
		if pt.Applies(p.Status) {
			p.Status = pt.To
		}
	}
	return nil
}

func (m *Memory) AppendCalledNumber(_ context.Context, sessionID int64, seq, n int) error {
	if err := m.fail("append_called"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[sessionID]
	if !ok || cur.Status != SessionActive || len(cur.CalledNumbers) != seq {
		return ErrRowChanged
	}
	for _, v := range cur.CalledNumbers {
		if v == n {
			return ErrRowChanged
		}
	}
	cur.CalledNumbers = append(cur.CalledNumbers, n)
	return nil
}

func (m *Memory) SavePlayer(_ context.Context, p Player) error {
	if err := m.fail("save_player"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[p.SessionID]; !ok {
		return ErrNotFound
	}
	for _, cur := range m.players[p.SessionID] {
		if cur.UserID == p.UserID {
			*cur = p
			return nil
		}
	}
	cp := p
	m.players[p.SessionID] = append(m.players[p.SessionID], &cp)
	return nil
}

func (m *Memory) FinalizeWin(_ context.Context, w Win) error {
	if err := m.fail("finalize_win"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[w.SessionID]
	if !ok {
		return ErrNotFound
	}
	if cur.WinnerID != "" {
		return ErrAlreadyWon
	}
	if _, ok := m.wins[w.SessionID]; ok {
		return ErrAlreadyWon
	}
	if cur.Status != SessionActive {
		return ErrRowChanged
	}
	m.wins[w.SessionID] = cloneWin(w)
	cur.Status = SessionFinished
	cur.WinnerID = w.UserID
	cur.WinningPattern = w.WinType
	cur.FinishedAt = timePtr(w.DeclaredAt)
	for _, p := range m.players[w.SessionID] {
		if !p.Status.Active() {
			continue
		}
		if p.UserID == w.UserID {
			p.Status = PlayerWinner
		} else {
			p.Status = PlayerFinished
		}
	}
	return nil
}

func (m *Memory) GetSession(_ context.Context, id int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneSession(*cur)
	return &out, nil
}

func (m *Memory) GetSessionByCode(ctx context.Context, code string) (*Session, error) {
	m.mu.Lock()
	id, ok := m.codes[code]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetSession(ctx, id)
}

func (m *Memory) ListSessionsByStatus(_ context.Context, statuses ...SessionStatus) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[SessionStatus]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	out := []Session{}
	for _, s := range m.sessions {
		if want[s.Status] {
			out = append(out, cloneSession(*s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListPlayers(_ context.Context, sessionID int64) ([]Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Player, 0, len(m.players[sessionID]))
	for _, p := range m.players[sessionID] {
		out = append(out, *p)
	}
	return out, nil
}

func (m *Memory) GetWin(_ context.Context, sessionID int64) (*Win, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wins[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneWin(w)
	return &out, nil
}

func (m *Memory) EnsureAccount(_ context.Context, userID string, initial int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[userID]; !ok {
		m.accounts[userID] = &Account{UserID: userID, Balance: initial, UpdatedAt: time.Now().UTC()}
	}
	return nil
}

func (m *Memory) GetAccountBalance(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return acc.Balance, nil
}

func (m *Memory) Debit(ctx context.Context, userID string, amount int64, entryType, refType, refID string) (int64, error) {
	return m.applyEntry(userID, -amount, entryType, refType, refID)
}

func (m *Memory) Credit(ctx context.Context, userID string, amount int64, entryType, refType, refID string) (int64, error) {
	return m.applyEntry(userID, amount, entryType, refType, refID)
}

func (m *Memory) applyEntry(userID string, delta int64, entryType, refType, refID string) (int64, error) {
	if err := m.fail(entryType); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		if delta < 0 {
			return 0, ErrNotFound
		}
		acc = &Account{UserID: userID}
		m.accounts[userID] = acc
	}
	key := userID + "|" + entryType + "|" + refID
	if m.entryKey[key] {
		return 0, ErrDuplicate
	}
	if acc.Balance+delta < 0 {
		return 0, ErrInsufficientBalance
	}
	amount := delta
	if amount < 0 {
		amount = -amount
	}
	m.entryKey[key] = true
	acc.Balance += delta
	acc.UpdatedAt = time.Now().UTC()
	m.entries = append(m.entries, LedgerEntry{
		ID: NewID(), UserID: userID, Type: entryType, Amount: amount,
		RefType: refType, RefID: refID, CreatedAt: acc.UpdatedAt,
	})
	return acc.Balance, nil
}

func (m *Memory) ListLedgerEntries(_ context.Context, f LedgerFilter, limit, offset int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []LedgerEntry{}
	skipped := 0
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if (f.UserID != "" && e.UserID != f.UserID) || (f.RefID != "" && e.RefID != f.RefID) {
			continue
		}
		if (f.From != nil && e.CreatedAt.Before(*f.From)) || (f.To != nil && !e.CreatedAt.Before(*f.To)) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func cloneSession(s Session) Session {
	s.CalledNumbers = append([]int{}, s.CalledNumbers...)
	return s
}

func cloneWin(w Win) Win {
	w.Pattern = append([]int(nil), w.Pattern...)
	w.CalledNumbers = append([]int(nil), w.CalledNumbers...)
	w.ClaimedNumbers = append([]int(nil), w.ClaimedNumbers...)
	return w
}
