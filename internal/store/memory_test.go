package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySaveCardComparesPrevious(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureCards(ctx, 3))

	cards, err := m.ListCards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 3)
	assert.Equal(t, 1, cards[0].No)

	exp := time.Now().Add(time.Minute)
	held := Card{No: 2, Status: CardHeld, HolderID: "u1", HoldExpiresAt: &exp}
	require.NoError(t, m.SaveCard(ctx, cards[1], held))

	// a stale writer still thinks the card is available
	err = m.SaveCard(ctx, cards[1], Card{No: 2, Status: CardHeld, HolderID: "u2", HoldExpiresAt: &exp})
	assert.ErrorIs(t, err, ErrRowChanged)
}

func TestMemoryTransitionGuardsStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sess, err := m.CreateSession(ctx, Session{Code: "ABC123", Stake: 10, Status: SessionWaiting})
	require.NoError(t, err)
	require.NoError(t, m.SavePlayer(ctx, Player{SessionID: sess.ID, UserID: "u1", Status: PlayerReady, CardNo: 1}))

	next := sess
	next.Status = SessionCountdown
	require.NoError(t, m.TransitionSession(ctx, SessionWaiting, next, nil))
	assert.ErrorIs(t, m.TransitionSession(ctx, SessionWaiting, next, nil), ErrRowChanged)

	next.Status = SessionActive
	require.NoError(t, m.TransitionSession(ctx, SessionCountdown, next, &PlayerTransition{
		From: []PlayerStatus{PlayerReady}, To: PlayerPlaying,
	}))
	players, err := m.ListPlayers(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, PlayerPlaying, players[0].Status)

	_, err = m.CreateSession(ctx, Session{Code: "ABC123", Status: SessionWaiting})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryAppendCalledNumberSequence(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sess, err := m.CreateSession(ctx, Session{Code: "C1", Status: SessionWaiting})
	require.NoError(t, err)

	assert.ErrorIs(t, m.AppendCalledNumber(ctx, sess.ID, 0, 7), ErrRowChanged, "not active yet")

	active := sess
	active.Status = SessionCountdown
	require.NoError(t, m.TransitionSession(ctx, SessionWaiting, active, nil))
	active.Status = SessionActive
	require.NoError(t, m.TransitionSession(ctx, SessionCountdown, active, nil))

	require.NoError(t, m.AppendCalledNumber(ctx, sess.ID, 0, 7))
	assert.ErrorIs(t, m.AppendCalledNumber(ctx, sess.ID, 0, 8), ErrRowChanged, "stale sequence")
	assert.ErrorIs(t, m.AppendCalledNumber(ctx, sess.ID, 1, 7), ErrRowChanged, "duplicate number")
	require.NoError(t, m.AppendCalledNumber(ctx, sess.ID, 1, 8))

	got, err := m.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8}, got.CalledNumbers)
}

func TestMemoryFinalizeWinOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sess, err := m.CreateSession(ctx, Session{Code: "W1", Status: SessionWaiting})
	require.NoError(t, err)
	for _, u := range []string{"a", "b"} {
		require.NoError(t, m.SavePlayer(ctx, Player{SessionID: sess.ID, UserID: u, Status: PlayerPlaying}))
	}
	next := sess
	next.Status = SessionCountdown
	require.NoError(t, m.TransitionSession(ctx, SessionWaiting, next, nil))
	next.Status = SessionActive
	require.NoError(t, m.TransitionSession(ctx, SessionCountdown, next, nil))

	w := Win{SessionID: sess.ID, UserID: "a", WinType: "horizontal", DeclaredAt: time.Now()}
	require.NoError(t, m.FinalizeWin(ctx, w))
	w.UserID = "b"
	assert.ErrorIs(t, m.FinalizeWin(ctx, w), ErrAlreadyWon)

	got, err := m.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionFinished, got.Status)
	assert.Equal(t, "a", got.WinnerID)

	players, err := m.ListPlayers(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, PlayerWinner, players[0].Status)
	assert.Equal(t, PlayerFinished, players[1].Status)

	win, err := m.GetWin(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", win.UserID)
}

func TestMemoryLedgerEntries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureAccount(ctx, "u1", 100))

	bal, err := m.Debit(ctx, "u1", 30, "stake_debit", "session", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), bal)

	_, err = m.Debit(ctx, "u1", 30, "stake_debit", "session", "1")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = m.Debit(ctx, "u1", 500, "stake_debit", "session", "2")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = m.Debit(ctx, "ghost", 1, "stake_debit", "session", "1")
	assert.ErrorIs(t, err, ErrNotFound)

	bal, err = m.Credit(ctx, "u2", 40, "prize_credit", "session", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), bal)

	items, err := m.ListLedgerEntries(ctx, LedgerFilter{UserID: "u1"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(30), items[0].Amount)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, SessionWaiting.CanTransition(SessionCountdown))
	assert.True(t, SessionCountdown.CanTransition(SessionActive))
	assert.True(t, SessionCountdown.CanTransition(SessionCancelled))
	assert.True(t, SessionActive.CanTransition(SessionFinished))
	assert.False(t, SessionActive.CanTransition(SessionCountdown))
	assert.False(t, SessionActive.CanTransition(SessionCancelled))
	assert.False(t, SessionFinished.CanTransition(SessionFinished))
	assert.False(t, SessionCancelled.CanTransition(SessionActive))
	assert.False(t, SessionWaiting.CanTransition(SessionActive))
}
