package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bingo-coordinator/internal/apperr"
	"bingo-coordinator/internal/bingo"
	"bingo-coordinator/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeWallet struct {
	mu       sync.Mutex
	poor     map[string]bool
	debited  map[string]int64
	refunded map[string]int64
	credited map[string]int64
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		poor:     map[string]bool{},
		debited:  map[string]int64{},
		refunded: map[string]int64{},
		credited: map[string]int64{},
	}
}

func (w *fakeWallet) DebitStake(_ context.Context, userID, _ string, amount int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.poor[userID] {
		return apperr.Conflict("insufficient_balance", nil)
	}
	w.debited[userID] += amount
	return nil
}

func (w *fakeWallet) RefundStake(_ context.Context, userID, _ string, amount int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refunded[userID] += amount
	return nil
}

func (w *fakeWallet) CreditPrize(_ context.Context, userID string, _ int64, amount int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.credited[userID] += amount
	return nil
}

func (w *fakeWallet) snapshot() (debited, refunded, credited map[string]int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := func(m map[string]int64) map[string]int64 {
		out := map[string]int64{}
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return cp(w.debited), cp(w.refunded), cp(w.credited)
}

type returnedCards struct {
	mu    sync.Mutex
	cards []int
}

func (r *returnedCards) ReturnCommitted(_ context.Context, cardNo int, _ int64) error {
	r.mu.Lock()
	r.cards = append(r.cards, cardNo)
	r.mu.Unlock()
	return nil
}

func (r *returnedCards) list() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.cards...)
}

type harness struct {
	c      *Coordinator
	mem    *store.Memory
	clock  *fakeClock
	wallet *fakeWallet
	cards  *returnedCards
}

// rowFirst calls the top row of card 7 before anything else.
func rowFirst(size int) []int {
	l := bingo.GenerateLayout(7)
	first := append([]int(nil), l[0:bingo.Size]...)
	seen := map[int]bool{}
	for _, n := range first {
		seen[n] = true
	}
	out := first
	for n := 1; n <= bingo.MaxBall; n++ {
		if !seen[n] {
			out = append(out, n)
		}
	}
	return out[:size]
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	opts := Options{
		MinPlayers:      2,
		CountdownWindow: 50 * time.Second,
		CallInterval:    time.Hour,
		LockWait:        time.Second,
		Retries:         2,
		HouseCutPct:     10,
		VerifyClaims:    true,
		Stakes:          []int64{10, 20},
		Now:             clock.Now,
		Shuffle:         rowFirst,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h := &harness{mem: store.NewMemory(), clock: clock, wallet: newFakeWallet(), cards: &returnedCards{}}
	require.NoError(t, h.mem.EnsureCards(context.Background(), 100))
	h.c = New(Deps{Repo: h.mem, Wallet: h.wallet, Cards: h.cards}, opts)
	t.Cleanup(h.c.Close)
	return h
}

func (h *harness) join(t *testing.T, userID string, cardNo int) JoinResult {
	t.Helper()
	res, err := h.c.Join(context.Background(), JoinRequest{UserID: userID, CardNo: cardNo, Stake: 10})
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return res
}

// start seats two players and runs the countdown out.
func (h *harness) start(t *testing.T) *room {
	t.Helper()
	res := h.join(t, "u1", 7)
	h.join(t, "u2", 12)
	h.clock.Advance(50 * time.Second)
	h.c.Sweep(context.Background())
	rm := h.c.room(res.SessionID)
	require.NotNil(t, rm)
	require.Equal(t, store.SessionActive, rm.sess.Status)
	return rm
}

func (h *harness) settle() { h.c.wg.Wait() }

func events(rm *room, name string) []StreamEvent {
	var out []StreamEvent
	for _, ev := range rm.buffer.ReplayAfter("") {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func TestJoinStartsCountdownAtMinimumPlayers(t *testing.T) {
	h := newHarness(t, nil)
	first := h.join(t, "u1", 7)
	require.Equal(t, store.SessionWaiting, first.Status)

	second := h.join(t, "u2", 12)
	require.Equal(t, first.SessionID, second.SessionID)
	require.Equal(t, store.SessionCountdown, second.Status)

	sess, err := h.mem.GetSession(context.Background(), first.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess.CountdownDeadline)
	assert.Equal(t, h.clock.Now().Add(50*time.Second), *sess.CountdownDeadline)

	debited, _, _ := h.wallet.snapshot()
	assert.Equal(t, map[string]int64{"u1": 10, "u2": 10}, debited)
}

func TestJoinIsIdempotentForSameCard(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join(t, "u1", 7)
	b := h.join(t, "u1", 7)
	require.Equal(t, a.SessionID, b.SessionID)

	debited, _, _ := h.wallet.snapshot()
	assert.Equal(t, int64(10), debited["u1"])

	_, err := h.c.Join(context.Background(), JoinRequest{UserID: "u1", CardNo: 8, Stake: 10})
	require.Error(t, err)
	assert.Equal(t, "already_in_session", apperr.CodeOf(err))
}

func TestJoinRejectsUnknownStakeAndPoorPlayer(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.c.Join(context.Background(), JoinRequest{UserID: "u1", CardNo: 7, Stake: 15})
	require.True(t, apperr.IsInvalid(err), "got %v", err)

	h.wallet.poor["u2"] = true
	_, err = h.c.Join(context.Background(), JoinRequest{UserID: "u2", CardNo: 8, Stake: 10})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "insufficient_balance", apperr.CodeOf(err))
}

func TestSessionsAreKeyedByStake(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join(t, "u1", 7)
	b, err := h.c.Join(context.Background(), JoinRequest{UserID: "u2", CardNo: 8, Stake: 20})
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionID, b.SessionID)
	assert.Equal(t, store.SessionWaiting, b.Status)
}

func TestJoinAfterLapsedCountdownStartsGameFirst(t *testing.T) {
	h := newHarness(t, nil)
	first := h.join(t, "u1", 7)
	h.join(t, "u2", 12)
	h.clock.Advance(60 * time.Second)

	late := h.join(t, "u3", 9)
	assert.NotEqual(t, first.SessionID, late.SessionID)
	assert.Equal(t, store.SessionWaiting, late.Status)

	rm := h.c.room(first.SessionID)
	require.NotNil(t, rm)
	unlock, err := rm.lock.Lock(context.Background())
	require.NoError(t, err)
	status, active := rm.sess.Status, rm.activeCount()
	unlock()
	assert.Equal(t, store.SessionActive, status)
	assert.Equal(t, 2, active)

	sess, err := h.mem.GetSession(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionActive, sess.Status)
}

func TestJoinAfterLapsedCountdownDoesNotReviveIt(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	first := h.join(t, "u1", 7)
	h.join(t, "u2", 12)
	require.NoError(t, h.c.Leave(ctx, first.SessionID, "u2"))
	h.clock.Advance(50 * time.Second)

	late := h.join(t, "u3", 9)
	assert.NotEqual(t, first.SessionID, late.SessionID)

	sess, err := h.mem.GetSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCancelled, sess.Status)

	h.settle()
	_, refunded, _ := h.wallet.snapshot()
	assert.Equal(t, map[string]int64{"u1": 10, "u2": 10}, refunded)
	assert.ElementsMatch(t, []int{7, 12}, h.cards.list())
}

func TestHappyPathSingleWinner(t *testing.T) {
	h := newHarness(t, nil)
	rm := h.start(t)
	ctx := context.Background()

	for i := 0; i < bingo.Size; i++ {
		require.True(t, h.c.callNext(ctx, rm))
	}
	called := rm.sess.CalledNumbers
	require.Len(t, called, bingo.Size)
	stored, err := h.mem.GetSession(ctx, rm.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, called, stored.CalledNumbers)

	res, err := h.c.Claim(ctx, ClaimRequest{SessionID: rm.sess.ID, UserID: "u1", Pattern: "horizontal", CardNo: 7, CalledNumbers: called})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Win.Position)
	assert.Equal(t, "u1", res.Win.WinnerID)
	assert.Equal(t, int64(18), res.Win.WinAmount)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, res.Win.Cells)

	_, err = h.c.Claim(ctx, ClaimRequest{SessionID: rm.sess.ID, UserID: "u2", Pattern: "horizontal", CalledNumbers: called})
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "already_won", e.Code)
	rej, ok := e.Detail.(Rejection)
	require.True(t, ok)
	require.NotNil(t, rej.Winner)
	assert.Equal(t, "u1", rej.Winner.WinnerID)

	again, err := h.c.Claim(ctx, ClaimRequest{SessionID: rm.sess.ID, UserID: "u1", Pattern: "horizontal"})
	require.NoError(t, err)
	assert.Equal(t, res.Win.DeclaredAt, again.Win.DeclaredAt)

	require.False(t, h.c.callNext(ctx, rm))
	assert.Len(t, rm.sess.CalledNumbers, bingo.Size)
	assert.Len(t, events(rm, EventNumberCalled), bingo.Size)
	assert.Len(t, events(rm, EventWinner), 1)

	h.settle()
	_, _, credited := h.wallet.snapshot()
	assert.Equal(t, map[string]int64{"u1": 18}, credited)
	assert.ElementsMatch(t, []int{7, 12}, h.cards.list())

	players, err := h.mem.ListPlayers(ctx, rm.sess.ID)
	require.NoError(t, err)
	for _, p := range players {
		if p.UserID == "u1" {
			assert.Equal(t, store.PlayerWinner, p.Status)
		} else {
			assert.Equal(t, store.PlayerFinished, p.Status)
		}
	}
}

func TestConcurrentClaimsAcceptExactlyOne(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Shuffle = bingo.Sequential })
	ctx := context.Background()
	users := []string{"a", "b", "c", "d", "e"}
	var sessionID int64
	for i, u := range users {
		sessionID = h.join(t, u, 20+i).SessionID
	}
	h.clock.Advance(50 * time.Second)
	h.c.Sweep(ctx)
	rm := h.c.room(sessionID)
	for i := 0; i < bingo.MaxBall; i++ {
		require.True(t, h.c.callNext(ctx, rm))
	}

	var (
		mu       sync.Mutex
		winners  []string
		rejected int
	)
	var g errgroup.Group
	for _, u := range users {
		g.Go(func() error {
			_, err := h.c.Claim(ctx, ClaimRequest{SessionID: sessionID, UserID: u, Pattern: "full_house"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, u)
			case apperr.CodeOf(err) == "already_won":
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, winners, 1)
	assert.Equal(t, len(users)-1, rejected)

	w, err := h.mem.GetWin(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], w.UserID)
	assert.Equal(t, int64(45), w.PrizeAmount)
}

func TestClaimValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res := h.join(t, "u1", 7)
	h.join(t, "u2", 12)

	_, err := h.c.Claim(ctx, ClaimRequest{SessionID: res.SessionID, UserID: "u1", Pattern: "horizontal"})
	assert.Equal(t, "game_not_started", apperr.CodeOf(err))

	h.clock.Advance(50 * time.Second)
	_, err = h.c.Claim(ctx, ClaimRequest{SessionID: res.SessionID, UserID: "stranger", Pattern: "horizontal"})
	assert.Equal(t, apperr.KindNotAParticipant, apperr.KindOf(err))
	// the overdue countdown was applied by the claim
	assert.Equal(t, store.SessionActive, h.c.room(res.SessionID).sess.Status)

	_, err = h.c.Claim(ctx, ClaimRequest{SessionID: res.SessionID, UserID: "u1", Pattern: "zigzag"})
	assert.Equal(t, "unknown_pattern", apperr.CodeOf(err))

	_, err = h.c.Claim(ctx, ClaimRequest{SessionID: res.SessionID, UserID: "u1", Pattern: "horizontal", CardNo: 12})
	assert.Equal(t, "card_mismatch", apperr.CodeOf(err))

	_, err = h.c.Claim(ctx, ClaimRequest{SessionID: res.SessionID, UserID: "u1", Pattern: "horizontal", CalledNumbers: []int{1, 2, 3, 4, 5}})
	assert.Equal(t, "invalid_claim", apperr.CodeOf(err))
	assert.True(t, apperr.IsInvalid(err))

	_, err = h.c.Claim(ctx, ClaimRequest{SessionID: 999, UserID: "u1", Pattern: "horizontal"})
	assert.True(t, apperr.IsNotFound(err), "got %v", err)
}

func TestUnverifiedClaimTrustsClientSnapshot(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.VerifyClaims = false })
	rm := h.start(t)
	res, err := h.c.Claim(context.Background(), ClaimRequest{SessionID: rm.sess.ID, UserID: "u2", Pattern: "corners"})
	require.NoError(t, err)
	assert.Equal(t, "u2", res.Win.WinnerID)
	assert.Empty(t, res.Win.CalledNumbers)
}

func TestCountdownCancelsWhenPlayersLeave(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res := h.join(t, "u1", 7)
	h.join(t, "u2", 12)

	require.NoError(t, h.c.Leave(ctx, res.SessionID, "u2"))
	err := h.c.Leave(ctx, res.SessionID, "u2")
	assert.Equal(t, apperr.KindNotAParticipant, apperr.KindOf(err))

	h.clock.Advance(50 * time.Second)
	h.c.Sweep(ctx)
	rm := h.c.room(res.SessionID)
	require.Equal(t, store.SessionCancelled, rm.sess.Status)
	assert.Len(t, events(rm, EventGameCancelled), 1)

	h.settle()
	_, refunded, _ := h.wallet.snapshot()
	assert.Equal(t, map[string]int64{"u1": 10, "u2": 10}, refunded)
	assert.ElementsMatch(t, []int{7, 12}, h.cards.list())

	next := h.join(t, "u3", 9)
	assert.NotEqual(t, res.SessionID, next.SessionID)

	_, err = h.c.Claim(ctx, ClaimRequest{SessionID: res.SessionID, UserID: "u1", Pattern: "horizontal"})
	assert.Equal(t, "game_ended", apperr.CodeOf(err))
}

func TestLeaveRejectedOnceGameRuns(t *testing.T) {
	h := newHarness(t, nil)
	rm := h.start(t)
	err := h.c.Leave(context.Background(), rm.sess.ID, "u1")
	assert.Equal(t, "game_in_progress", apperr.CodeOf(err))
}

func TestPoolExhaustionFinishesWithoutWinner(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.PoolSize = 3 })
	rm := h.start(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.True(t, h.c.callNext(ctx, rm))
	}
	require.False(t, h.c.callNext(ctx, rm))
	assert.Equal(t, store.SessionFinished, rm.sess.Status)
	assert.Empty(t, rm.sess.WinnerID)

	finished := events(rm, EventGameFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, "pool_exhausted", finished[0].Data.(map[string]any)["reason"])

	_, err := h.c.Claim(ctx, ClaimRequest{SessionID: rm.sess.ID, UserID: "u1", Pattern: "horizontal"})
	assert.Equal(t, "game_ended", apperr.CodeOf(err))

	h.settle()
	_, refunded, _ := h.wallet.snapshot()
	assert.Equal(t, map[string]int64{"u1": 10, "u2": 10}, refunded)
}

func TestFailedAppendLeavesNumbersUntouched(t *testing.T) {
	h := newHarness(t, nil)
	rm := h.start(t)
	ctx := context.Background()
	h.mem.Fail = func(op string) error {
		if op == "append_called" {
			return errors.New("disk full")
		}
		return nil
	}
	require.True(t, h.c.callNext(ctx, rm))
	assert.Empty(t, rm.sess.CalledNumbers)
	assert.Empty(t, events(rm, EventNumberCalled))

	h.mem.Fail = nil
	require.True(t, h.c.callNext(ctx, rm))
	assert.Equal(t, rowFirst(1), rm.sess.CalledNumbers)
}

func TestStatusOnlyMovesForward(t *testing.T) {
	h := newHarness(t, nil)
	rm := h.start(t)
	ctx := context.Background()

	unlock, err := rm.lock.Lock(ctx)
	require.NoError(t, err)
	back := rm.sess
	back.Status = store.SessionCountdown
	err = h.c.transition(ctx, rm, back, nil)
	unlock()
	assert.Equal(t, "invalid_transition", apperr.CodeOf(err))
	assert.Equal(t, store.SessionActive, rm.sess.Status)
}

func TestSnapshotReportsCountdownAndStart(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res := h.join(t, "u1", 7)
	h.join(t, "u2", 12)

	h.clock.Advance(20 * time.Second)
	v, err := h.c.Snapshot(ctx, Ref{Code: res.Code}, "u1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCountdown, v.Status)
	assert.Equal(t, 30, v.CountdownRemaining)
	assert.False(t, v.ShouldStartGame)
	require.NotNil(t, v.You)
	assert.Equal(t, 7, v.You.CardNumber)
	assert.Len(t, v.Players, 2)

	h.clock.Advance(30 * time.Second)
	v, err = h.c.Snapshot(ctx, Ref{ID: res.SessionID}, "")
	require.NoError(t, err)
	assert.Equal(t, store.SessionActive, v.Status)
	assert.True(t, v.ShouldStartGame)
	assert.Nil(t, v.You)
}

func TestSweepReleasesSettledRooms(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.PoolSize = 1
		o.Retention = time.Minute
	})
	rm := h.start(t)
	ctx := context.Background()
	require.True(t, h.c.callNext(ctx, rm))
	require.False(t, h.c.callNext(ctx, rm))

	_, ch := rm.buffer.SubscribeAfter("")
	h.clock.Advance(2 * time.Minute)
	h.c.Sweep(ctx)
	require.NotNil(t, h.c.room(rm.sess.ID), "room with a live subscriber is kept")

	rm.buffer.Unsubscribe(ch)
	h.c.Sweep(ctx)
	require.Nil(t, h.c.room(rm.sess.ID))

	v, err := h.c.Snapshot(ctx, Ref{ID: rm.sess.ID}, "u1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionFinished, v.Status)
	assert.Len(t, v.CalledNumbers, 1)
}

func TestRecoverSettlesUnfinishedSessions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess, err := h.mem.CreateSession(ctx, store.Session{Code: "ABC234", Stake: 10, Status: store.SessionWaiting})
	require.NoError(t, err)
	require.NoError(t, h.mem.SavePlayer(ctx, store.Player{SessionID: sess.ID, UserID: "u1", Status: store.PlayerReady, CardNo: 3, StakeRef: "r1"}))

	n, err := h.c.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.mem.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCancelled, got.Status)
	_, refunded, _ := h.wallet.snapshot()
	assert.Equal(t, int64(10), refunded["u1"])
	assert.Equal(t, []int{3}, h.cards.list())
}
