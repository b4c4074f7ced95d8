package store

import (
	"errors"
	"testing"
	"time"
)

func TestCardsSaveAndHistory(t *testing.T) {
	st, ctx, cleanup := openStore(t)
	defer cleanup()

	if err := st.EnsureCards(ctx, 5); err != nil {
		t.Fatalf("ensure cards: %v", err)
	}
	cards, err := st.ListCards(ctx)
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	if len(cards) != 5 || cards[0].Status != CardAvailable {
		t.Fatalf("unexpected cards: %+v", cards)
	}

	exp := time.Now().Add(50 * time.Second).UTC()
	held := Card{No: 3, Status: CardHeld, HolderID: "u1", HoldExpiresAt: &exp, UpdatedAt: time.Now()}
	if err := st.SaveCard(ctx, cards[2], held); err != nil {
		t.Fatalf("save held: %v", err)
	}
	if err := st.SaveCard(ctx, cards[2], held); !errors.Is(err, ErrRowChanged) {
		t.Fatalf("expected ErrRowChanged, got %v", err)
	}

	for _, a := range []CardAction{ActionHold, ActionRelease} {
		if err := st.AppendCardHistory(ctx, CardHistory{CardNo: 3, UserID: "u1", Action: a, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("append history: %v", err)
		}
	}
	items, err := st.ListCardHistory(ctx, 3, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(items) != 2 || items[0].Action != ActionRelease {
		t.Fatalf("unexpected history: %+v", items)
	}
}

func TestSessionCalledNumbersAndWin(t *testing.T) {
	st, ctx, cleanup := openStore(t)
	defer cleanup()
	if err := st.EnsureCards(ctx, 2); err != nil {
		t.Fatalf("ensure cards: %v", err)
	}
	sess := mustActiveSession(t, st, ctx, "PGW001", "a", "b")

	if err := st.AppendCalledNumber(ctx, sess.ID, 0, 12); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendCalledNumber(ctx, sess.ID, 0, 13); !errors.Is(err, ErrRowChanged) {
		t.Fatalf("expected stale sequence to fail, got %v", err)
	}

	w := Win{SessionID: sess.ID, UserID: "a", CardNo: 1, WinType: "horizontal", Pattern: []int{0, 1, 2, 3, 4}, CalledNumbers: []int{12}, DeclaredAt: time.Now()}
	if err := st.FinalizeWin(ctx, w); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	w.UserID = "b"
	if err := st.FinalizeWin(ctx, w); !errors.Is(err, ErrAlreadyWon) {
		t.Fatalf("expected ErrAlreadyWon, got %v", err)
	}
	if err := st.AppendCalledNumber(ctx, sess.ID, 1, 13); !errors.Is(err, ErrRowChanged) {
		t.Fatalf("expected append after finish to fail, got %v", err)
	}

	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != SessionFinished || got.WinnerID != "a" || len(got.CalledNumbers) != 1 {
		t.Fatalf("unexpected session: %+v", got)
	}
	players, err := st.ListPlayers(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list players: %v", err)
	}
	for _, p := range players {
		want := PlayerFinished
		if p.UserID == "a" {
			want = PlayerWinner
		}
		if p.Status != want {
			t.Fatalf("player %s status %s, want %s", p.UserID, p.Status, want)
		}
	}
	win, err := st.GetWin(ctx, sess.ID)
	if err != nil || win.UserID != "a" || len(win.Pattern) != 5 {
		t.Fatalf("unexpected win: %+v err=%v", win, err)
	}
}

func TestAccountsDebitCredit(t *testing.T) {
	st, ctx, cleanup := openStore(t)
	defer cleanup()

	if err := st.EnsureAccount(ctx, "u1", 100); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	bal, err := st.Debit(ctx, "u1", 40, "stake_debit", "session", "1")
	if err != nil || bal != 60 {
		t.Fatalf("debit: bal=%d err=%v", bal, err)
	}
	if _, err := st.Debit(ctx, "u1", 40, "stake_debit", "session", "1"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if _, err := st.Debit(ctx, "u1", 1000, "stake_debit", "session", "2"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	bal, err = st.Credit(ctx, "u2", 25, "prize_credit", "session", "1")
	if err != nil || bal != 25 {
		t.Fatalf("credit: bal=%d err=%v", bal, err)
	}
	items, err := st.ListLedgerEntries(ctx, LedgerFilter{UserID: "u1"}, 10, 0)
	if err != nil || len(items) != 1 {
		t.Fatalf("ledger entries: %+v err=%v", items, err)
	}
}
