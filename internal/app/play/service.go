// Package play is the application surface the transports call: it wires
// card reservations to session joins and validates input against the
// ruleset.
package play

import (
	"context"

	"bingo-coordinator/internal/apperr"
	"bingo-coordinator/internal/bingo"
	"bingo-coordinator/internal/config"
	"bingo-coordinator/internal/ledger"
	"bingo-coordinator/internal/reservation"
	"bingo-coordinator/internal/session"
	"bingo-coordinator/internal/store"
)

type Records interface {
	ListCardHistory(ctx context.Context, cardNo, limit int) ([]store.CardHistory, error)
	ListLedgerEntries(ctx context.Context, f store.LedgerFilter, limit, offset int) ([]store.LedgerEntry, error)
}

type Service struct {
	cards    *reservation.Ledger
	sessions *session.Coordinator
	catalog  *bingo.Catalog
	wallet   *ledger.Ledger
	records  Records
	rules    config.Ruleset
}

func NewService(cards *reservation.Ledger, sessions *session.Coordinator, catalog *bingo.Catalog, wallet *ledger.Ledger, records Records, rules config.Ruleset) *Service {
	return &Service{cards: cards, sessions: sessions, catalog: catalog, wallet: wallet, records: records, rules: rules}
}

func (s *Service) card(cardNo int) error {
	if !s.catalog.Valid(cardNo) {
		return apperr.NotFound("card_not_found")
	}
	return nil
}

func (s *Service) Hold(ctx context.Context, userID string, cardNo int) (reservation.Hold, error) {
	if err := s.card(cardNo); err != nil {
		return reservation.Hold{}, err
	}
	return s.cards.TryHold(ctx, cardNo, userID)
}

func (s *Service) Release(ctx context.Context, userID string, cardNo int) (reservation.Release, error) {
	if err := s.card(cardNo); err != nil {
		return reservation.Release{}, err
	}
	return s.cards.Release(ctx, cardNo, userID)
}

// Commit turns the user's hold into a seat in the open session for the
// stake. A zero stake picks the ruleset's first stake.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (session.JoinResult, error) {
	if err := s.card(req.CardNo); err != nil {
		return session.JoinResult{}, err
	}
	if req.Stake == 0 && len(s.rules.Stakes) > 0 {
		req.Stake = s.rules.Stakes[0].Amount
	}
	if !s.rules.HasStake(req.Stake) {
		return session.JoinResult{}, apperr.Invalid("unknown_stake", "stake is not offered")
	}
	if err := s.checkPayload(req.CardNo, req.Payload); err != nil {
		return session.JoinResult{}, err
	}

	var joined *session.JoinResult
	bind := func(ctx context.Context, _ store.Card) (reservation.Binding, error) {
		res, err := s.sessions.Join(ctx, session.JoinRequest{UserID: req.UserID, CardNo: req.CardNo, Stake: req.Stake})
		if err != nil {
			return reservation.Binding{}, err
		}
		joined = &res
		return reservation.Binding{
			SessionID: res.SessionID,
			Undo: func(ctx context.Context) {
				s.sessions.RevertJoin(ctx, res.SessionID, req.UserID)
			},
		}, nil
	}
	card, err := s.cards.Commit(ctx, req.CardNo, req.UserID, bind)
	if err != nil {
		return session.JoinResult{}, err
	}
	if joined != nil && joined.SessionID == card.SessionID {
		return *joined, nil
	}
	// Already committed by this user earlier: report the existing seat.
	view, err := s.sessions.Snapshot(ctx, session.Ref{ID: card.SessionID}, req.UserID)
	if err != nil {
		return session.JoinResult{}, err
	}
	return session.JoinResult{
		SessionID: view.SessionID,
		Code:      view.Code,
		CardNo:    card.No,
		Stake:     view.Stake,
		Status:    view.Status,
	}, nil
}

func (s *Service) checkPayload(cardNo int, p *CardLayout) error {
	if p == nil {
		return nil
	}
	if p.CardNo != 0 && p.CardNo != cardNo {
		return apperr.Invalid("card_payload_mismatch", "cardPayload is for another card")
	}
	if p.Grid != s.catalog.Layout(cardNo).Rows() {
		return apperr.Invalid("card_payload_mismatch", "cardPayload does not match the card layout")
	}
	return nil
}

func (s *Service) Leave(ctx context.Context, userID string, sessionID int64) error {
	return s.sessions.Leave(ctx, sessionID, userID)
}

func (s *Service) Claim(ctx context.Context, req session.ClaimRequest) (session.ClaimResult, error) {
	return s.sessions.Claim(ctx, req)
}

func (s *Service) Session(ctx context.Context, ref session.Ref, userID string) (session.View, error) {
	if ref.ID == 0 && ref.Code == "" {
		return session.View{}, apperr.Invalid("missing_session", "id or code is required")
	}
	return s.sessions.Snapshot(ctx, ref, userID)
}

func (s *Service) Stream(ref session.Ref) (*session.EventBuffer, error) {
	return s.sessions.Buffer(ref)
}

func (s *Service) Cards() CardsResponse {
	cards := s.cards.Cards()
	items := make([]CardItem, 0, len(cards))
	for _, c := range cards {
		items = append(items, CardItem{
			CardNo:        c.No,
			Status:        c.Status,
			HolderID:      c.HolderID,
			HoldExpiresAt: c.HoldExpiresAt,
			SessionID:     c.SessionID,
		})
	}
	return CardsResponse{Items: items, HoldTTL: int(s.cards.HoldTTL().Seconds())}
}

func (s *Service) Layout(cardNo int) (CardLayout, error) {
	if err := s.card(cardNo); err != nil {
		return CardLayout{}, err
	}
	return CardLayout{CardNo: cardNo, Grid: s.catalog.Layout(cardNo).Rows(), Free: bingo.FreeCell}, nil
}

func (s *Service) Rules() RulesResponse {
	out := RulesResponse{Patterns: append([]string(nil), s.rules.Patterns...)}
	for _, st := range s.rules.Stakes {
		out.Stakes = append(out.Stakes, StakeItem{Amount: st.Amount, Name: st.Name})
	}
	return out
}

func (s *Service) CardHistory(ctx context.Context, cardNo, limit int) ([]store.CardHistory, error) {
	if err := s.card(cardNo); err != nil {
		return nil, err
	}
	items, err := s.records.ListCardHistory(ctx, cardNo, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return items, nil
}

func (s *Service) LedgerEntries(ctx context.Context, f store.LedgerFilter, limit, offset int) ([]store.LedgerEntry, error) {
	items, err := s.records.ListLedgerEntries(ctx, f, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return items, nil
}

func (s *Service) Topup(ctx context.Context, userID, ref string, amount int64) (TopupResponse, error) {
	if userID == "" || ref == "" {
		return TopupResponse{}, apperr.Invalid("invalid_request", "userId and ref are required")
	}
	bal, err := s.wallet.Topup(ctx, userID, ref, amount)
	if err != nil {
		return TopupResponse{}, err
	}
	return TopupResponse{UserID: userID, Balance: bal}, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (TopupResponse, error) {
	bal, err := s.wallet.Balance(ctx, userID)
	if err != nil {
		return TopupResponse{}, err
	}
	return TopupResponse{UserID: userID, Balance: bal}, nil
}
