package play

import (
	"time"

	"bingo-coordinator/internal/bingo"
	"bingo-coordinator/internal/store"
)

type CommitRequest struct {
	UserID string
	CardNo int
	Stake  int64
	// Payload is the card as the client rendered it. Layouts are derived
	// server-side, so it is only compared, never trusted.
	Payload *CardLayout
}

type CardItem struct {
	CardNo        int              `json:"cardId"`
	Status        store.CardStatus `json:"status"`
	HolderID      string           `json:"holderId,omitempty"`
	HoldExpiresAt *time.Time       `json:"holdExpiresAt,omitempty"`
	SessionID     int64            `json:"sessionId,omitempty"`
}

type CardsResponse struct {
	Items   []CardItem `json:"items"`
	HoldTTL int        `json:"holdTtlSeconds"`
}

type CardLayout struct {
	CardNo int                        `json:"cardId"`
	Grid   [bingo.Size][bingo.Size]int `json:"grid"`
	Free   int                        `json:"freeCell"`
}

type StakeItem struct {
	Amount int64  `json:"amount"`
	Name   string `json:"name"`
}

type RulesResponse struct {
	Stakes   []StakeItem `json:"stakes"`
	Patterns []string    `json:"patterns"`
}

type TopupResponse struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}
