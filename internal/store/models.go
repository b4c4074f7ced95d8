package store

import "time"

type CardStatus string

const (
	CardAvailable CardStatus = "available"
	CardHeld      CardStatus = "held"
	CardCommitted CardStatus = "committed"
)

// Card is one entry of the fixed catalogue. HolderID and HoldExpiresAt are
// both empty exactly when the card is available.
type Card struct {
	No            int        `json:"cardId"`
	Status        CardStatus `json:"status"`
	HolderID      string     `json:"holderId,omitempty"`
	HoldExpiresAt *time.Time `json:"holdExpiresAt,omitempty"`
	SessionID     int64      `json:"sessionId,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Expired reports whether a held card's hold has lapsed at now.
func (c Card) Expired(now time.Time) bool {
	return c.Status == CardHeld && c.HoldExpiresAt != nil && !now.Before(*c.HoldExpiresAt)
}

type CardAction string

const (
	ActionHold        CardAction = "hold"
	ActionRenew       CardAction = "renew"
	ActionRelease     CardAction = "release"
	ActionAutoRelease CardAction = "auto_release"
	ActionExpire      CardAction = "expire"
	ActionCommit      CardAction = "commit"
	ActionReturn      CardAction = "return"
)

type CardHistory struct {
	ID        string     `json:"id"`
	CardNo    int        `json:"cardId"`
	UserID    string     `json:"userId"`
	Action    CardAction `json:"action"`
	SessionID int64      `json:"sessionId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type SessionStatus string

const (
	SessionWaiting   SessionStatus = "waiting"
	SessionCountdown SessionStatus = "countdown"
	SessionActive    SessionStatus = "active"
	SessionFinished  SessionStatus = "finished"
	SessionCancelled SessionStatus = "cancelled"
)

func (s SessionStatus) rank() int {
	switch s {
	case SessionWaiting:
		return 0
	case SessionCountdown:
		return 1
	case SessionActive:
		return 2
	case SessionFinished, SessionCancelled:
		return 3
	default:
		return -1
	}
}

func (s SessionStatus) Terminal() bool {
	return s == SessionFinished || s == SessionCancelled
}

func (s SessionStatus) Open() bool {
	return s == SessionWaiting || s == SessionCountdown
}

// CanTransition enforces the forward-only lifecycle. Cancellation is only
// reachable from the pre-game states.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.Terminal() || next.rank() <= s.rank() {
		return false
	}
	switch next {
	case SessionCountdown:
		return s == SessionWaiting
	case SessionActive:
		return s == SessionCountdown
	case SessionCancelled:
		return s.Open()
	case SessionFinished:
		return s == SessionActive
	}
	return false
}

type Session struct {
	ID                int64         `json:"sessionId"`
	Code              string        `json:"code"`
	Stake             int64         `json:"stake"`
	Status            SessionStatus `json:"status"`
	CountdownDeadline *time.Time    `json:"countdownDeadline,omitempty"`
	WinnerID          string        `json:"winnerId,omitempty"`
	WinningPattern    string        `json:"winningPattern,omitempty"`
	CalledNumbers     []int         `json:"calledNumbers"`
	CreatedAt         time.Time     `json:"createdAt"`
	StartedAt         *time.Time    `json:"startedAt,omitempty"`
	FinishedAt        *time.Time    `json:"finishedAt,omitempty"`
}

type PlayerStatus string

const (
	PlayerWaiting  PlayerStatus = "waiting"
	PlayerReady    PlayerStatus = "ready"
	PlayerPlaying  PlayerStatus = "playing"
	PlayerWinner   PlayerStatus = "winner"
	PlayerFinished PlayerStatus = "finished"
)

// Active reports whether the player still takes part in the game.
func (s PlayerStatus) Active() bool {
	return s == PlayerReady || s == PlayerPlaying
}

type Player struct {
	SessionID int64        `json:"sessionId"`
	UserID    string       `json:"userId"`
	Status    PlayerStatus `json:"status"`
	CardNo    int          `json:"cardNumber"`
	StakeRef  string       `json:"-"`
	JoinedAt  time.Time    `json:"joinedAt"`
	LeftAt    *time.Time   `json:"leftAt,omitempty"`
}

// PlayerTransition moves every player in one of From to To inside the same
// write as a session status change.
type PlayerTransition struct {
	From []PlayerStatus
	To   PlayerStatus
}

func (pt *PlayerTransition) Applies(s PlayerStatus) bool {
	if pt == nil {
		return false
	}
	for _, f := range pt.From {
		if f == s {
			return true
		}
	}
	return false
}

type Win struct {
	SessionID      int64     `json:"sessionId"`
	UserID         string    `json:"userId"`
	CardNo         int       `json:"cardNumber"`
	WinType        string    `json:"winType"`
	Pattern        []int     `json:"pattern"`
	CalledNumbers  []int     `json:"calledNumbers"`
	ClaimedNumbers []int     `json:"claimedNumbers,omitempty"`
	PrizeAmount    int64     `json:"prizeAmount"`
	DeclaredAt     time.Time `json:"declaredAt"`
}

type Account struct {
	UserID    string    `json:"userId"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type LedgerEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	RefType   string    `json:"refType"`
	RefID     string    `json:"refId"`
	CreatedAt time.Time `json:"createdAt"`
}
