package session

import (
	"context"
	"time"

	"bingo-coordinator/internal/bingo"
	"bingo-coordinator/internal/store"
)

const (
	EventPlayerJoined     = "player-joined"
	EventPlayerLeft       = "player-left"
	EventCountdownStarted = "countdown-started"
	EventGameStarted      = "game-started"
	EventNumberCalled     = "number-called"
	EventWinner           = "winner"
	EventGameFinished     = "game-finished"
	EventGameCancelled    = "game-cancelled"
)

type Repository interface {
	CreateSession(ctx context.Context, s store.Session) (store.Session, error)
	TransitionSession(ctx context.Context, prev store.SessionStatus, next store.Session, pt *store.PlayerTransition) error
	AppendCalledNumber(ctx context.Context, sessionID int64, seq, n int) error
	SavePlayer(ctx context.Context, p store.Player) error
	FinalizeWin(ctx context.Context, w store.Win) error
	GetSession(ctx context.Context, id int64) (*store.Session, error)
	GetSessionByCode(ctx context.Context, code string) (*store.Session, error)
	ListSessionsByStatus(ctx context.Context, statuses ...store.SessionStatus) ([]store.Session, error)
	ListPlayers(ctx context.Context, sessionID int64) ([]store.Player, error)
	GetWin(ctx context.Context, sessionID int64) (*store.Win, error)
}

// Wallet moves stakes and prizes. ref identifies one join so a refund pairs
// with exactly one debit.
type Wallet interface {
	DebitStake(ctx context.Context, userID, ref string, amount int64) error
	RefundStake(ctx context.Context, userID, ref string, amount int64) error
	CreditPrize(ctx context.Context, userID string, sessionID, amount int64) error
}

// CardReturner puts a committed card back into circulation.
type CardReturner interface {
	ReturnCommitted(ctx context.Context, cardNo int, sessionID int64) error
}

type Notifier interface {
	NotifyUser(ctx context.Context, userID, kind string, data any)
	NotifyAdmins(ctx context.Context, kind string, data any)
}

type Layouts interface {
	Layout(cardNo int) bingo.Layout
}

type Options struct {
	MinPlayers      int
	CountdownWindow time.Duration
	CallInterval    time.Duration
	PoolSize        int
	LockWait        time.Duration
	Retries         int
	HouseCutPct     int
	VerifyClaims    bool
	Retention       time.Duration
	Stakes          []int64
	Patterns        []bingo.Pattern
	BufferSize      int
	Now             func() time.Time
	Shuffle         bingo.Shuffler
}

func (o *Options) withDefaults() {
	if o.MinPlayers <= 0 {
		o.MinPlayers = 2
	}
	if o.CountdownWindow <= 0 {
		o.CountdownWindow = 50 * time.Second
	}
	if o.CallInterval <= 0 {
		o.CallInterval = 10 * time.Second
	}
	if o.PoolSize <= 0 || o.PoolSize > bingo.MaxBall {
		o.PoolSize = bingo.MaxBall
	}
	if o.Retention <= 0 {
		o.Retention = 2 * time.Minute
	}
	if len(o.Patterns) == 0 {
		o.Patterns = bingo.AllPatterns
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 1024
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Shuffle == nil {
		o.Shuffle = bingo.SecureShuffle
	}
}

type JoinRequest struct {
	UserID string
	CardNo int
	Stake  int64
}

type JoinResult struct {
	SessionID int64               `json:"sessionId"`
	Code      string              `json:"sessionCode"`
	CardNo    int                 `json:"cardNumber"`
	Stake     int64               `json:"stake"`
	Status    store.SessionStatus `json:"status"`
}

type ClaimRequest struct {
	SessionID     int64
	UserID        string
	Pattern       string
	CalledNumbers []int
	CardNo        int
}

type WinDetails struct {
	SessionID     int64     `json:"sessionId"`
	WinnerID      string    `json:"winnerId"`
	CardNumber    int       `json:"cardNumber"`
	Pattern       string    `json:"pattern"`
	Cells         []int     `json:"cells"`
	CalledNumbers []int     `json:"calledNumbers"`
	WinAmount     int64     `json:"winAmount"`
	Position      int       `json:"position"`
	DeclaredAt    time.Time `json:"declaredAt"`
}

type ClaimResult struct {
	Win          WinDetails `json:"winDetails"`
	Announcement string     `json:"announcement"`
}

// Rejection is the detail attached to already_won and game_ended errors.
type Rejection struct {
	Reason string      `json:"reason"`
	Winner *WinDetails `json:"winner,omitempty"`
}

type PlayerView struct {
	UserID     string             `json:"userId"`
	Status     store.PlayerStatus `json:"status"`
	CardNumber int                `json:"cardNumber"`
	JoinedAt   time.Time          `json:"joinedAt"`
}

type View struct {
	SessionID          int64               `json:"sessionId"`
	Code               string              `json:"code"`
	Stake              int64               `json:"stake"`
	Status             store.SessionStatus `json:"status"`
	CountdownDeadline  *time.Time          `json:"countdownDeadline,omitempty"`
	CountdownRemaining int                 `json:"countdownRemaining"`
	Players            []PlayerView        `json:"players"`
	CalledNumbers      []int               `json:"calledNumbers"`
	ShouldStartGame    bool                `json:"shouldStartGame"`
	Winner             *WinDetails         `json:"winner,omitempty"`
	You                *PlayerView         `json:"you,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
	StartedAt          *time.Time          `json:"startedAt,omitempty"`
	FinishedAt         *time.Time          `json:"finishedAt,omitempty"`
	ServerTime         time.Time           `json:"serverTime"`
}

func winDetails(w *store.Win) *WinDetails {
	if w == nil {
		return nil
	}
	return &WinDetails{
		SessionID:     w.SessionID,
		WinnerID:      w.UserID,
		CardNumber:    w.CardNo,
		Pattern:       w.WinType,
		Cells:         append([]int(nil), w.Pattern...),
		CalledNumbers: append([]int(nil), w.CalledNumbers...),
		WinAmount:     w.PrizeAmount,
		Position:      1,
		DeclaredAt:    w.DeclaredAt,
	}
}
