// Package audit records card history off the request path.
package audit

import (
	"context"
	"expvar"
	"sync"
	"time"

	"bingo-coordinator/internal/events"
	"bingo-coordinator/internal/store"

	"github.com/rs/zerolog/log"
)

const EventCardHistory = "card_history"

var (
	metricDropped = expvar.NewInt("audit_dropped_total")
	metricFailed  = expvar.NewInt("audit_failed_total")
)

type Repository interface {
	AppendCardHistory(ctx context.Context, h store.CardHistory) error
}

// Sink queues history records for a single writer goroutine. Record never
// blocks: when the queue is full the record is dropped and counted.
type Sink struct {
	repo  Repository
	pub   events.Publisher
	queue chan store.CardHistory
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
	start  sync.Once
}

func NewSink(repo Repository, pub events.Publisher, size int) *Sink {
	if size <= 0 {
		size = 1024
	}
	return &Sink{
		repo:  repo,
		pub:   pub,
		queue: make(chan store.CardHistory, size),
		done:  make(chan struct{}),
	}
}

func (s *Sink) Start() {
	s.start.Do(func() { go s.run() })
}

func (s *Sink) Record(h store.CardHistory) {
	if h.ID == "" {
		h.ID = store.NewID()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metricDropped.Add(1)
		return
	}
	select {
	case s.queue <- h:
	default:
		metricDropped.Add(1)
		log.Warn().Int("card_no", h.CardNo).Str("action", string(h.Action)).Msg("audit queue full, record dropped")
	}
}

// Close stops accepting records and waits for the queue to drain.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.Start()
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for h := range s.queue {
		s.write(h)
	}
}

func (s *Sink) write(h store.CardHistory) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.AppendCardHistory(ctx, h); err != nil {
		metricFailed.Add(1)
		log.Warn().Err(err).Int("card_no", h.CardNo).Str("user_id", h.UserID).Str("action", string(h.Action)).Msg("card history append failed")
	}
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, EventCardHistory, h.UserID, h); err != nil {
		log.Warn().Err(err).Int("card_no", h.CardNo).Msg("card history publish failed")
	}
}
