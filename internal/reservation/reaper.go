package reservation

import (
	"context"
	"time"

	"bingo-coordinator/internal/store"

	"github.com/rs/zerolog/log"
)

// ReapExpired frees every hold whose expiry has passed and returns how many
// it released. It takes one row lock at a time.
func (l *Ledger) ReapExpired(ctx context.Context) (int, error) {
	now := l.now()
	var due []int
	l.mu.RLock()
	for no, c := range l.cards {
		if c.Expired(now) {
			due = append(due, no)
		}
	}
	l.mu.RUnlock()

	var (
		n        int
		firstErr error
	)
	for _, no := range due {
		freed, err := l.reapOne(ctx, no)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Warn().Err(err).Int("card_no", no).Msg("reap hold failed")
			continue
		}
		if freed {
			n++
		}
	}
	metricHoldsExpired.Add(int64(n))
	return n, firstErr
}

func (l *Ledger) reapOne(ctx context.Context, cardNo int) (bool, error) {
	unlock, err := l.locks.Lock(ctx, cardNo)
	if err != nil {
		return false, err
	}
	defer unlock()

	cur, ok := l.Card(cardNo)
	now := l.now()
	if !ok || !cur.Expired(now) {
		return false, nil
	}
	if err := l.save(ctx, cur, available(cur, now)); err != nil {
		return false, err
	}
	l.record(cardNo, cur.HolderID, store.ActionExpire, 0, now)
	return true, nil
}

// StartReaper runs ReapExpired on every tick until ctx is done.
func (l *Ledger) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := l.ReapExpired(ctx)
				if n > 0 {
					log.Debug().Int("released", n).Msg("expired holds reaped")
				}
				if err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("reaper pass incomplete")
				}
			}
		}
	}()
}
