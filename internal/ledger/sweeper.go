package ledger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Sweeper periodically deletes hour buckets too old to affect a rate
// decision. The rate check only ever reads the current hour, so any
// bucket older than the retention window is dead weight.
type Sweeper struct {
	store    Store
	interval time.Duration
	retain   time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a bucket sweeper with a 10 minute cadence and a
// two hour retention window.
func NewSweeper(store Store, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: 10 * time.Minute,
		retain:   2 * time.Hour,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.store.SweepExpired(ctx, time.Now().Add(-s.retain))
	if err != nil {
		s.logger.Warn("hour bucket sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("swept expired hour buckets", "removed", removed)
	}
}
