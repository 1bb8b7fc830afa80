// Package maintenance runs periodic housekeeping against the store.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval is how often expired cache rows are removed.
const DefaultInterval = time.Hour

// ExpiredSweeper deletes expired cache rows.
type ExpiredSweeper interface {
	SweepExpired() (int64, error)
}

// SweepCounter counts removed rows.
type SweepCounter interface {
	CacheSwept(n int64)
}

// Sweeper removes expired cache entries on an interval.
type Sweeper struct {
	store    ExpiredSweeper
	counter  SweepCounter
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. If interval is <= 0, it defaults to one hour.
// counter may be nil.
func NewSweeper(store ExpiredSweeper, counter SweepCounter, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:    store,
		counter:  counter,
		interval: interval,
		logger:   slog.Default().With("component", "sweeper"),
	}
}

// Interval returns the configured sweep interval.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// Run sweeps once immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("cache sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce removes every expired row and returns how many were deleted.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.store.SweepExpired()
	if err != nil {
		return 0, fmt.Errorf("sweeping expired cache entries: %w", err)
	}
	if s.counter != nil {
		s.counter.CacheSwept(n)
	}
	if n > 0 {
		s.logger.Info("expired cache entries removed", "count", n)
	}
	return n, nil
}
