package rag

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/okulov/ragserver/internal/store"
)

// sweepTimeout bounds one sweep's store transaction.
const sweepTimeout = 30 * time.Second

// Sweeper periodically removes expired sessions from the store and
// invalidates the corresponding cached pipelines. It has two states, idle
// and sweeping: overlapping triggers (a tick racing a manual trigger)
// collapse into the one run already in flight.
//
// Only the store-level delete is transactional; cache invalidation happens
// afterwards under the cache's own lock, so a sweep never blocks request
// traffic for its full duration.
type Sweeper struct {
	repo     store.Repository
	svc      *Service
	interval time.Duration
	sweeping atomic.Bool
}

// NewSweeper creates a sweeper over the given store and orchestrator.
func NewSweeper(repo store.Repository, svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{repo: repo, svc: svc, interval: interval}
}

// Start runs the sweep loop in a background goroutine until ctx is
// cancelled. Each run's store delete is one atomic transaction, so shutdown
// mid-interval never leaves a half-applied deletion.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Expiry sweeper started", "interval", s.interval)

		for {
			select {
			case <-ticker.C:
				if _, err := s.SweepNow(ctx); err != nil {
					slog.Error("Expiry sweep failed", "error", err)
				}
			case <-ctx.Done():
				slog.Info("Expiry sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// SweepNow performs one sweep: expired sessions are deleted from the store
// and their pipelines dropped from the cache. Returns the removed session
// ids. If a sweep is already in flight, it returns immediately with no ids.
func (s *Sweeper) SweepNow(ctx context.Context) ([]string, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer s.sweeping.Store(false)

	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	removed, err := s.repo.CleanupExpired(ctx)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.svc.OnExpired(removed)
		slog.Info("Expiry sweep removed sessions", "count", len(removed))
	}
	return removed, nil
}
