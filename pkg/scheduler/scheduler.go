// Package scheduler periodically triggers snapshot builds and enforces
// the single-builder invariant by checking the snapshot lock before
// bothering to fire one (§4.7).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/caindex/pkg/errs"
	"github.com/cuemby/caindex/pkg/log"
	"github.com/cuemby/caindex/pkg/manager"
	"github.com/cuemby/caindex/pkg/snapshot"
)

// Scheduler fires periodic, fire-and-forget snapshot builds.
type Scheduler struct {
	manager  *manager.Manager
	interval time.Duration
	lockPath string

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// New creates a new Scheduler. interval is the cadence between fires
// (SNAPSHOT_INTERVAL_MINUTES); lockPath must match the path the
// snapshot Builder guards itself with.
func New(mgr *manager.Manager, interval time.Duration, lockPath string) *Scheduler {
	return &Scheduler{
		manager:  mgr,
		interval: interval,
		lockPath: lockPath,
		logger:   log.WithComponent("scheduler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fire()
		case <-s.stopCh:
			return
		}
	}
}

// fire performs one scheduling cycle (§4.7). It never blocks the loop on
// the build itself: a worthwhile fire hands off to a goroutine and
// returns immediately, so a slow build never delays the next tick's
// skip-checks.
func (s *Scheduler) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.LockHeld(s.lockPath) {
		s.logger.Debug().Msg("snapshot lock held, skipping this cycle")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	total, err := s.manager.TotalCount(ctx)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read pointer, skipping this cycle")
		return
	}
	if total == 0 {
		s.logger.Debug().Msg("total_count is 0, skipping this cycle")
		return
	}

	go s.buildOffCriticalPath()
}

func (s *Scheduler) buildOffCriticalPath() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	snap, err := s.manager.TriggerSnapshot(ctx)
	if err != nil {
		if errs.Is(err, errs.KindFatal) {
			s.logger.Error().Err(err).Msg("scheduled snapshot build could not acquire the lock")
			return
		}
		s.logger.Error().Err(err).Msg("scheduled snapshot build failed")
		return
	}
	if snap == nil {
		s.logger.Info().Msg("scheduled snapshot build was a no-op")
		return
	}

	s.logger.Info().Int("seq", snap.Seq).Int("entries", len(snap.Entries)).Msg("scheduled snapshot build completed")
}
