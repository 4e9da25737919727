// Package scheduler triggers periodic routing passes over stale
// conversations. A file lock keeps multiple replydesk processes from
// double-evaluating the same journal.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/registry"
)

// Checker is the engine surface the scheduler drives.
type Checker interface {
	CheckNow(ctx context.Context) (int, error)
}

// Pruner trims aged-out journal records after a check pass.
type Pruner interface {
	PruneDecisions(olderThan time.Duration) (int64, error)
}

// Scheduler periodically submits a check pass into the engine loop.
type Scheduler struct {
	cfg    config.SchedulerConfig
	bridge *registry.Bridge
	pruner Pruner
	sem    *Semaphore
	lock   *RunLock

	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

// New creates a Scheduler. pruner may be nil to skip journal retention.
func New(cfg config.SchedulerConfig, bridge *registry.Bridge, pruner Pruner) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	home, _ := os.UserHomeDir()
	lockPath := filepath.Join(home, ".replydesk", "scheduler.lock")
	os.MkdirAll(filepath.Dir(lockPath), 0755)

	return &Scheduler{
		cfg:    cfg,
		bridge: bridge,
		pruner: pruner,
		sem:    NewSemaphore(cfg.MaxConcurrent),
		lock:   NewRunLock(lockPath),
		now:    time.Now,
	}
}

// Run starts the tick loop. Blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	slog.Info("Scheduler started", "tick", s.cfg.TickInterval, "check_interval", s.cfg.CheckInterval)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick runs a check pass when the check interval has elapsed. The file
// lock is held for the duration so concurrent processes skip the tick.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if !s.due(now) {
		return
	}

	acquired, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("Scheduler lock error", "error", err)
		return
	}
	if !acquired {
		slog.Debug("Scheduler tick skipped: lock held by another process")
		return
	}
	defer s.lock.Unlock()

	if !s.sem.TryAcquire() {
		slog.Warn("Scheduler check skipped: concurrency limit")
		return
	}
	defer s.sem.Release()

	s.markChecked(now)
	evaluated, err := s.runCheck(ctx)
	if err != nil {
		slog.Warn("Scheduled check failed", "error", err)
		return
	}
	slog.Info("Scheduled check complete", "evaluated", evaluated)

	s.pruneJournal()
}

// pruneJournal drops decision records past the retention window.
func (s *Scheduler) pruneJournal() {
	if s.pruner == nil || s.cfg.RetainDecisions <= 0 {
		return
	}
	pruned, err := s.pruner.PruneDecisions(s.cfg.RetainDecisions)
	if err != nil {
		slog.Warn("Journal retention pass failed", "error", err)
		return
	}
	if pruned > 0 {
		slog.Info("Pruned aged-out decisions", "count", pruned, "retention", s.cfg.RetainDecisions)
	}
}

// runCheck marshals the check into the engine loop via the bridge.
func (s *Scheduler) runCheck(ctx context.Context) (int, error) {
	v, err := s.bridge.Submit(ctx, func(ctx context.Context) (any, error) {
		handle, ok := s.bridge.Resolve()
		if !ok {
			return 0, registry.ErrNotReady
		}
		checker, ok := handle.(Checker)
		if !ok {
			return 0, registry.ErrNotReady
		}
		return checker.CheckNow(ctx)
	})
	if err != nil {
		return 0, err
	}
	n, _ := v.(int)
	return n, nil
}

func (s *Scheduler) due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCheck.IsZero() || now.Sub(s.lastCheck) >= s.cfg.CheckInterval
}

func (s *Scheduler) markChecked(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck = now
}
