package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// Scheduler runs Cleanup on a fixed interval. It is owned by whoever calls
// Run and stops when that context is cancelled.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	// afterRun, if set, sees every scheduled report.
	afterRun func(*CleanupReport)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithAfterRun registers a callback invoked after each scheduled run.
func WithAfterRun(fn func(*CleanupReport)) SchedulerOption {
	return func(sc *Scheduler) { sc.afterRun = fn }
}

// NewScheduler creates a Scheduler for s that ticks every interval.
func (s *Service) NewScheduler(interval time.Duration, opts ...SchedulerOption) *Scheduler {
	sc := &Scheduler{svc: s, interval: interval}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Run blocks, running a cleanup pass on every tick, until ctx is done.
// A failing pass is reported and logged; the next tick still runs.
func (sc *Scheduler) Run(ctx context.Context) error {
	if sc.interval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %v", sc.interval)
	}
	log := sc.svc.log.With("interval", sc.interval.String())
	log.Info("cleanup scheduler started")

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("cleanup scheduler stopped")
			return nil
		case <-ticker.C:
			report := sc.svc.Cleanup(ctx, false, TriggerScheduled)
			if len(report.Errors) > 0 {
				log.Warn("scheduled cleanup had errors", "errors", report.Errors)
			}
			if sc.afterRun != nil {
				sc.afterRun(report)
			}
		}
	}
}
