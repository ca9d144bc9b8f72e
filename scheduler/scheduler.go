// Package scheduler contains the polling loop that promotes runnable
// tasks and feeds the worker pool.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/conductor/internal/metrics"
	"github.com/hrygo/conductor/scheduler/worker"
	"github.com/hrygo/conductor/store"
)

// Scheduler is the single long-running producer. Each tick it asks the
// store for tasks whose dependencies are all COMPLETED, claims them one
// by one and hands the winners to the worker pool.
type Scheduler struct {
	store    *store.Store
	pool     *worker.Pool
	interval time.Duration
	metrics  *metrics.Collector
}

func New(st *store.Store, pool *worker.Pool, interval time.Duration, collector *metrics.Collector) *Scheduler {
	return &Scheduler{
		store:    st,
		pool:     pool,
		interval: interval,
		metrics:  collector,
	}
}

// Run polls until the context is cancelled. Errors inside an iteration
// are logged and the loop carries on after the next tick; a store
// outage shows up as periodic retries, never as an exit.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler loop started",
		"max_workers", s.pool.Capacity(),
		"poll_interval", s.interval,
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			slog.Info("scheduler loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// runOnce performs a single iteration of the claim-and-dispatch cycle.
func (s *Scheduler) runOnce(ctx context.Context) {
	if s.metrics != nil {
		defer s.metrics.SchedulerIterations.Inc()
	}

	availableSlots := s.pool.AvailableSlots()
	if availableSlots <= 0 {
		slog.Debug("no available worker slots")
		return
	}

	runnable, err := s.store.FindRunnableTasks(ctx, availableSlots)
	if err != nil {
		slog.Error("error finding runnable tasks", "error", err)
		return
	}
	if len(runnable) > 0 {
		slog.Debug("found runnable tasks", "count", len(runnable), "task_ids", runnable)
	}

	for _, taskID := range runnable {
		claimed, err := s.store.ClaimRunning(ctx, taskID)
		if err != nil {
			slog.Error("error claiming task", "task_id", taskID, "error", err)
			continue
		}
		if !claimed {
			// Expected only as a safety net under single-scheduler
			// deployments.
			if s.metrics != nil {
				s.metrics.ClaimConflicts.Inc()
			}
			slog.Debug("task was already claimed", "task_id", taskID)
			continue
		}
		if s.metrics != nil {
			s.metrics.TasksClaimed.Inc()
		}

		t, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			slog.Warn("task not found after claiming", "task_id", taskID, "error", err)
			continue
		}

		if err := s.pool.Submit(t.ID, t.DurationMS); err != nil {
			// The task stays RUNNING; startup recovery requeues it.
			slog.Error("worker pool rejected task", "task_id", t.ID, "error", err)
			continue
		}
		slog.Info("task submitted to worker pool", "task_id", t.ID, "duration_ms", t.DurationMS)
	}
}
