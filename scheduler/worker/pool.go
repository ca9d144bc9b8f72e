// Package worker provides the bounded pool that executes claimed tasks.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/conductor/internal/metrics"
	"github.com/hrygo/conductor/store"
)

// ErrPoolClosed rejects submissions after shutdown has begun.
var ErrPoolClosed = errors.New("worker pool is shut down")

type job struct {
	taskID     string
	durationMS int
}

// Pool runs claimed tasks on a fixed number of worker goroutines. The
// scheduler reads AvailableSlots to bound how much it claims; the count
// tracks submitted minus terminated work, so queued-but-not-yet-started
// jobs occupy a slot too and the queue cannot grow without bound.
type Pool struct {
	store    *store.Store
	metrics  *metrics.Collector
	capacity int

	queue    chan job
	wg       sync.WaitGroup
	inFlight atomic.Int64
	closed   atomic.Bool
}

// NewPool creates a pool of capacity workers. Start must be called
// before Submit.
func NewPool(st *store.Store, collector *metrics.Collector, capacity int) *Pool {
	p := &Pool{
		store:    st,
		metrics:  collector,
		capacity: capacity,
		queue:    make(chan job, capacity),
	}
	if collector != nil {
		collector.PoolCapacity.Set(float64(capacity))
	}
	return p
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.capacity; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	slog.Info("worker pool started", "capacity", p.capacity)
}

// Capacity returns the configured worker count.
func (p *Pool) Capacity() int {
	return p.capacity
}

// AvailableSlots returns how many more tasks the pool can accept
// without queueing beyond its capacity.
func (p *Pool) AvailableSlots() int {
	return p.capacity - int(p.inFlight.Load())
}

// Submit hands a claimed task to the pool. The caller must have
// promoted the task to RUNNING already. Submissions that find the
// queue buffer (capacity entries) full, or arrive after shutdown, are
// rejected; AvailableSlots is not checked here.
func (p *Pool) Submit(taskID string, durationMS int) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.inFlight.Add(1)
	select {
	case p.queue <- job{taskID: taskID, durationMS: durationMS}:
		return nil
	default:
		// The scheduler sizes its claims by AvailableSlots, so a full
		// queue means the caller overran its budget.
		p.inFlight.Add(-1)
		return errors.Errorf("worker queue full, task %s rejected", taskID)
	}
}

// Shutdown stops intake and waits until every accepted task has reached
// a terminal status in the store.
func (p *Pool) Shutdown() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
	slog.Info("worker pool drained")
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()
	for j := range p.queue {
		p.execute(workerID, j)
		p.inFlight.Add(-1)
	}
}

// execute simulates the task body and writes the terminal status. A
// panic in the body marks the task FAILED. If the terminal write itself
// fails the task stays RUNNING on disk and only the startup recovery
// will reconcile it, so that failure is logged at the highest severity.
func (p *Pool) execute(workerID int, j job) {
	ctx := context.Background()
	runID := uuid.NewString()

	slog.Info("task execution started",
		"task_id", j.taskID,
		"run_id", runID,
		"worker", workerID,
		"duration_ms", j.durationMS,
	)
	if err := p.store.CreateTaskRun(ctx, &store.TaskRun{
		RunID:     runID,
		TaskID:    j.taskID,
		StartedAt: time.Now(),
	}); err != nil {
		// The audit row is best-effort; execution proceeds without it.
		slog.Warn("failed to record task run", "task_id", j.taskID, "run_id", runID, "error", err)
	}

	if p.metrics != nil {
		p.metrics.RunningTasks.Inc()
		defer p.metrics.RunningTasks.Dec()
	}

	outcome := store.TaskStatusCompleted
	if err := p.runBody(j); err != nil {
		slog.Error("task execution failed", "task_id", j.taskID, "run_id", runID, "error", err)
		outcome = store.TaskStatusFailed
	}

	var writeErr error
	if outcome == store.TaskStatusCompleted {
		writeErr = p.store.MarkTaskCompleted(ctx, j.taskID)
	} else {
		writeErr = p.store.MarkTaskFailed(ctx, j.taskID)
	}
	if writeErr != nil {
		// The task is now inconsistent between memory and disk.
		slog.Error("CRITICAL: failed to write terminal status; task will stay RUNNING until next restart",
			"task_id", j.taskID,
			"run_id", runID,
			"outcome", outcome,
			"error", writeErr,
		)
		return
	}

	if p.metrics != nil {
		if outcome == store.TaskStatusCompleted {
			p.metrics.TasksCompleted.Inc()
		} else {
			p.metrics.TasksFailed.Inc()
		}
	}
	if err := p.store.FinishTaskRun(ctx, runID, outcome); err != nil {
		slog.Warn("failed to finish task run", "task_id", j.taskID, "run_id", runID, "error", err)
	}
	slog.Info("task execution finished", "task_id", j.taskID, "run_id", runID, "outcome", outcome)
}

// runBody performs the simulated work. A real deployment would dispatch
// on the task type to a registered executor here.
func (p *Pool) runBody(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in task body: %v", r)
		}
	}()
	time.Sleep(time.Duration(j.durationMS) * time.Millisecond)
	return nil
}
