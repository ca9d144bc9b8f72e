package store

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/conductor/internal/profile"
)

// Sentinel errors surfaced by drivers. Callers match with errors.Is;
// drivers wrap them with backend detail.
var (
	// ErrTaskNotFound signals a lookup miss.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskExists signals a primary-key collision on insert.
	ErrTaskExists = errors.New("task already exists")
	// ErrIntegrity signals a foreign-key violation: a dependency edge
	// references a task that is not persisted.
	ErrIntegrity = errors.New("referential integrity violation")
)

// Store provides database access to tasks and their dependency edges.
// It owns the durable truth. Claiming is a conditional update against
// the driver; terminal writes are unconditional updates of the row.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Migrate creates the schema if absent. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// Ping verifies the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

func (s *Store) CreateTask(ctx context.Context, create *CreateTask) (*Task, error) {
	return s.driver.CreateTask(ctx, create)
}

func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	return s.driver.GetTask(ctx, id)
}

func (s *Store) ListTasks(ctx context.Context) ([]*Task, error) {
	return s.driver.ListTasks(ctx)
}

func (s *Store) LoadDependencyGraph(ctx context.Context) (map[string][]string, error) {
	return s.driver.LoadDependencyGraph(ctx)
}

func (s *Store) FindRunnableTasks(ctx context.Context, limit int) ([]string, error) {
	return s.driver.FindRunnableTasks(ctx, limit)
}

func (s *Store) ClaimRunning(ctx context.Context, id string) (bool, error) {
	return s.driver.ClaimRunning(ctx, id)
}

// MarkTaskCompleted sets the terminal success status. A missing row is
// logged and tolerated: nothing in this process deletes tasks, but an
// operator may have purged the row externally.
func (s *Store) MarkTaskCompleted(ctx context.Context, id string) error {
	rows, err := s.driver.SetTaskStatus(ctx, id, TaskStatusCompleted)
	if err != nil {
		return errors.Wrapf(err, "failed to mark task %s completed", id)
	}
	if rows == 0 {
		slog.Warn("task not found when marking as completed", "task_id", id)
	}
	return nil
}

// MarkTaskFailed sets the terminal failure status. Missing rows are
// tolerated as in MarkTaskCompleted.
func (s *Store) MarkTaskFailed(ctx context.Context, id string) error {
	rows, err := s.driver.SetTaskStatus(ctx, id, TaskStatusFailed)
	if err != nil {
		return errors.Wrapf(err, "failed to mark task %s failed", id)
	}
	if rows == 0 {
		slog.Warn("task not found when marking as failed", "task_id", id)
	}
	return nil
}

// ResetRunningTasks rewrites stray RUNNING rows back to QUEUED. Called
// once at startup before the scheduler loop begins.
func (s *Store) ResetRunningTasks(ctx context.Context) (int64, error) {
	return s.driver.ResetRunningTasks(ctx)
}

func (s *Store) CreateTaskRun(ctx context.Context, run *TaskRun) error {
	return s.driver.CreateTaskRun(ctx, run)
}

func (s *Store) FinishTaskRun(ctx context.Context, runID string, outcome TaskStatus) error {
	return s.driver.FinishTaskRun(ctx, runID, outcome)
}
