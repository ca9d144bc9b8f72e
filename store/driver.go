package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store drivers. Every backend provides the
// same transactional task operations; the Store facade delegates to the
// active driver.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates the schema when absent. Idempotent; called once
	// at startup before anything else touches the database.
	Migrate(ctx context.Context) error

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// CreateTask inserts the task row with status QUEUED together with
	// its dependency edges in a single transaction. Returns
	// ErrTaskExists on an id collision and ErrIntegrity when a
	// dependency edge references an absent task. Nothing is persisted
	// on failure.
	CreateTask(ctx context.Context, create *CreateTask) (*Task, error)

	// GetTask returns the task or ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*Task, error)

	// ListTasks returns all task rows.
	ListTasks(ctx context.Context) ([]*Task, error)

	// LoadDependencyGraph returns the full adjacency list mapping a
	// task id to the ids it depends on.
	LoadDependencyGraph(ctx context.Context) (map[string][]string, error)

	// FindRunnableTasks returns up to limit ids of QUEUED tasks whose
	// every dependency is COMPLETED, computed in a single query.
	FindRunnableTasks(ctx context.Context, limit int) ([]string, error)

	// ClaimRunning promotes the task QUEUED -> RUNNING. The update is
	// conditional on the current status, so exactly one of any set of
	// concurrent claimants observes true.
	ClaimRunning(ctx context.Context, id string) (bool, error)

	// SetTaskStatus unconditionally writes the given status and
	// advances updated_at. Returns the number of rows updated; zero
	// means the task row is gone.
	SetTaskStatus(ctx context.Context, id string, status TaskStatus) (int64, error)

	// ResetRunningTasks rewrites every RUNNING task back to QUEUED and
	// returns the count. Called once at startup for crash recovery.
	ResetRunningTasks(ctx context.Context) (int64, error)

	// CreateTaskRun records the start of one execution attempt.
	CreateTaskRun(ctx context.Context, run *TaskRun) error

	// FinishTaskRun stamps the run with its outcome and finish time.
	FinishTaskRun(ctx context.Context, runID string, outcome TaskStatus) error
}
