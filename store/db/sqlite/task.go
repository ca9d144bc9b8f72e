package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/conductor/store"
)

// mapConstraintErr translates SQLite constraint failures into the
// store's sentinel errors so callers don't depend on driver strings.
func mapConstraintErr(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return errors.Wrap(store.ErrTaskExists, msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return errors.Wrap(store.ErrIntegrity, msg)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (*store.Task, error) {
	var task store.Task
	var createdTs, updatedTs int64
	if err := s.Scan(
		&task.ID,
		&task.Type,
		&task.DurationMS,
		&task.Status,
		&createdTs,
		&updatedTs,
	); err != nil {
		return nil, err
	}
	task.CreatedAt = time.Unix(createdTs, 0)
	task.UpdatedAt = time.Unix(updatedTs, 0)
	return &task, nil
}

func (d *DB) CreateTask(ctx context.Context, create *store.CreateTask) (*store.Task, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, type, duration_ms, status)
		VALUES (?, ?, ?, ?)
	`, create.ID, create.Type, create.DurationMS, store.TaskStatusQueued); err != nil {
		return nil, mapConstraintErr(err)
	}

	for _, depID := range create.Dependencies {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_task_id)
			VALUES (?, ?)
		`, create.ID, depID); err != nil {
			return nil, mapConstraintErr(err)
		}
	}

	task, err := scanTask(tx.QueryRowContext(ctx, `
		SELECT id, type, duration_ms, status, created_at, updated_at
		FROM tasks WHERE id = ?
	`, create.ID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read back created task")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	return task, nil
}

func (d *DB) GetTask(ctx context.Context, id string) (*store.Task, error) {
	task, err := scanTask(d.db.QueryRowContext(ctx, `
		SELECT id, type, duration_ms, status, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, errors.Wrapf(err, "failed to get task %s", id)
	}
	return task, nil
}

func (d *DB) ListTasks(ctx context.Context) ([]*store.Task, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, type, duration_ms, status, created_at, updated_at
		FROM tasks
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*store.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate tasks")
	}
	return tasks, nil
}

func (d *DB) LoadDependencyGraph(ctx context.Context) (map[string][]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT task_id, depends_on_task_id FROM task_dependencies
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load dependency graph")
	}
	defer rows.Close()

	graph := make(map[string][]string)
	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return nil, errors.Wrap(err, "failed to scan dependency edge")
		}
		graph[taskID] = append(graph[taskID], depID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate dependency edges")
	}
	return graph, nil
}

// FindRunnableTasks selects QUEUED tasks with no dependency on a task
// that is not yet COMPLETED. The anti-join runs as one statement so the
// returned set reflects a single consistent snapshot.
func (d *DB) FindRunnableTasks(ctx context.Context, limit int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT t.id
		FROM tasks t
		WHERE t.status = ?
		AND NOT EXISTS (
			SELECT 1
			FROM task_dependencies d
			JOIN tasks dep ON dep.id = d.depends_on_task_id
			WHERE d.task_id = t.id AND dep.status != ?
		)
		ORDER BY t.created_at, t.id
		LIMIT ?
	`, store.TaskStatusQueued, store.TaskStatusCompleted, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find runnable tasks")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan runnable task id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate runnable tasks")
	}
	return ids, nil
}

// ClaimRunning performs the conditional QUEUED -> RUNNING promotion.
// The WHERE clause makes concurrent claims mutually exclusive: the
// database linearizes the updates and only one claimant sees an
// affected row.
func (d *DB) ClaimRunning(ctx context.Context, id string) (bool, error) {
	result, err := d.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, updated_at = strftime('%s', 'now')
		WHERE id = ? AND status = ?
	`, store.TaskStatusRunning, id, store.TaskStatusQueued)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim task %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return rows == 1, nil
}

func (d *DB) SetTaskStatus(ctx context.Context, id string, status store.TaskStatus) (int64, error) {
	result, err := d.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, updated_at = strftime('%s', 'now')
		WHERE id = ?
	`, status, id)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to set task %s status to %s", id, status)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return rows, nil
}

func (d *DB) ResetRunningTasks(ctx context.Context) (int64, error) {
	result, err := d.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, updated_at = strftime('%s', 'now')
		WHERE status = ?
	`, store.TaskStatusQueued, store.TaskStatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reset running tasks")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return rows, nil
}

func (d *DB) CreateTaskRun(ctx context.Context, run *store.TaskRun) error {
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO task_runs (run_id, task_id, started_at)
		VALUES (?, ?, ?)
	`, run.RunID, run.TaskID, run.StartedAt.UnixMilli()); err != nil {
		return errors.Wrapf(err, "failed to create task run %s", run.RunID)
	}
	return nil
}

func (d *DB) FinishTaskRun(ctx context.Context, runID string, outcome store.TaskStatus) error {
	if _, err := d.db.ExecContext(ctx, `
		UPDATE task_runs
		SET finished_at = ?, outcome = ?
		WHERE run_id = ?
	`, time.Now().UnixMilli(), outcome, runID); err != nil {
		return errors.Wrapf(err, "failed to finish task run %s", runID)
	}
	return nil
}
