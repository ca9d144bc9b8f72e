// Package task implements the task submission and read paths.
package task

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/conductor/internal/dag"
	"github.com/hrygo/conductor/internal/metrics"
	"github.com/hrygo/conductor/store"
)

// SubmitRequest is a task submission.
type SubmitRequest struct {
	ID           string
	Type         string
	DurationMS   int
	Dependencies []string
}

// Service validates submissions and enrolls them in the store. Reads
// pass through with store errors translated into the package's kinds.
type Service struct {
	Store   *store.Store
	Metrics *metrics.Collector
}

func NewService(st *store.Store, collector *metrics.Collector) *Service {
	return &Service{Store: st, Metrics: collector}
}

// Submit runs the submission pipeline: field validation, uniqueness,
// dependency existence, acyclicity, then the atomic insert. Checks run
// in that order and the first failure wins.
//
// The cycle check works on a snapshot of the edge graph overlaid with
// the proposed edges. Concurrent submissions can invalidate the
// snapshot; the store's constraints still catch duplicate ids and
// dangling edges, but two in-flight submissions whose composition forms
// a cycle are not defended against (see DESIGN.md).
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*store.Task, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if _, err := s.Store.GetTask(ctx, req.ID); err == nil {
		slog.Warn("task creation failed: task already exists", "task_id", req.ID)
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, store.ErrTaskNotFound) {
		return nil, errors.Wrapf(err, "failed to check existence of task %s", req.ID)
	}

	for _, depID := range req.Dependencies {
		if _, err := s.Store.GetTask(ctx, depID); err != nil {
			if errors.Is(err, store.ErrTaskNotFound) {
				slog.Warn("task creation failed: dependency does not exist", "task_id", req.ID, "dependency_id", depID)
				return nil, &MissingDependencyError{DependencyID: depID}
			}
			return nil, errors.Wrapf(err, "failed to check dependency %s", depID)
		}
	}

	graph, err := s.Store.LoadDependencyGraph(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load dependency graph")
	}
	graph[req.ID] = req.Dependencies
	if dag.HasCycle(graph) {
		slog.Warn("task creation failed: dependency cycle detected", "task_id", req.ID)
		return nil, ErrCycleDetected
	}

	created, err := s.Store.CreateTask(ctx, &store.CreateTask{
		ID:           req.ID,
		Type:         req.Type,
		DurationMS:   req.DurationMS,
		Dependencies: req.Dependencies,
	})
	if err != nil {
		// A concurrent submission may have inserted the same id (or
		// removed nothing — tasks are never deleted here) between the
		// pre-checks and the insert; the constraint violation is the
		// authoritative verdict.
		if errors.Is(err, store.ErrTaskExists) {
			slog.Warn("task creation lost insert race", "task_id", req.ID)
			return nil, ErrAlreadyExists
		}
		if errors.Is(err, store.ErrIntegrity) {
			slog.Warn("task creation failed on dependency integrity", "task_id", req.ID)
			missing := &MissingDependencyError{}
			for _, depID := range req.Dependencies {
				if _, getErr := s.Store.GetTask(ctx, depID); errors.Is(getErr, store.ErrTaskNotFound) {
					missing.DependencyID = depID
					break
				}
			}
			return nil, missing
		}
		return nil, errors.Wrapf(err, "failed to create task %s", req.ID)
	}

	if s.Metrics != nil {
		s.Metrics.TasksSubmitted.Inc()
	}
	slog.Info("task created",
		"task_id", created.ID,
		"type", created.Type,
		"duration_ms", created.DurationMS,
		"dependencies", len(req.Dependencies),
	)
	return created, nil
}

// GetTask returns the task or ErrNotFound.
func (s *Service) GetTask(ctx context.Context, id string) (*store.Task, error) {
	t, err := s.Store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to fetch task %s", id)
	}
	return t, nil
}

// ListTasks returns all tasks.
func (s *Service) ListTasks(ctx context.Context) ([]*store.Task, error) {
	tasks, err := s.Store.ListTasks(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	return tasks, nil
}

func validate(req *SubmitRequest) error {
	if req.ID == "" {
		return &ValidationError{Reason: "id must be non-empty"}
	}
	if req.Type == "" {
		return &ValidationError{Reason: "type must be non-empty"}
	}
	if req.DurationMS <= 0 {
		return &ValidationError{Reason: "duration_ms must be positive"}
	}
	return nil
}
