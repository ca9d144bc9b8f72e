package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/conductor/internal/dag"
	"github.com/hrygo/conductor/internal/profile"
	"github.com/hrygo/conductor/store"
	"github.com/hrygo/conductor/store/db/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Driver: "sqlite", DSN: ":memory:"}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { driver.Close() })
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))
	return NewService(st, nil)
}

func TestSubmitAndGetRoundTrip(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created, err := s.Submit(ctx, &SubmitRequest{
		ID:         "task-A",
		Type:       "data_processing",
		DurationMS: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "task-A", created.ID)
	assert.Equal(t, store.TaskStatusQueued, created.Status)

	got, err := s.GetTask(ctx, "task-A")
	require.NoError(t, err)
	assert.Equal(t, "task-A", got.ID)
	assert.Equal(t, "data_processing", got.Type)
	assert.Equal(t, 50, got.DurationMS)
	assert.Equal(t, store.TaskStatusQueued, got.Status)
}

func TestSubmitValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"empty id", SubmitRequest{Type: "x", DurationMS: 10}},
		{"empty type", SubmitRequest{ID: "a", DurationMS: 10}},
		{"zero duration", SubmitRequest{ID: "a", Type: "x"}},
		{"negative duration", SubmitRequest{ID: "a", Type: "x", DurationMS: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Submit(ctx, &tt.req)
			var validationErr *ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestSubmitDuplicateID(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Submit(ctx, &SubmitRequest{ID: "task-A", Type: "x", DurationMS: 10})
	require.NoError(t, err)
	_, err = s.Submit(ctx, &SubmitRequest{ID: "task-A", Type: "x", DurationMS: 10})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestSubmitMissingDependencyNamesOffender(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Submit(ctx, &SubmitRequest{
		ID:           "task-A",
		Type:         "x",
		DurationMS:   10,
		Dependencies: []string{"ghost"},
	})
	var missingDep *MissingDependencyError
	require.ErrorAs(t, err, &missingDep)
	assert.Equal(t, "ghost", missingDep.DependencyID)

	// No row may be persisted for the rejected task.
	_, err = s.GetTask(ctx, "task-A")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitFirstFailureWins(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// Malformed fields are reported before the missing dependency.
	_, err := s.Submit(ctx, &SubmitRequest{
		ID:           "",
		Type:         "x",
		DurationMS:   10,
		Dependencies: []string{"ghost"},
	})
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestService(t)
	_, err := s.GetTask(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTasksEmpty(t *testing.T) {
	s := newTestService(t)
	tasks, err := s.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

// TestSerialSubmissionsNeverPersistCycle asserts that no sequence of
// serial submissions can close a loop: edges only attach at creation
// and may only point at tasks that already exist, so the persisted
// graph stays acyclic.
func TestSerialSubmissionsNeverPersistCycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Submit(ctx, &SubmitRequest{ID: "a", Type: "x", DurationMS: 10})
	require.NoError(t, err)
	_, err = s.Submit(ctx, &SubmitRequest{ID: "b", Type: "x", DurationMS: 10, Dependencies: []string{"a"}})
	require.NoError(t, err)

	// Re-submitting "a" with a dependency on "b" would close a loop,
	// but the duplicate-id check rejects it first.
	_, err = s.Submit(ctx, &SubmitRequest{ID: "a", Type: "x", DurationMS: 10, Dependencies: []string{"b"}})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.Submit(ctx, &SubmitRequest{ID: "c", Type: "x", DurationMS: 10, Dependencies: []string{"b"}})
	require.NoError(t, err)

	// A self-referencing submission is rejected too; the dependency
	// does not exist yet, so the existence check fires before the DAG
	// check (see TestSubmitSelfDependency).
	_, err = s.Submit(ctx, &SubmitRequest{ID: "d", Type: "x", DurationMS: 10, Dependencies: []string{"d"}})
	assert.Error(t, err)

	graph, err := s.Store.LoadDependencyGraph(ctx)
	require.NoError(t, err)
	assert.False(t, dag.HasCycle(graph))
}

// TestSubmitSelfDependency pins down the rejection kind: a task
// depending on itself does not exist yet, so the dependency-existence
// check fires before the cycle check.
func TestSubmitSelfDependency(t *testing.T) {
	s := newTestService(t)
	_, err := s.Submit(context.Background(), &SubmitRequest{
		ID:           "narcissus",
		Type:         "x",
		DurationMS:   10,
		Dependencies: []string{"narcissus"},
	})
	var missingDep *MissingDependencyError
	assert.ErrorAs(t, err, &missingDep)
}
