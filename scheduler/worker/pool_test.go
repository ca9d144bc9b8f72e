package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/conductor/internal/profile"
	"github.com/hrygo/conductor/store"
	"github.com/hrygo/conductor/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Driver: "sqlite", DSN: ":memory:"}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { driver.Close() })
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedRunningTask(t *testing.T, st *store.Store, id string, durationMS int) {
	t.Helper()
	ctx := context.Background()
	_, err := st.CreateTask(ctx, &store.CreateTask{ID: id, Type: "sleep", DurationMS: durationMS})
	require.NoError(t, err)
	claimed, err := st.ClaimRunning(ctx, id)
	require.NoError(t, err)
	require.True(t, claimed)
}

func waitForStatus(t *testing.T, st *store.Store, id string, want store.TaskStatus, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, err := st.GetTask(context.Background(), id)
		require.NoError(t, err)
		if task.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := st.GetTask(context.Background(), id)
	t.Fatalf("task %s never reached %s (still %s)", id, want, task.Status)
}

func TestPoolExecutesAndMarksCompleted(t *testing.T) {
	st := newTestStore(t)
	p := NewPool(st, nil, 2)
	p.Start()
	defer p.Shutdown()

	seedRunningTask(t, st, "task-A", 20)
	require.NoError(t, p.Submit("task-A", 20))

	waitForStatus(t, st, "task-A", store.TaskStatusCompleted, 2*time.Second)
}

func TestPoolRecordsTaskRun(t *testing.T) {
	st := newTestStore(t)
	p := NewPool(st, nil, 1)
	p.Start()

	seedRunningTask(t, st, "task-A", 10)
	require.NoError(t, p.Submit("task-A", 10))
	p.Shutdown()

	var count int
	err := st.GetDriver().GetDB().QueryRow(
		`SELECT COUNT(*) FROM task_runs WHERE task_id = 'task-A' AND outcome = 'COMPLETED' AND finished_at IS NOT NULL`,
	).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPoolSlotAccounting(t *testing.T) {
	st := newTestStore(t)
	p := NewPool(st, nil, 2)
	p.Start()
	defer p.Shutdown()

	assert.Equal(t, 2, p.AvailableSlots())

	seedRunningTask(t, st, "slow-1", 200)
	seedRunningTask(t, st, "slow-2", 200)
	require.NoError(t, p.Submit("slow-1", 200))
	require.NoError(t, p.Submit("slow-2", 200))

	// Both slots are occupied until the tasks terminate; submitted
	// minus terminated, not queue depth, drives the count.
	assert.Equal(t, 0, p.AvailableSlots())

	waitForStatus(t, st, "slow-1", store.TaskStatusCompleted, 2*time.Second)
	waitForStatus(t, st, "slow-2", store.TaskStatusCompleted, 2*time.Second)

	deadline := time.Now().Add(time.Second)
	for p.AvailableSlots() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 2, p.AvailableSlots())
}

func TestPoolRejectsWhenFull(t *testing.T) {
	st := newTestStore(t)
	p := NewPool(st, nil, 1)
	// Not started: jobs stay queued, so the single slot fills up.
	seedRunningTask(t, st, "a", 10)
	require.NoError(t, p.Submit("a", 10))
	err := p.Submit("b", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
	// The rejected submit must release the slot it briefly reserved.
	assert.Equal(t, 0, p.AvailableSlots())
}

func TestPoolShutdownDrains(t *testing.T) {
	st := newTestStore(t)
	p := NewPool(st, nil, 1)
	p.Start()

	seedRunningTask(t, st, "task-A", 50)
	require.NoError(t, p.Submit("task-A", 50))

	// Shutdown blocks until the in-flight task reached a terminal
	// status in the store.
	p.Shutdown()
	task, err := st.GetTask(context.Background(), "task-A")
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, task.Status)

	// After shutdown, submissions are rejected.
	assert.ErrorIs(t, p.Submit("late", 10), ErrPoolClosed)
}

func TestPoolShutdownIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	p := NewPool(st, nil, 1)
	p.Start()
	p.Shutdown()
	p.Shutdown()
}

// TestTerminalStatusIsNeverRewritten audits terminal-state finality
// end to end: a completed task stays completed through claim attempts
// and recovery resets.
func TestTerminalStatusIsNeverRewritten(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := NewPool(st, nil, 1)
	p.Start()

	seedRunningTask(t, st, "task-A", 10)
	require.NoError(t, p.Submit("task-A", 10))
	p.Shutdown()

	claimed, err := st.ClaimRunning(ctx, "task-A")
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = st.ResetRunningTasks(ctx)
	require.NoError(t, err)

	task, err := st.GetTask(ctx, "task-A")
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, task.Status)
}
