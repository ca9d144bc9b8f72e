package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/conductor/internal/profile"
	"github.com/hrygo/conductor/store"
	"github.com/hrygo/conductor/store/db/sqlite"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	p := &profile.Profile{
		Mode:                  "dev",
		Driver:                "sqlite",
		DSN:                   ":memory:",
		MaxConcurrentTasks:    2,
		SchedulerPollInterval: 10 * time.Millisecond,
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))

	s, err := NewServer(context.Background(), p, st)
	require.NoError(t, err)
	return s
}

// TestStartRunsRecoveryBeforeLoop seeds a stray RUNNING row and checks
// the full boot sequence leaves no RUNNING task behind (and re-runs the
// interrupted one).
func TestStartRunsRecoveryBeforeLoop(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.Store.CreateTask(ctx, &store.CreateTask{ID: "interrupted", Type: "x", DurationMS: 20})
	require.NoError(t, err)
	claimed, err := s.Store.ClaimRunning(ctx, "interrupted")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, s.Start(ctx))
	defer s.Shutdown(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := s.Store.GetTask(ctx, "interrupted")
		require.NoError(t, err)
		if task.Status == store.TaskStatusCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("interrupted task was never re-run to completion")
}

func TestErrorHandlerHidesInternalCause(t *testing.T) {
	s := newTestServer(t)
	defer s.Store.Close()

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	c := s.echoServer.NewContext(req, rec)

	errorHandler(errors.New("secret database detail"), c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"An internal server error occurred"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestErrorHandlerPreservesHTTPErrors(t *testing.T) {
	s := newTestServer(t)
	defer s.Store.Close()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	c := s.echoServer.NewContext(req, rec)

	errorHandler(echo.NewHTTPError(http.StatusNotFound, "Not Found"), c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Not Found"}`, rec.Body.String())
}
