// Package server assembles the HTTP surface, the scheduler loop and the
// worker pool into one runnable unit.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/conductor/internal/metrics"
	"github.com/hrygo/conductor/internal/profile"
	"github.com/hrygo/conductor/scheduler"
	"github.com/hrygo/conductor/scheduler/worker"
	"github.com/hrygo/conductor/server/router/apiv1"
	"github.com/hrygo/conductor/server/service/task"
	"github.com/hrygo/conductor/store"
)

// Server owns the long-lived components of the process.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	pool       *worker.Pool
	scheduler  *scheduler.Scheduler
	collector  *metrics.Collector
	group      *errgroup.Group
	cancel     context.CancelFunc
}

// NewServer creates the server with its routes, worker pool and
// scheduler wired but not yet running.
func NewServer(ctx context.Context, profile *profile.Profile, storeInstance *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	collector := metrics.NewCollector()
	pool := worker.NewPool(storeInstance, collector, profile.MaxConcurrentTasks)
	sched := scheduler.New(storeInstance, pool, profile.SchedulerPollInterval, collector)
	taskService := task.NewService(storeInstance, collector)

	s := &Server{
		Profile:    profile,
		Store:      storeInstance,
		echoServer: e,
		pool:       pool,
		scheduler:  sched,
		collector:  collector,
	}

	e.Use(middleware.CORS())
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = errorHandler

	apiService := apiv1.NewAPIV1Service(profile, storeInstance, taskService)
	apiService.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(collector.Handler()))

	return s, nil
}

// Start performs crash recovery and launches the worker pool, the
// scheduler loop and the HTTP listener. It returns once everything is
// running; failures after that are logged by the components.
func (s *Server) Start(ctx context.Context) error {
	// Recovery must finish before any task can be claimed or any
	// request observed, so stray RUNNING rows never outlive boot.
	resetCount, err := s.Store.ResetRunningTasks(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to reset running tasks")
	}
	slog.Info("crash recovery complete", "reset_tasks", resetCount)

	s.pool.Start()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	var groupCtx context.Context
	s.group, groupCtx = errgroup.WithContext(runCtx)
	s.group.Go(func() error {
		return s.scheduler.Run(groupCtx)
	})
	s.group.Go(func() error {
		addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
		if err := s.echoServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	return nil
}

// Shutdown stops intake, drains in-flight tasks to a terminal status
// and releases the store.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down http server", "error", err)
	}

	// The scheduler observes the cancelled context and stops claiming;
	// the pool then finishes what it already accepted.
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		if err := s.group.Wait(); err != nil {
			slog.Error("component exited with error", "error", err)
		}
	}
	s.pool.Shutdown()

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shut down")
}

// requestLogger emits one slog line per request, the way the rest of
// the process logs.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	})
}

// errorHandler renders unhandled errors as a generic 500; the cause is
// logged, never exposed.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	if httpErr, ok := err.(*echo.HTTPError); ok {
		detail := fmt.Sprintf("%v", httpErr.Message)
		if writeErr := c.JSON(httpErr.Code, map[string]string{"detail": detail}); writeErr != nil {
			slog.Error("failed to write error response", "error", writeErr)
		}
		return
	}

	slog.Error("unhandled error in request",
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
		"error", err,
	)
	if writeErr := c.JSON(http.StatusInternalServerError, map[string]string{
		"detail": "An internal server error occurred",
	}); writeErr != nil {
		slog.Error("failed to write error response", "error", writeErr)
	}
}
