// Package apiv1 exposes the task scheduler's HTTP surface.
package apiv1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/conductor/internal/profile"
	"github.com/hrygo/conductor/internal/version"
	"github.com/hrygo/conductor/server/service/task"
	"github.com/hrygo/conductor/store"
)

// APIV1Service wires the HTTP handlers to the task service and store.
type APIV1Service struct {
	Profile     *profile.Profile
	Store       *store.Store
	TaskService *task.Service
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, taskService *task.Service) *APIV1Service {
	return &APIV1Service{
		Profile:     profile,
		Store:       store,
		TaskService: taskService,
	}
}

// RegisterRoutes attaches all v1 endpoints to the Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	echoServer.GET("/health", s.Health)
	echoServer.GET("/db-health", s.DBHealth)
	echoServer.GET("/version", s.Version)
	echoServer.POST("/tasks", s.CreateTask)
	echoServer.GET("/tasks/:id", s.GetTask)
	echoServer.GET("/tasks", s.ListTasks)
}

type createTaskRequest struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	DurationMS   int      `json:"duration_ms"`
	Dependencies []string `json:"dependencies"`
}

type createTaskResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type taskResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	DurationMS int    `json:"duration_ms"`
	Status     string `json:"status"`
}

type taskListResponse struct {
	Tasks []taskResponse `json:"tasks"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Health reports process liveness. It never touches the store.
func (s *APIV1Service) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// DBHealth performs a store round-trip.
func (s *APIV1Service) DBHealth(c echo.Context) error {
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		slog.Error("database health check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Detail: "Database connection failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"db": "ok"})
}

// Version returns build metadata.
func (s *APIV1Service) Version(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"version":    version.GetCurrentVersion(s.Profile.Mode),
		"commit":     version.GitCommit,
		"build_time": version.BuildTime,
	})
}

// CreateTask submits a new task.
func (s *APIV1Service) CreateTask(c echo.Context) error {
	var req createTaskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Detail: "malformed request payload"})
	}

	created, err := s.TaskService.Submit(c.Request().Context(), &task.SubmitRequest{
		ID:           req.ID,
		Type:         req.Type,
		DurationMS:   req.DurationMS,
		Dependencies: req.Dependencies,
	})
	if err != nil {
		var validationErr *task.ValidationError
		var missingDepErr *task.MissingDependencyError
		switch {
		case errors.As(err, &validationErr):
			return c.JSON(http.StatusUnprocessableEntity, errorResponse{Detail: validationErr.Error()})
		case errors.As(err, &missingDepErr):
			return c.JSON(http.StatusBadRequest, errorResponse{Detail: missingDepErr.Error()})
		case errors.Is(err, task.ErrCycleDetected):
			return c.JSON(http.StatusBadRequest, errorResponse{Detail: "Task dependency cycle detected"})
		case errors.Is(err, task.ErrAlreadyExists):
			return c.JSON(http.StatusConflict, errorResponse{Detail: "Task with this ID already exists"})
		}
		return err
	}

	return c.JSON(http.StatusCreated, createTaskResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetTask returns a single task by id.
func (s *APIV1Service) GetTask(c echo.Context) error {
	t, err := s.TaskService.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Detail: "Task not found"})
		}
		return err
	}
	return c.JSON(http.StatusOK, toTaskResponse(t))
}

// ListTasks returns every task.
func (s *APIV1Service) ListTasks(c echo.Context) error {
	tasks, err := s.TaskService.ListTasks(c.Request().Context())
	if err != nil {
		return err
	}
	resp := taskListResponse{Tasks: make([]taskResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, toTaskResponse(t))
	}
	return c.JSON(http.StatusOK, resp)
}

func toTaskResponse(t *store.Task) taskResponse {
	return taskResponse{
		ID:         t.ID,
		Type:       t.Type,
		DurationMS: t.DurationMS,
		Status:     string(t.Status),
	}
}
