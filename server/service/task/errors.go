package task

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds surfaced by the submission and read paths. The HTTP layer
// maps these onto status codes; nothing below it knows about HTTP.
var (
	// ErrAlreadyExists rejects a duplicate task id.
	ErrAlreadyExists = errors.New("task with this ID already exists")
	// ErrCycleDetected rejects a submission whose edges would close a
	// loop in the dependency graph.
	ErrCycleDetected = errors.New("task dependency cycle detected")
	// ErrNotFound signals a read miss.
	ErrNotFound = errors.New("task not found")
)

// ValidationError reports a malformed submission field.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// MissingDependencyError carries the first dependency id that does not
// exist as a task.
type MissingDependencyError struct {
	DependencyID string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("dependency task '%s' does not exist", e.DependencyID)
}
