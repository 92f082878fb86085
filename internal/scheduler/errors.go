package scheduler

import (
	"errors"
	"fmt"
)

// Graph construction failures. Match with errors.Is against a *GraphError.
var (
	ErrDuplicateTask     = errors.New("duplicate task")
	ErrMissingDependency = errors.New("missing dependency")
	ErrCycle             = errors.New("dependency cycle")
	ErrEmptyID           = errors.New("empty task id")
)

// GraphError reports a structural problem found while building or validating
// a task graph. A run never starts on a graph that produced one.
type GraphError struct {
	Kind   error    // One of the Err* sentinels above
	TaskID string   // Offending task, if known
	Detail string   // Extra context such as the missing dependency id
	Tasks  []string // Tasks left unordered by a cycle
}

func (e *GraphError) Error() string {
	msg := e.Kind.Error()
	if e.TaskID != "" {
		msg = fmt.Sprintf("task %q: %s", e.TaskID, msg)
	}
	if e.Detail != "" {
		msg += " " + e.Detail
	}
	if len(e.Tasks) > 0 {
		msg += fmt.Sprintf(" among %v", e.Tasks)
	}
	return msg
}

func (e *GraphError) Unwrap() error { return e.Kind }

// ErrAborted is recorded on tasks cancelled because the run was interrupted.
var ErrAborted = errors.New("run aborted")

// CancelledError is recorded on tasks abandoned because of another task's failure.
type CancelledError struct {
	Cause string // ID of the failed task that triggered the cancellation
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled after %s failed", e.Cause)
}
