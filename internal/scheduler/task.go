package scheduler

import (
	"time"

	"github.com/aristath/sweeprun/internal/condition"
	"github.com/aristath/sweeprun/internal/process"
	"github.com/aristath/sweeprun/internal/resource"
)

// TaskState represents the current state of a task.
type TaskState int

const (
	TaskPending   TaskState = iota // Added to the graph, not yet initialized by a run
	TaskBlocked                    // Waiting for dependencies
	TaskRunnable                   // Dependencies satisfied, waiting for resources
	TaskRunning                    // Process launched
	TaskSkipped                    // Outputs up to date, never launched
	TaskSucceeded                  // Exited zero
	TaskFailed                     // Launch error or non-zero exit
	TaskCancelled                  // Abandoned because of another task's failure
)

var stateNames = [...]string{
	TaskPending:   "pending",
	TaskBlocked:   "blocked",
	TaskRunnable:  "runnable",
	TaskRunning:   "running",
	TaskSkipped:   "skipped",
	TaskSucceeded: "succeeded",
	TaskFailed:    "failed",
	TaskCancelled: "cancelled",
}

func (s TaskState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// IsTerminal reports whether no further transition can happen.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSkipped, TaskSucceeded, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// satisfies reports whether a dependency in this state lets dependents run.
func (s TaskState) satisfies() bool {
	return s == TaskSucceeded || s == TaskSkipped
}

// Task represents a unit of external work in the graph.
type Task struct {
	ID        string              // Unique identifier
	Command   process.Command     // Program and arguments, never shell-interpolated
	Resources resource.Request    // Quantities reserved from the pool while running
	DependsOn []string            // Task IDs that must succeed or be skipped first
	Condition condition.Condition // Nil means always run
	Priority  int                 // Higher runs first among runnable tasks
	Output    process.Redirect    // Optional stdout/stderr capture files
	Outputs   []string            // Declared output files (defaults to the condition's)

	State     TaskState
	Err       error         // Failure or cancellation cause
	ExitCode  int           // Exit status of the last launch, -1 if signalled
	StartedAt time.Time     // Zero when the task never ran
	Duration  time.Duration // Wall time between launch and exit
}

// DeclaredOutputs returns the files this task is expected to produce: the
// explicit Outputs, else those of a condition that declares outputs, plus any
// redirect targets.
func (t *Task) DeclaredOutputs() []string {
	var outs []string
	switch {
	case len(t.Outputs) > 0:
		outs = append(outs, t.Outputs...)
	case t.Condition != nil:
		if d, ok := t.Condition.(condition.OutputDeclarer); ok {
			outs = append(outs, d.Outputs()...)
		}
	}

	seen := make(map[string]bool, len(outs))
	for _, o := range outs {
		seen[o] = true
	}
	for _, p := range t.Output.Paths() {
		if !seen[p] {
			outs = append(outs, p)
			seen[p] = true
		}
	}
	return outs
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.Outputs != nil {
		cp.Outputs = append([]string(nil), task.Outputs...)
	}
	if task.Command.Args != nil {
		cp.Command.Args = append([]string(nil), task.Command.Args...)
	}
	cp.Resources = task.Resources.Clone()
	return &cp
}
