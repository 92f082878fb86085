package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Report is the outcome of a scheduler run: every task's terminal state.
type Report struct {
	StartedAt time.Time
	Duration  time.Duration
	Mode      FailureMode
	Tasks     []*Task // Insertion order
}

// State returns the final state of the task with the given ID.
func (r *Report) State(taskID string) (TaskState, bool) {
	for _, t := range r.Tasks {
		if t.ID == taskID {
			return t.State, true
		}
	}
	return TaskPending, false
}

// Counts returns how many tasks ended in each state.
func (r *Report) Counts() map[TaskState]int {
	counts := make(map[TaskState]int)
	for _, t := range r.Tasks {
		counts[t.State]++
	}
	return counts
}

// IDs returns the IDs of tasks that ended in the given state.
func (r *Report) IDs(state TaskState) []string {
	var ids []string
	for _, t := range r.Tasks {
		if t.State == state {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Err returns a *FailedError if any task ended Failed, nil otherwise.
// Cancelled tasks alone do not make a run fail.
func (r *Report) Err() error {
	failed := r.IDs(TaskFailed)
	if len(failed) == 0 {
		return nil
	}
	return &FailedError{Tasks: failed, Cancelled: len(r.IDs(TaskCancelled))}
}

// FailedError summarizes the failed tasks of a run.
type FailedError struct {
	Tasks     []string
	Cancelled int
}

func (e *FailedError) Error() string {
	msg := fmt.Sprintf("%d task(s) failed: %s", len(e.Tasks), strings.Join(e.Tasks, ", "))
	if e.Cancelled > 0 {
		msg += fmt.Sprintf(" (%d cancelled)", e.Cancelled)
	}
	return msg
}
