package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	Topic() string
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicProgress = "progress"
	TopicPool     = "pool"
)

// Event type constants
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskSkipped   = "task.skipped"
	EventTypeTaskSucceeded = "task.succeeded"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskCancelled = "task.cancelled"
	EventTypeProgress      = "progress.update"
	EventTypePool          = "pool.allocation"
)

// TaskStartedEvent is published when a task's process is launched.
type TaskStartedEvent struct {
	ID        string
	Command   string
	Priority  int
	Timestamp time.Time
}

func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskSkippedEvent is published when a task's outputs are up to date.
type TaskSkippedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskSkippedEvent) Topic() string     { return TopicTask }
func (e TaskSkippedEvent) EventType() string { return EventTypeTaskSkipped }
func (e TaskSkippedEvent) TaskID() string    { return e.ID }

// TaskSucceededEvent is published when a task exits zero.
type TaskSucceededEvent struct {
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskSucceededEvent) Topic() string     { return TopicTask }
func (e TaskSucceededEvent) EventType() string { return EventTypeTaskSucceeded }
func (e TaskSucceededEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails to launch or exits non-zero.
type TaskFailedEvent struct {
	ID        string
	Err       error
	ExitCode  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) Topic() string     { return TopicTask }
func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskCancelledEvent is published when a task is abandoned or terminated.
type TaskCancelledEvent struct {
	ID        string
	Reason    error
	Timestamp time.Time
}

func (e TaskCancelledEvent) Topic() string     { return TopicTask }
func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string    { return e.ID }

// ProgressEvent is published after every task transition.
type ProgressEvent struct {
	Total     int
	Running   int
	Succeeded int
	Skipped   int
	Failed    int
	Cancelled int
	Timestamp time.Time
}

// Done returns the number of tasks in a terminal state.
func (e ProgressEvent) Done() int {
	return e.Succeeded + e.Skipped + e.Failed + e.Cancelled
}

func (e ProgressEvent) Topic() string     { return TopicProgress }
func (e ProgressEvent) EventType() string { return EventTypeProgress }
func (e ProgressEvent) TaskID() string    { return "" }

// PoolEvent is published when a resource's allocation changes.
type PoolEvent struct {
	Resource  string
	Allocated float64
	Capacity  float64
	Timestamp time.Time
}

func (e PoolEvent) Topic() string     { return TopicPool }
func (e PoolEvent) EventType() string { return EventTypePool }
func (e PoolEvent) TaskID() string    { return "" }
