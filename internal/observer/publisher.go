package observer

import (
	"time"

	"github.com/aristath/sweeprun/internal/events"
	"github.com/aristath/sweeprun/internal/resource"
	"github.com/aristath/sweeprun/internal/scheduler"
)

// Publisher forwards task transitions to an event bus, each followed by a
// progress snapshot of the whole graph.
type Publisher struct {
	bus   *events.EventBus
	graph *scheduler.Graph
	now   func() time.Time
}

// NewPublisher creates a publisher reporting progress over graph.
func NewPublisher(bus *events.EventBus, graph *scheduler.Graph) *Publisher {
	return &Publisher{bus: bus, graph: graph, now: time.Now}
}

// WatchPool publishes a PoolEvent on every allocation change.
func (p *Publisher) WatchPool(pool *resource.Pool) {
	pool.OnChange(func(name string, allocated, capacity float64) {
		p.bus.Publish(events.PoolEvent{
			Resource:  name,
			Allocated: allocated,
			Capacity:  capacity,
			Timestamp: p.now(),
		})
	})
}

func (p *Publisher) OnStart(task *scheduler.Task) error {
	p.publish(events.TaskStartedEvent{
		ID:        task.ID,
		Command:   task.Command.String(),
		Priority:  task.Priority,
		Timestamp: p.now(),
	})
	return nil
}

func (p *Publisher) OnSkip(task *scheduler.Task) error {
	p.publish(events.TaskSkippedEvent{ID: task.ID, Timestamp: p.now()})
	return nil
}

func (p *Publisher) OnSuccess(task *scheduler.Task) error {
	p.publish(events.TaskSucceededEvent{ID: task.ID, Duration: task.Duration, Timestamp: p.now()})
	return nil
}

func (p *Publisher) OnFailure(task *scheduler.Task) error {
	p.publish(events.TaskFailedEvent{
		ID:        task.ID,
		Err:       task.Err,
		ExitCode:  task.ExitCode,
		Duration:  task.Duration,
		Timestamp: p.now(),
	})
	return nil
}

func (p *Publisher) OnCancel(task *scheduler.Task) error {
	p.publish(events.TaskCancelledEvent{ID: task.ID, Reason: task.Err, Timestamp: p.now()})
	return nil
}

func (p *Publisher) publish(e events.Event) {
	p.bus.Publish(e)
	p.bus.Publish(Progress(p.graph, p.now()))
}

// Progress summarizes the graph's current task states.
func Progress(g *scheduler.Graph, now time.Time) events.ProgressEvent {
	counts := g.Counts()
	return events.ProgressEvent{
		Total:     g.Len(),
		Running:   counts[scheduler.TaskRunning],
		Succeeded: counts[scheduler.TaskSucceeded],
		Skipped:   counts[scheduler.TaskSkipped],
		Failed:    counts[scheduler.TaskFailed],
		Cancelled: counts[scheduler.TaskCancelled],
		Timestamp: now,
	}
}
