package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/sweeprun/internal/resource"
)

// FailureMode selects what happens to the rest of the run when a task fails.
type FailureMode int

const (
	// FailAggressive cancels every task that has not started and terminates
	// every running task as soon as one task fails.
	FailAggressive FailureMode = iota
	// FailContinue cancels only the failed task's transitive dependents.
	FailContinue
)

func (m FailureMode) String() string {
	switch m {
	case FailAggressive:
		return "aggressive"
	case FailContinue:
		return "continue"
	}
	return "unknown"
}

// ParseFailureMode parses "aggressive" or "continue".
func ParseFailureMode(s string) (FailureMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aggressive", "aggressive-fail", "":
		return FailAggressive, nil
	case "continue", "continue-on-failure":
		return FailContinue, nil
	}
	return 0, fmt.Errorf("unknown failure mode %q", s)
}

// ErrStalled is returned when runnable tasks remain but the pool cannot admit
// any of them while nothing is running. This only happens when the pool is
// shared with reservations made outside the scheduler.
var ErrStalled = errors.New("scheduler stalled: runnable tasks do not fit the idle pool")

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithFailureMode sets the failure policy (default FailAggressive).
func WithFailureMode(m FailureMode) Option {
	return func(s *Scheduler) { s.mode = m }
}

// WithObservers appends observers, notified in the given order.
func WithObservers(obs ...Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, obs...) }
}

// WithLogger sets the logger for observer and condition diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = log }
}

// Scheduler executes a task graph against a resource pool. It is the single
// authority for task state transitions and pool reservations during a run.
type Scheduler struct {
	graph     *Graph
	pool      *resource.Pool
	runner    Runner
	mode      FailureMode
	observers []Observer
	log       logrus.FieldLogger
	ran       atomic.Bool
}

// New validates graph against pool and returns a scheduler ready to run it.
// Structural problems are returned as *GraphError and oversized requests as
// *resource.UnsatisfiableError; nothing runs in either case.
func New(graph *Graph, pool *resource.Pool, runner Runner, opts ...Option) (*Scheduler, error) {
	if graph == nil || pool == nil || runner == nil {
		return nil, errors.New("scheduler: graph, pool and runner are required")
	}
	if _, err := graph.Validate(pool); err != nil {
		return nil, err
	}

	s := &Scheduler{
		graph:  graph,
		pool:   pool,
		runner: runner,
		mode:   FailAggressive,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Graph returns the graph being scheduled.
func (s *Scheduler) Graph() *Graph { return s.graph }

type completion struct {
	id       string
	err      error
	duration time.Duration
}

// run holds the coordinator's private state for one Run call.
type run struct {
	*Scheduler

	ctx       context.Context
	ready     readySet
	running   map[string]context.CancelFunc
	signalled map[string]error // Running tasks told to stop, with the reason
	aborting  bool
	done      chan completion
	group     errgroup.Group
}

// Run executes the graph until every task is terminal and returns the final
// report. Cancelling ctx aborts the run the same way a failure does in
// aggressive mode; Run still waits for every launched process to exit and then
// returns the report together with ctx's error.
//
// A Scheduler runs once.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return nil, errors.New("scheduler: already ran")
	}

	r := &run{
		Scheduler: s,
		ctx:       ctx,
		running:   make(map[string]context.CancelFunc),
		signalled: make(map[string]error),
		done:      make(chan completion, s.graph.Len()),
	}
	report := &Report{StartedAt: time.Now(), Mode: s.mode}

	r.initialize()

	ctxDone := ctx.Done()
	var stallErr error
	for {
		if ctxDone != nil && ctx.Err() != nil {
			ctxDone = nil
			r.abort(ErrAborted)
		}
		if !r.aborting {
			r.admit()
		}
		if len(r.running) == 0 {
			if !r.aborting && r.ready.len() > 0 {
				stallErr = ErrStalled
				r.abort(ErrStalled)
			}
			break
		}

		select {
		case c := <-r.done:
			r.complete(c)
		case <-ctxDone:
			ctxDone = nil
			r.abort(ErrAborted)
		}
	}
	_ = r.group.Wait()

	report.Duration = time.Since(report.StartedAt)
	report.Tasks = s.graph.Tasks()

	if stallErr != nil {
		return report, stallErr
	}
	return report, ctx.Err()
}

// initialize moves every task to Runnable or Blocked.
func (r *run) initialize() {
	runnable := make(map[string]bool)
	for _, t := range r.graph.Runnable() {
		runnable[t.ID] = true
	}
	for _, t := range r.graph.Tasks() {
		state := TaskBlocked
		if runnable[t.ID] {
			state = TaskRunnable
			r.ready.push(t.ID, t.Priority, r.graph.sequence(t.ID))
		}
		r.graph.update(t.ID, func(task *Task) {
			task.State = state
			task.Err = nil
			task.ExitCode = 0
			task.StartedAt = time.Time{}
			task.Duration = 0
		})
	}
}

// admit scans the ready set in priority order, reserving resources for every
// task that fits. Skipped tasks release immediately and may unblock dependents,
// which join the same scan.
func (r *run) admit() {
	var deferred []readyItem
	for {
		item, ok := r.ready.pop()
		if !ok {
			break
		}
		task, _ := r.graph.Get(item.id)

		if !r.pool.TryReserve(task.Resources) {
			deferred = append(deferred, item)
			continue
		}

		if !r.shouldRun(task) {
			r.pool.Release(task.Resources)
			r.transition(task.ID, eventSkip, func(t *Task) { t.State = TaskSkipped })
			r.unblock(task.ID)
			continue
		}

		r.launch(task)
	}
	for _, item := range deferred {
		r.ready.push(item.id, item.priority, item.seq)
	}
}

// shouldRun evaluates the task's condition. Evaluation errors mean run.
func (r *run) shouldRun(task *Task) bool {
	if task.Condition == nil {
		return true
	}
	must, err := task.Condition.ShouldRun()
	if err != nil {
		r.log.WithField("task", task.ID).WithError(err).Warn("condition evaluation failed, running task")
		return true
	}
	return must
}

func (r *run) launch(task *Task) {
	taskCtx, cancel := context.WithCancel(r.ctx)
	r.running[task.ID] = cancel

	started := time.Now()
	r.transition(task.ID, eventStart, func(t *Task) {
		t.State = TaskRunning
		t.StartedAt = started
	})

	r.group.Go(func() error {
		err := runSafely(taskCtx, r.runner, task)
		r.done <- completion{id: task.ID, err: err, duration: time.Since(started)}
		return nil
	})
}

func (r *run) complete(c completion) {
	cancel := r.running[c.id]
	delete(r.running, c.id)
	cancel()

	task, _ := r.graph.Get(c.id)
	r.pool.Release(task.Resources)

	record := func(t *Task) {
		t.Duration = c.duration
		t.ExitCode = exitCode(c.err)
	}

	reason, signalled := r.signalled[c.id]
	if !signalled && c.err != nil && r.ctx.Err() != nil {
		// Interrupted before the coordinator saw ctx.Done.
		r.abort(ErrAborted)
		reason, signalled = ErrAborted, true
	}
	switch {
	case c.err == nil:
		r.transition(c.id, eventSuccess, func(t *Task) {
			record(t)
			t.State = TaskSucceeded
		})
		r.unblock(c.id)

	case signalled:
		r.transition(c.id, eventCancel, func(t *Task) {
			record(t)
			t.State = TaskCancelled
			t.Err = fmt.Errorf("%w: %v", reason, c.err)
		})

	default:
		r.transition(c.id, eventFailure, func(t *Task) {
			record(t)
			t.State = TaskFailed
			t.Err = c.err
		})
		r.log.WithField("task", c.id).WithError(c.err).Debug("task failed")
		r.applyFailurePolicy(c.id)
	}
}

// unblock promotes dependents of a finished task that are now runnable.
func (r *run) unblock(taskID string) {
	if r.aborting {
		return
	}
	for _, dep := range r.graph.Dependents(taskID) {
		if r.graph.promote(dep) {
			t, _ := r.graph.Get(dep)
			r.ready.push(t.ID, t.Priority, r.graph.sequence(t.ID))
		}
	}
}

func (r *run) applyFailurePolicy(failedID string) {
	cause := &CancelledError{Cause: failedID}
	switch r.mode {
	case FailContinue:
		for _, id := range r.graph.Descendants(failedID) {
			t, _ := r.graph.Get(id)
			if t.State.IsTerminal() || t.State == TaskRunning {
				continue
			}
			r.transition(id, eventCancel, func(task *Task) {
				task.State = TaskCancelled
				task.Err = cause
			})
		}
	default:
		r.abort(cause)
	}
}

// abort cancels every task that has not started and signals every running
// task to terminate. No task is admitted afterwards.
func (r *run) abort(reason error) {
	if r.aborting {
		return
	}
	r.aborting = true

	r.ready.drain()
	for _, t := range r.graph.Tasks() {
		switch t.State {
		case TaskPending, TaskBlocked, TaskRunnable:
			r.transition(t.ID, eventCancel, func(task *Task) {
				task.State = TaskCancelled
				task.Err = reason
			})
		}
	}

	for id, cancel := range r.running {
		r.signalled[id] = reason
		cancel()
	}
}

// transition mutates the task under the graph lock, then notifies observers
// with the resulting snapshot.
func (r *run) transition(taskID string, e event, fn func(*Task)) {
	r.graph.update(taskID, fn)
	if len(r.observers) == 0 {
		return
	}
	task, _ := r.graph.Get(taskID)
	notify(r.log, r.observers, e, task)
}
