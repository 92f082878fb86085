package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aristath/sweeprun/internal/condition"
	"github.com/aristath/sweeprun/internal/process"
	"github.com/aristath/sweeprun/internal/resource"
)

// recorder is an Observer that records every notification.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(kind string, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+task.ID)
	return nil
}

func (r *recorder) OnStart(task *Task) error   { return r.add("start", task) }
func (r *recorder) OnSkip(task *Task) error    { return r.add("skip", task) }
func (r *recorder) OnSuccess(task *Task) error { return r.add("success", task) }
func (r *recorder) OnFailure(task *Task) error { return r.add("failure", task) }
func (r *recorder) OnCancel(task *Task) error  { return r.add("cancel", task) }

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// starts returns the IDs of started tasks in start order.
func (r *recorder) starts() []string {
	var ids []string
	for _, e := range r.list() {
		if len(e) > 6 && e[:6] == "start:" {
			ids = append(ids, e[6:])
		}
	}
	return ids
}

// fakeRunner runs tasks in-process, tracking concurrency.
type fakeRunner struct {
	delay   time.Duration
	fail    map[string]bool
	block   map[string]bool // Run until ctx is cancelled
	calls   atomic.Int32
	active  atomic.Int32
	peak    atomic.Int32
	mu      sync.Mutex
	started []string
}

func (f *fakeRunner) Run(ctx context.Context, task *Task) error {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.started = append(f.started, task.ID)
	f.mu.Unlock()

	if f.block[task.ID] {
		<-ctx.Done()
		return &process.ExitError{Program: task.ID, Code: -1, Signaled: true, Err: ctx.Err()}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.fail[task.ID] {
		return &process.ExitError{Program: task.ID, Code: 1}
	}
	return nil
}

func newPool(t *testing.T, caps map[string]float64) *resource.Pool {
	t.Helper()
	pool, err := resource.NewPool(caps)
	require.NoError(t, err)
	return pool
}

// peakTracker records the highest allocation of each resource.
func peakTracker(pool *resource.Pool) func(string) float64 {
	var mu sync.Mutex
	peak := make(map[string]float64)
	pool.OnChange(func(name string, allocated, capacity float64) {
		mu.Lock()
		defer mu.Unlock()
		if allocated > peak[name] {
			peak[name] = allocated
		}
	})
	return func(name string) float64 {
		mu.Lock()
		defer mu.Unlock()
		return peak[name]
	}
}

func cpu(n float64) resource.Request { return resource.Request{resource.CPUs: n} }

func runGraph(t *testing.T, g *Graph, pool *resource.Pool, runner Runner, opts ...Option) *Report {
	t.Helper()
	s, err := New(g, pool, runner, opts...)
	require.NoError(t, err)
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	return report
}

func requireState(t *testing.T, report *Report, id string, want TaskState) {
	t.Helper()
	got, ok := report.State(id)
	require.True(t, ok, "task %s missing from report", id)
	require.Equal(t, want, got, "task %s", id)
}

func TestScheduler_ChainRunsSerially(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "A", Resources: cpu(1)})
	g.AddTask(&Task{ID: "B", Resources: cpu(1), DependsOn: []string{"A"}})
	g.AddTask(&Task{ID: "C", Resources: cpu(1), DependsOn: []string{"B"}})

	pool := newPool(t, map[string]float64{resource.CPUs: 1})
	peak := peakTracker(pool)
	runner := &fakeRunner{delay: 5 * time.Millisecond}
	rec := &recorder{}

	report := runGraph(t, g, pool, runner, WithObservers(rec))

	require.Equal(t, []string{"A", "B", "C"}, rec.starts())
	require.Equal(t, int32(1), runner.peak.Load())
	require.LessOrEqual(t, peak(resource.CPUs), 1.0)
	require.True(t, pool.Idle())
	require.NoError(t, report.Err())
	for _, id := range []string{"A", "B", "C"} {
		requireState(t, report, id, TaskSucceeded)
	}
}

func TestScheduler_IndependentTasksRunConcurrently(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "X", Resources: cpu(1)})
	g.AddTask(&Task{ID: "Y", Resources: cpu(1)})

	// Each task waits for the other to start.
	var wg sync.WaitGroup
	wg.Add(2)
	both := make(chan struct{})
	go func() {
		wg.Wait()
		close(both)
	}()
	runner := RunnerFunc(func(ctx context.Context, task *Task) error {
		wg.Done()
		select {
		case <-both:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("peer never started")
		}
	})

	report := runGraph(t, g, newPool(t, map[string]float64{resource.CPUs: 2}), runner)
	requireState(t, report, "X", TaskSucceeded)
	requireState(t, report, "Y", TaskSucceeded)
}

func TestScheduler_FreshOutputsAreSkipped(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(out, []byte("y"), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(in, old, old))

	g := NewGraph()
	g.AddTask(&Task{ID: "Z", Resources: cpu(1), Condition: condition.NewFileModification([]string{in}, []string{out})})
	g.AddTask(&Task{ID: "after", Resources: cpu(1), DependsOn: []string{"Z"}})

	pool := newPool(t, map[string]float64{resource.CPUs: 1})
	runner := &fakeRunner{}
	rec := &recorder{}
	report := runGraph(t, g, pool, runner, WithObservers(rec))

	requireState(t, report, "Z", TaskSkipped)
	requireState(t, report, "after", TaskSucceeded)
	require.Equal(t, int32(1), runner.calls.Load(), "only the dependent should launch")
	require.Equal(t, []string{"skip:Z", "start:after", "success:after"}, rec.list())
	require.True(t, pool.Idle())
}

func TestScheduler_StaleOutputsRun(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(out, []byte("y"), 0644))
	require.NoError(t, os.WriteFile(in, []byte("x"), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(out, old, old))

	g := NewGraph()
	g.AddTask(&Task{ID: "Z", Condition: condition.NewFileModification([]string{in}, []string{out})})

	runner := &fakeRunner{}
	report := runGraph(t, g, newPool(t, nil), runner)
	requireState(t, report, "Z", TaskSucceeded)
	require.Equal(t, int32(1), runner.calls.Load())
}

type erroringCondition struct{}

func (erroringCondition) ShouldRun() (bool, error) { return false, errors.New("permission denied") }

func TestScheduler_ConditionErrorRuns(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "A", Condition: erroringCondition{}})

	runner := &fakeRunner{}
	report := runGraph(t, g, newPool(t, nil), runner)
	requireState(t, report, "A", TaskSucceeded)
	require.Equal(t, int32(1), runner.calls.Load())
}

// failureGraph builds F (fails) -> G, and an independent H.
func failureGraph() *Graph {
	g := NewGraph()
	g.AddTask(&Task{ID: "F", Resources: cpu(1), Priority: 10})
	g.AddTask(&Task{ID: "G", Resources: cpu(1), DependsOn: []string{"F"}})
	g.AddTask(&Task{ID: "H", Resources: cpu(1)})
	return g
}

func TestScheduler_AggressiveFailCancelsPending(t *testing.T) {
	pool := newPool(t, map[string]float64{resource.CPUs: 1})
	runner := &fakeRunner{fail: map[string]bool{"F": true}}
	rec := &recorder{}

	report := runGraph(t, failureGraph(), pool, runner, WithObservers(rec), WithFailureMode(FailAggressive))

	requireState(t, report, "F", TaskFailed)
	requireState(t, report, "G", TaskCancelled)
	requireState(t, report, "H", TaskCancelled)
	require.Equal(t, []string{"F"}, rec.starts())

	err := report.Err()
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, []string{"F"}, failed.Tasks)
	require.Equal(t, 2, failed.Cancelled)

	g, _ := report.State("G")
	require.Equal(t, TaskCancelled, g)
	for _, task := range report.Tasks {
		if task.ID == "G" {
			var cancelled *CancelledError
			require.ErrorAs(t, task.Err, &cancelled)
			require.Equal(t, "F", cancelled.Cause)
		}
	}
	require.True(t, pool.Idle())
}

func TestScheduler_ContinueOnFailure(t *testing.T) {
	pool := newPool(t, map[string]float64{resource.CPUs: 1})
	runner := &fakeRunner{fail: map[string]bool{"F": true}}

	report := runGraph(t, failureGraph(), pool, runner, WithFailureMode(FailContinue))

	requireState(t, report, "F", TaskFailed)
	requireState(t, report, "G", TaskCancelled)
	requireState(t, report, "H", TaskSucceeded)
	require.Error(t, report.Err())
	require.Equal(t, []string{"G"}, report.IDs(TaskCancelled))
}

func TestScheduler_ContinueCancelsTransitiveDependents(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "root"})
	g.AddTask(&Task{ID: "mid", DependsOn: []string{"root"}})
	g.AddTask(&Task{ID: "leaf", DependsOn: []string{"mid"}})
	g.AddTask(&Task{ID: "join", DependsOn: []string{"leaf", "other"}})
	g.AddTask(&Task{ID: "other"})

	runner := &fakeRunner{fail: map[string]bool{"root": true}}
	report := runGraph(t, g, newPool(t, nil), runner, WithFailureMode(FailContinue))

	requireState(t, report, "root", TaskFailed)
	requireState(t, report, "mid", TaskCancelled)
	requireState(t, report, "leaf", TaskCancelled)
	requireState(t, report, "join", TaskCancelled)
	requireState(t, report, "other", TaskSucceeded)
}

func TestScheduler_AggressiveFailTerminatesRunning(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "long", Resources: cpu(1), Priority: 1})
	g.AddTask(&Task{ID: "bad", Resources: cpu(1)})
	g.AddTask(&Task{ID: "later", Resources: cpu(1), DependsOn: []string{"long"}})

	runner := &fakeRunner{
		delay: 20 * time.Millisecond,
		fail:  map[string]bool{"bad": true},
		block: map[string]bool{"long": true},
	}
	rec := &recorder{}
	report := runGraph(t, g, newPool(t, map[string]float64{resource.CPUs: 2}), runner, WithObservers(rec))

	requireState(t, report, "bad", TaskFailed)
	requireState(t, report, "long", TaskCancelled)
	requireState(t, report, "later", TaskCancelled)
	require.ElementsMatch(t, []string{"long", "bad"}, rec.starts())
	require.Equal(t, int32(0), runner.active.Load())
}

func TestScheduler_PriorityOrder(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "low", Resources: cpu(1), Priority: 0})
	g.AddTask(&Task{ID: "high", Resources: cpu(1), Priority: 5})
	g.AddTask(&Task{ID: "mid-1", Resources: cpu(1), Priority: 1})
	g.AddTask(&Task{ID: "mid-2", Resources: cpu(1), Priority: 1})

	rec := &recorder{}
	runGraph(t, g, newPool(t, map[string]float64{resource.CPUs: 1}), &fakeRunner{}, WithObservers(rec))

	require.Equal(t, []string{"high", "mid-1", "mid-2", "low"}, rec.starts())
}

func TestScheduler_BackfillsSmallerTasks(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "small-running", Resources: resource.Request{resource.Memory: 0.5}, Priority: 10})
	g.AddTask(&Task{ID: "big", Resources: resource.Request{resource.Memory: 1}, Priority: 5})
	g.AddTask(&Task{ID: "small", Resources: resource.Request{resource.Memory: 0.5}})

	rec := &recorder{}
	runner := &fakeRunner{delay: 10 * time.Millisecond}
	report := runGraph(t, g, newPool(t, map[string]float64{resource.Memory: 1}), runner, WithObservers(rec))

	require.Equal(t, []string{"small-running", "small", "big"}, rec.starts())
	require.NoError(t, report.Err())
}

func TestScheduler_FractionalResources(t *testing.T) {
	g := NewGraph()
	for i := 0; i < 6; i++ {
		g.AddTask(&Task{ID: fmt.Sprintf("t%d", i), Resources: resource.Request{resource.CPUs: 1, resource.Memory: 0.1}})
	}

	pool := newPool(t, map[string]float64{resource.CPUs: 8, resource.Memory: 0.3})
	peak := peakTracker(pool)
	runner := &fakeRunner{delay: 10 * time.Millisecond}
	report := runGraph(t, g, pool, runner)

	require.NoError(t, report.Err())
	require.Equal(t, int32(3), runner.peak.Load())
	require.InDelta(t, 0.3, peak(resource.Memory), 1e-9)
}

type panickingObserver struct{ recorder }

func (p *panickingObserver) OnStart(task *Task) error { panic("observer bug") }
func (p *panickingObserver) OnSuccess(task *Task) error {
	return errors.New("cannot write log")
}

func TestScheduler_ObserverFailuresAreIsolated(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "A"})
	g.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})

	first := &recorder{}
	last := &recorder{}
	report := runGraph(t, g, newPool(t, nil), &fakeRunner{}, WithObservers(first, &panickingObserver{}, last))

	require.NoError(t, report.Err())
	want := []string{"start:A", "success:A", "start:B", "success:B"}
	require.Equal(t, want, first.list())
	require.Equal(t, want, last.list(), "observers after a failing one must still be called")
}

func TestScheduler_RunnerPanicFailsTask(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "A"})

	runner := RunnerFunc(func(ctx context.Context, task *Task) error { panic("boom") })
	report := runGraph(t, g, newPool(t, nil), runner)

	requireState(t, report, "A", TaskFailed)
	require.ErrorContains(t, report.Tasks[0].Err, "boom")
}

func TestScheduler_ExitCodeRecorded(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "A"})

	runner := RunnerFunc(func(ctx context.Context, task *Task) error {
		return &process.ExitError{Program: "ssparse", Code: 7}
	})
	report := runGraph(t, g, newPool(t, nil), runner, WithFailureMode(FailContinue))

	require.Equal(t, 7, report.Tasks[0].ExitCode)
	require.False(t, report.Tasks[0].StartedAt.IsZero())
}

func TestScheduler_ContextCancellation(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "long", Resources: cpu(1)})
	g.AddTask(&Task{ID: "next", Resources: cpu(1), DependsOn: []string{"long"}})
	g.AddTask(&Task{ID: "queued", Resources: cpu(1)})

	runner := &fakeRunner{block: map[string]bool{"long": true, "queued": true}}
	s, err := New(g, newPool(t, map[string]float64{resource.CPUs: 1}), runner)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	report, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, report.Err(), "an interrupted run has no failed tasks")

	requireState(t, report, "long", TaskCancelled)
	requireState(t, report, "next", TaskCancelled)
	requireState(t, report, "queued", TaskCancelled)
	for _, task := range report.Tasks {
		require.ErrorIs(t, task.Err, ErrAborted, "task %s", task.ID)
	}
}

func TestScheduler_AlreadyCancelledContext(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "A"})

	runner := &fakeRunner{}
	s, err := New(g, newPool(t, nil), runner)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := s.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	requireState(t, report, "A", TaskCancelled)
	require.Equal(t, int32(0), runner.calls.Load())
}

func TestScheduler_BuildErrors(t *testing.T) {
	pool := newPool(t, map[string]float64{resource.CPUs: 1})

	cyclic := NewGraph()
	cyclic.AddTask(&Task{ID: "A", DependsOn: []string{"B"}})
	cyclic.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
	_, err := New(cyclic, pool, &fakeRunner{})
	require.ErrorIs(t, err, ErrCycle)

	dangling := NewGraph()
	dangling.AddTask(&Task{ID: "A", DependsOn: []string{"ghost"}})
	_, err = New(dangling, pool, &fakeRunner{})
	require.ErrorIs(t, err, ErrMissingDependency)

	greedy := NewGraph()
	greedy.AddTask(&Task{ID: "A", Resources: cpu(2)})
	_, err = New(greedy, pool, &fakeRunner{})
	var unsat *resource.UnsatisfiableError
	require.ErrorAs(t, err, &unsat)

	_, err = New(NewGraph(), nil, &fakeRunner{})
	require.Error(t, err)
}

func TestScheduler_RunsOnce(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "A"})
	s, err := New(g, newPool(t, nil), &fakeRunner{})
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.Error(t, err)
}

func TestScheduler_StallsOnExternallyHeldPool(t *testing.T) {
	g := NewGraph()
	g.AddTask(&Task{ID: "A", Resources: cpu(1)})

	pool := newPool(t, map[string]float64{resource.CPUs: 1})
	s, err := New(g, pool, &fakeRunner{})
	require.NoError(t, err)
	require.True(t, pool.TryReserve(cpu(1)))

	report, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrStalled)
	requireState(t, report, "A", TaskCancelled)
}

func TestScheduler_EmptyGraph(t *testing.T) {
	report := runGraph(t, NewGraph(), newPool(t, nil), &fakeRunner{})
	require.Empty(t, report.Tasks)
	require.NoError(t, report.Err())
}

func TestParseFailureMode(t *testing.T) {
	tests := []struct {
		in      string
		want    FailureMode
		wantErr bool
	}{
		{"aggressive", FailAggressive, false},
		{"", FailAggressive, false},
		{"Continue", FailContinue, false},
		{"continue-on-failure", FailContinue, false},
		{"sometimes", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFailureMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFailureMode(%q) error = %v", tt.in, err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseFailureMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
