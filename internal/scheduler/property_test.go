package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aristath/sweeprun/internal/process"
	"github.com/aristath/sweeprun/internal/resource"
)

// checker observes a run and verifies ordering properties as it happens.
type checker struct {
	recorder
	graph       *Graph
	mu          sync.Mutex
	violations  []string
	failedSeen  bool
	startsAfter int
}

func (c *checker) OnStart(task *Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failedSeen {
		c.startsAfter++
	}
	for _, dep := range task.DependsOn {
		d, _ := c.graph.Get(dep)
		if !d.State.satisfies() {
			c.violations = append(c.violations, fmt.Sprintf("%s started while %s was %s", task.ID, dep, d.State))
		}
	}
	return nil
}

func (c *checker) OnFailure(task *Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedSeen = true
	return nil
}

func TestScheduler_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chk := require.New(t)

		n := rapid.IntRange(1, 12).Draw(t, "tasks")
		mode := FailureMode(rapid.IntRange(0, 1).Draw(t, "mode"))
		cpus := rapid.IntRange(1, 4).Draw(t, "cpus")
		mem := float64(rapid.IntRange(1, 8).Draw(t, "memTenths")) / 10

		g := NewGraph()
		fail := make(map[string]bool)
		deps := make(map[string][]string)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("t%d", i)
			// Dependencies only on earlier tasks keeps the graph acyclic.
			var ds []string
			for j := 0; j < i; j++ {
				if rapid.IntRange(0, 3).Draw(t, "edge") == 0 {
					ds = append(ds, fmt.Sprintf("t%d", j))
				}
			}
			deps[id] = ds
			fail[id] = rapid.IntRange(0, 5).Draw(t, "fail") == 0
			req := resource.Request{
				resource.CPUs:   float64(rapid.IntRange(0, cpus).Draw(t, "cpu")),
				resource.Memory: float64(rapid.IntRange(0, int(mem*10)).Draw(t, "mem")) / 10,
			}
			chk.NoError(g.AddTask(&Task{
				ID:        id,
				DependsOn: ds,
				Resources: req,
				Priority:  rapid.IntRange(-2, 2).Draw(t, "priority"),
			}))
		}

		pool, err := resource.NewPool(map[string]float64{resource.CPUs: float64(cpus), resource.Memory: mem})
		chk.NoError(err)

		var overMu sync.Mutex
		var over []string
		pool.OnChange(func(name string, allocated, capacity float64) {
			if allocated > capacity+1e-9 {
				overMu.Lock()
				over = append(over, fmt.Sprintf("%s %g > %g", name, allocated, capacity))
				overMu.Unlock()
			}
		})

		runner := RunnerFunc(func(ctx context.Context, task *Task) error {
			if fail[task.ID] {
				return &process.ExitError{Program: task.ID, Code: 1}
			}
			return nil
		})

		c := &checker{graph: g}
		s, err := New(g, pool, runner, WithFailureMode(mode), WithObservers(c))
		chk.NoError(err)

		report, err := s.Run(context.Background())
		chk.NoError(err)

		chk.Empty(over, "pool over-allocated")
		chk.Empty(c.violations)
		chk.True(pool.Idle(), "resources leaked")

		for _, task := range report.Tasks {
			chk.True(task.State.IsTerminal(), "%s ended %s", task.ID, task.State)
			if task.State == TaskFailed {
				chk.True(fail[task.ID])
			}
		}

		if mode == FailAggressive {
			chk.Zero(c.startsAfter, "tasks started after a failure")
			return
		}

		// A task with no failing ancestor must complete in continue mode.
		var tainted func(id string) bool
		memo := make(map[string]bool)
		tainted = func(id string) bool {
			if v, ok := memo[id]; ok {
				return v
			}
			v := fail[id]
			for _, d := range deps[id] {
				v = v || tainted(d)
			}
			memo[id] = v
			return v
		}
		for _, task := range report.Tasks {
			if !tainted(task.ID) {
				chk.Equal(TaskSucceeded, task.State, "%s has no failing ancestor", task.ID)
			} else if !fail[task.ID] {
				chk.Equal(TaskCancelled, task.State, "%s depends on a failure", task.ID)
			}
		}
	})
}
