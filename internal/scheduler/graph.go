package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/deque"
	"github.com/gammazero/toposort"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/aristath/sweeprun/internal/resource"
)

// Graph is a directed acyclic graph of tasks. It owns its tasks: callers get
// copies, and only the scheduler changes task state.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*Task    // All tasks indexed by ID
	order      []string            // Insertion order, the priority tie-break
	seq        map[string]int      // taskID -> position in order
	dependents map[string][]string // Maps taskID -> list of tasks that depend on it
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		tasks:      make(map[string]*Task),
		seq:        make(map[string]int),
		dependents: make(map[string][]string),
	}
}

// AddTask adds a copy of task to the graph in state TaskPending.
// Returns a *GraphError if the ID is empty or already present.
func (g *Graph) AddTask(task *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if task.ID == "" {
		return &GraphError{Kind: ErrEmptyID}
	}
	if _, exists := g.tasks[task.ID]; exists {
		return &GraphError{Kind: ErrDuplicateTask, TaskID: task.ID}
	}

	t := cloneTask(task)
	t.State = TaskPending
	t.Err = nil
	g.tasks[t.ID] = t
	g.seq[t.ID] = len(g.order)
	g.order = append(g.order, t.ID)

	// Build dependents map for efficient downstream lookup
	for _, depID := range dedupe(t.DependsOn) {
		g.dependents[depID] = append(g.dependents[depID], t.ID)
	}

	return nil
}

// Validate checks that every dependency exists, that the graph is acyclic and,
// when pool is non-nil, that every task's resource request fits the pool's
// capacity. Returns the task IDs in a topological order.
func (g *Graph) Validate(pool *resource.Pool) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// First, verify all dependencies exist
	for _, taskID := range g.order {
		for _, depID := range g.tasks[taskID].DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return nil, &GraphError{Kind: ErrMissingDependency, TaskID: taskID, Detail: fmt.Sprintf("%q", depID)}
			}
		}
	}

	// Build edges for topological sort
	var edges []toposort.Edge
	for _, taskID := range g.order {
		task := g.tasks[taskID]
		if len(task.DependsOn) == 0 {
			// Task with no dependencies - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, taskID})
			continue
		}
		for _, depID := range task.DependsOn {
			// Edge (depID, taskID) means depID must come before taskID
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, &GraphError{Kind: ErrCycle, Detail: err.Error(), Tasks: g.unorderedLocked(sorted)}
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	// Tasks that only sit on a cycle never appear in the sort.
	if len(order) != len(g.tasks) {
		return nil, &GraphError{Kind: ErrCycle, Tasks: g.unorderedLocked(sorted)}
	}

	if pool != nil {
		for _, taskID := range g.order {
			if err := pool.Fits(g.tasks[taskID].Resources); err != nil {
				return nil, fmt.Errorf("task %q: %w", taskID, err)
			}
		}
	}

	return order, nil
}

// unorderedLocked lists the tasks missing from a partial topological sort.
func (g *Graph) unorderedLocked(sorted []interface{}) []string {
	found := make(map[string]bool, len(sorted))
	for _, id := range sorted {
		if s, ok := id.(string); ok {
			found[s] = true
		}
	}
	var missing []string
	for _, taskID := range g.order {
		if !found[taskID] {
			missing = append(missing, taskID)
		}
	}
	return missing
}

// Runnable returns the Pending or Blocked tasks whose dependencies have all
// Succeeded or been Skipped, in insertion order.
func (g *Graph) Runnable() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var runnable []*Task
	for _, taskID := range g.order {
		task := g.tasks[taskID]
		if task.State != TaskPending && task.State != TaskBlocked {
			continue
		}
		if g.dependenciesSatisfiedLocked(task) {
			runnable = append(runnable, cloneTask(task))
		}
	}
	return runnable
}

func (g *Graph) dependenciesSatisfiedLocked(task *Task) bool {
	for _, depID := range task.DependsOn {
		dep, exists := g.tasks[depID]
		if !exists || !dep.State.satisfies() {
			return false
		}
	}
	return true
}

// Dependents returns the IDs of tasks that directly depend on taskID.
func (g *Graph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[taskID]...)
}

// Descendants returns every task reachable from taskID through dependent
// edges, in breadth-first order.
func (g *Graph) Descendants(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	seen := map[string]bool{taskID: true}
	var queue deque.Deque[string]
	queue.PushBack(taskID)
	for queue.Len() > 0 {
		id := queue.PopFront()
		for _, dep := range g.dependents[id] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			queue.PushBack(dep)
		}
	}
	return out
}

// Get returns a copy of the task with the given ID.
func (g *Graph) Get(taskID string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks in insertion order.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*Task, 0, len(g.order))
	for _, taskID := range g.order {
		tasks = append(tasks, cloneTask(g.tasks[taskID]))
	}
	return tasks
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Counts returns how many tasks are in each state.
func (g *Graph) Counts() map[TaskState]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := make(map[TaskState]int)
	for _, task := range g.tasks {
		counts[task.State]++
	}
	return counts
}

// Order returns topologically sorted task IDs (calls Validate without a pool).
func (g *Graph) Order() ([]string, error) {
	return g.Validate(nil)
}

// fingerprintTask is the part of a task that identifies the work it does.
type fingerprintTask struct {
	ID        string
	Program   string
	Args      []string
	Dir       string
	DependsOn []string
	Resources map[string]float64
	Priority  int
}

// Fingerprint returns a structural hash of the graph: task ids, commands,
// dependencies, priorities and resource requests. Two graphs built from the
// same sweep configuration have the same fingerprint.
func (g *Graph) Fingerprint() (uint64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := append([]string(nil), g.order...)
	sort.Strings(ids)

	shape := make([]fingerprintTask, 0, len(ids))
	for _, id := range ids {
		t := g.tasks[id]
		deps := append([]string(nil), t.DependsOn...)
		sort.Strings(deps)
		shape = append(shape, fingerprintTask{
			ID:        t.ID,
			Program:   t.Command.Program,
			Args:      t.Command.Args,
			Dir:       t.Command.Dir,
			DependsOn: deps,
			Resources: t.Resources,
			Priority:  t.Priority,
		})
	}
	return hashstructure.Hash(shape, hashstructure.FormatV2, nil)
}

// update applies fn to the live task under the write lock. Only the scheduler
// calls this.
func (g *Graph) update(taskID string, fn func(*Task)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if task, ok := g.tasks[taskID]; ok {
		fn(task)
	}
}

// promote moves a Blocked task to Runnable once all its dependencies are
// satisfied. Reports whether the transition happened.
func (g *Graph) promote(taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[taskID]
	if !ok || task.State != TaskBlocked || !g.dependenciesSatisfiedLocked(task) {
		return false
	}
	task.State = TaskRunnable
	return true
}

// sequence returns the insertion position of taskID.
func (g *Graph) sequence(taskID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.seq[taskID]
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
