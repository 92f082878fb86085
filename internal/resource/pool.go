package resource

import (
	"fmt"
	"sort"
	"sync"
)

// Well-known resource names used by the sweep builder.
const (
	CPUs   = "cpus"
	Memory = "mem"
)

// Request maps a resource name to the quantity a task needs while it runs.
type Request map[string]float64

// Clone returns a copy of the request.
func (r Request) Clone() Request {
	if r == nil {
		return nil
	}
	cp := make(Request, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// names returns the request's resource names in sorted order so that
// reservation and error reporting are deterministic.
func (r Request) names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnsatisfiableError reports a request that can never be admitted because a
// single resource quantity exceeds the pool's total capacity.
type UnsatisfiableError struct {
	Resource  string
	Requested float64
	Capacity  float64
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("resource %q unsatisfiable: requested %g, capacity %g", e.Resource, e.Requested, e.Capacity)
}

// ChangeFunc is invoked after every successful reservation or release with the
// new allocation of each resource touched by the request.
type ChangeFunc func(name string, allocated, capacity float64)

// Pool tracks named, quantized resources with a fixed capacity.
// Reservation is all-or-nothing: either every quantity in a request is
// reserved or none is, and no partial reservation is ever visible.
type Pool struct {
	mu        sync.Mutex
	capacity  map[string]Quantity
	allocated map[string]Quantity
	onChange  []ChangeFunc
}

// NewPool creates a pool with the given capacities.
func NewPool(capacities map[string]float64) (*Pool, error) {
	p := &Pool{
		capacity:  make(map[string]Quantity, len(capacities)),
		allocated: make(map[string]Quantity, len(capacities)),
	}
	for name, c := range capacities {
		if c < 0 {
			return nil, fmt.Errorf("resource %q has negative capacity %g", name, c)
		}
		p.capacity[name] = QuantityOf(c)
		p.allocated[name] = 0
	}
	return p, nil
}

// OnChange registers a hook that observes allocation changes.
func (p *Pool) OnChange(fn ChangeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// Fits reports whether the request could ever be admitted by an idle pool.
// Returns *UnsatisfiableError for the first offending resource.
func (p *Pool) Fits(req Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, name := range req.names() {
		v := req[name]
		if v < 0 {
			return fmt.Errorf("resource %q has negative quantity %g", name, v)
		}
		if QuantityOf(v) > p.capacity[name] {
			return &UnsatisfiableError{
				Resource:  name,
				Requested: v,
				Capacity:  p.capacity[name].Float(),
			}
		}
	}
	return nil
}

// TryReserve atomically reserves every quantity in the request if, for each
// resource, allocated+requested does not exceed capacity. Otherwise nothing is
// reserved and false is returned.
func (p *Pool) TryReserve(req Request) bool {
	p.mu.Lock()

	names := req.names()
	for _, name := range names {
		q := QuantityOf(req[name])
		if q < 0 || p.allocated[name]+q > p.capacity[name] {
			p.mu.Unlock()
			return false
		}
	}
	for _, name := range names {
		p.allocated[name] += QuantityOf(req[name])
	}
	changes := p.snapshotLocked(names)
	hooks := p.onChange
	p.mu.Unlock()

	notify(hooks, changes)
	return true
}

// Release returns a previously reserved request to the pool.
// Releasing more than is allocated is a programming error and panics.
func (p *Pool) Release(req Request) {
	p.mu.Lock()

	names := req.names()
	for _, name := range names {
		q := QuantityOf(req[name])
		if q > p.allocated[name] {
			p.mu.Unlock()
			panic(fmt.Sprintf("resource %q: release of %g exceeds allocation %g", name, req[name], p.allocated[name].Float()))
		}
	}
	for _, name := range names {
		p.allocated[name] -= QuantityOf(req[name])
	}
	changes := p.snapshotLocked(names)
	hooks := p.onChange
	p.mu.Unlock()

	notify(hooks, changes)
}

// Allocated returns a snapshot of the currently reserved quantities.
func (p *Pool) Allocated() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]float64, len(p.allocated))
	for name, q := range p.allocated {
		out[name] = q.Float()
	}
	return out
}

// Capacities returns a snapshot of the pool's capacities.
func (p *Pool) Capacities() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]float64, len(p.capacity))
	for name, q := range p.capacity {
		out[name] = q.Float()
	}
	return out
}

// Idle reports whether nothing is currently reserved.
func (p *Pool) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, q := range p.allocated {
		if q != 0 {
			return false
		}
	}
	return true
}

type change struct {
	name      string
	allocated float64
	capacity  float64
}

func (p *Pool) snapshotLocked(names []string) []change {
	if len(p.onChange) == 0 {
		return nil
	}
	out := make([]change, 0, len(names))
	for _, name := range names {
		out = append(out, change{
			name:      name,
			allocated: p.allocated[name].Float(),
			capacity:  p.capacity[name].Float(),
		})
	}
	return out
}

func notify(hooks []ChangeFunc, changes []change) {
	for _, c := range changes {
		for _, fn := range hooks {
			fn(c.name, c.allocated, c.capacity)
		}
	}
}
