package resource

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPool_TryReserveAllOrNothing(t *testing.T) {
	pool, err := NewPool(map[string]float64{CPUs: 2, Memory: 1})
	require.NoError(t, err)

	// mem does not fit, so cpus must not be reserved either
	require.False(t, pool.TryReserve(Request{CPUs: 1, Memory: 2}))
	require.Equal(t, 0.0, pool.Allocated()[CPUs])

	require.True(t, pool.TryReserve(Request{CPUs: 1, Memory: 0.5}))
	require.True(t, pool.TryReserve(Request{CPUs: 1, Memory: 0.5}))
	require.False(t, pool.TryReserve(Request{CPUs: 1}))

	pool.Release(Request{CPUs: 1, Memory: 0.5})
	require.True(t, pool.TryReserve(Request{CPUs: 1}))
}

func TestPool_FractionalSumsAreExact(t *testing.T) {
	pool, err := NewPool(map[string]float64{Memory: 3.3})
	require.NoError(t, err)

	// 1.1 + 1.1 + 1.1 overshoots 3.3 in float64 arithmetic
	for i := 0; i < 3; i++ {
		require.True(t, pool.TryReserve(Request{Memory: 1.1}), "reservation %d", i)
	}
	require.False(t, pool.TryReserve(Request{Memory: 0.000001}))

	for i := 0; i < 3; i++ {
		pool.Release(Request{Memory: 1.1})
	}
	require.True(t, pool.Idle())
}

func TestPool_UnknownResourceHasZeroCapacity(t *testing.T) {
	pool, err := NewPool(map[string]float64{CPUs: 4})
	require.NoError(t, err)

	require.False(t, pool.TryReserve(Request{"gpu": 1}))
	require.True(t, pool.TryReserve(Request{"gpu": 0, CPUs: 1}))
}

func TestPool_Fits(t *testing.T) {
	pool, err := NewPool(map[string]float64{CPUs: 2, Memory: 8})
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     Request
		wantErr bool
		unsat   string
	}{
		{name: "empty request", req: Request{}},
		{name: "exactly capacity", req: Request{CPUs: 2, Memory: 8}},
		{name: "cpu exceeds", req: Request{CPUs: 3}, wantErr: true, unsat: CPUs},
		{name: "missing resource", req: Request{"gpu": 1}, wantErr: true, unsat: "gpu"},
		{name: "negative quantity", req: Request{Memory: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pool.Fits(tt.req)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.unsat != "" {
				var ue *UnsatisfiableError
				require.True(t, errors.As(err, &ue))
				require.Equal(t, tt.unsat, ue.Resource)
			}
		})
	}
}

func TestPool_NegativeCapacityRejected(t *testing.T) {
	_, err := NewPool(map[string]float64{CPUs: -1})
	require.Error(t, err)
}

func TestPool_ReleaseMoreThanAllocatedPanics(t *testing.T) {
	pool, err := NewPool(map[string]float64{CPUs: 1})
	require.NoError(t, err)
	require.Panics(t, func() { pool.Release(Request{CPUs: 1}) })
}

func TestPool_OnChange(t *testing.T) {
	pool, err := NewPool(map[string]float64{CPUs: 2})
	require.NoError(t, err)

	var seen []float64
	pool.OnChange(func(name string, allocated, capacity float64) {
		require.Equal(t, CPUs, name)
		require.Equal(t, 2.0, capacity)
		seen = append(seen, allocated)
	})

	require.True(t, pool.TryReserve(Request{CPUs: 1}))
	require.True(t, pool.TryReserve(Request{CPUs: 1}))
	require.False(t, pool.TryReserve(Request{CPUs: 1}))
	pool.Release(Request{CPUs: 2})

	require.Equal(t, []float64{1, 2, 0}, seen)
}

func TestPool_ConcurrentReserveNeverExceedsCapacity(t *testing.T) {
	pool, err := NewPool(map[string]float64{CPUs: 3})
	require.NoError(t, err)

	var mu sync.Mutex
	var peak float64
	pool.OnChange(func(_ string, allocated, _ float64) {
		mu.Lock()
		if allocated > peak {
			peak = allocated
		}
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if pool.TryReserve(Request{CPUs: 1}) {
					pool.Release(Request{CPUs: 1})
				}
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak, 3.0)
	require.True(t, pool.Idle())
}

// TestPool_InvariantWithRapid drives random reserve/release sequences against
// a model and checks allocated never exceeds capacity.
func TestPool_InvariantWithRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := map[string]float64{
			CPUs:   float64(rapid.IntRange(1, 8).Draw(t, "cpus")),
			Memory: float64(rapid.IntRange(1, 64).Draw(t, "memTenths")) / 10,
		}
		pool, err := NewPool(capacity)
		if err != nil {
			t.Fatalf("NewPool: %v", err)
		}

		var held []Request
		t.Repeat(map[string]func(*rapid.T){
			"reserve": func(t *rapid.T) {
				req := Request{
					CPUs:   float64(rapid.IntRange(0, 3).Draw(t, "reqCPUs")),
					Memory: float64(rapid.IntRange(0, 20).Draw(t, "reqMemTenths")) / 10,
				}
				if pool.TryReserve(req) {
					held = append(held, req)
				}
			},
			"release": func(t *rapid.T) {
				if len(held) == 0 {
					t.Skip("nothing held")
				}
				i := rapid.IntRange(0, len(held)-1).Draw(t, "index")
				pool.Release(held[i])
				held = append(held[:i], held[i+1:]...)
			},
			"": func(t *rapid.T) {
				want := map[string]Quantity{}
				for _, r := range held {
					for name, v := range r {
						want[name] += QuantityOf(v)
					}
				}
				alloc := pool.Allocated()
				for name, c := range capacity {
					if QuantityOf(alloc[name]) != want[name] {
						t.Fatalf("%s allocated %g, model %g", name, alloc[name], want[name].Float())
					}
					if QuantityOf(alloc[name]) > QuantityOf(c) {
						t.Fatalf("%s allocated %g exceeds capacity %g", name, alloc[name], c)
					}
				}
			},
		})
	})
}
