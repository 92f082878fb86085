package process

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sys/unix"
)

// RetryConfig configures exponential backoff for transient launch failures.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 50ms)
	MaxInterval         time.Duration // Maximum retry interval (default 1s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 10s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         time.Second,
		MaxElapsedTime:      10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// CircuitBreakerRegistry manages per-program circuit breakers. A program that
// fails to launch repeatedly (missing binary, bad permissions) trips its
// breaker and further launches fail fast instead of being retried.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry() *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given program, creating it on first use.
func (r *CircuitBreakerRegistry) Get(program string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[program]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        program,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[program] = cb
	return cb
}

// isTransient reports launch errors worth retrying: a binary still being
// written by a concurrent build, or a momentary process table limit.
func isTransient(err error) bool {
	return errors.Is(err, unix.ETXTBSY) || errors.Is(err, unix.EAGAIN)
}

// startWithRetry starts a freshly built command, retrying transient failures
// with exponential backoff. Each attempt goes through the program's breaker.
func (l *Launcher) startWithRetry(ctx context.Context, program string, build func() *exec.Cmd) (*exec.Cmd, error) {
	cb := l.breakers.Get(program)
	var started *exec.Cmd
	attempt := 0

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++

		// An exec.Cmd cannot be started twice.
		cmd := build()
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, l.start(cmd)
		})
		if err == nil {
			started = cmd
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		l.log.WithField("program", program).WithField("attempt", attempt).WithError(err).Warn("transient launch failure, retrying")
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.retry.InitialInterval
	policy.MaxInterval = l.retry.MaxInterval
	policy.MaxElapsedTime = l.retry.MaxElapsedTime
	policy.Multiplier = l.retry.Multiplier
	policy.RandomizationFactor = l.retry.RandomizationFactor

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return started, nil
}
