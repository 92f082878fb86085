package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/sweeprun/internal/process"
)

// Runner executes a task's work and blocks until it is done. A nil error means
// success. Runners must return promptly once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, task *Task) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task *Task) error

// Run calls f(ctx, task).
func (f RunnerFunc) Run(ctx context.Context, task *Task) error { return f(ctx, task) }

// ProcessRunner runs each task's command as an external process.
type ProcessRunner struct {
	Launcher *process.Launcher
}

// NewProcessRunner creates a runner backed by the given launcher.
func NewProcessRunner(l *process.Launcher) *ProcessRunner {
	return &ProcessRunner{Launcher: l}
}

// Run launches the task's command with its output redirect.
func (r *ProcessRunner) Run(ctx context.Context, task *Task) error {
	return r.Launcher.Run(ctx, task.Command, task.Output)
}

// runSafely converts a runner panic into a task failure.
func runSafely(ctx context.Context, r Runner, task *Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("runner panicked: %v", p)
		}
	}()
	return r.Run(ctx, task)
}

// exitCode extracts a process exit status from a runner error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *process.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}
