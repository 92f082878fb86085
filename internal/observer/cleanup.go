// Package observer provides the standard scheduler observers: output cleanup,
// console progress, Prometheus metrics and event bus publishing.
package observer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/aristath/sweeprun/internal/scheduler"
)

// Base implements scheduler.Observer with no-op methods. Embed it to handle
// only some events.
type Base struct{}

func (Base) OnStart(*scheduler.Task) error   { return nil }
func (Base) OnSkip(*scheduler.Task) error    { return nil }
func (Base) OnSuccess(*scheduler.Task) error { return nil }
func (Base) OnFailure(*scheduler.Task) error { return nil }
func (Base) OnCancel(*scheduler.Task) error  { return nil }

// Cleanup deletes the declared outputs of tasks that failed or were terminated
// mid-run, so a partial artifact is never taken for a fresh one by the next
// run's staleness check. Cancelled tasks that never launched wrote nothing and
// are left alone.
type Cleanup struct {
	Base
	log logrus.FieldLogger
}

// NewCleanup creates a cleanup observer.
func NewCleanup(log logrus.FieldLogger) *Cleanup {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cleanup{log: log}
}

// OnFailure removes the failed task's outputs.
func (c *Cleanup) OnFailure(task *scheduler.Task) error {
	return c.remove(task)
}

// OnCancel removes the outputs of a cancelled task that had started. A task
// cancelled before launch keeps its outputs: they come from an earlier run
// and may still be fresh.
func (c *Cleanup) OnCancel(task *scheduler.Task) error {
	if task.StartedAt.IsZero() {
		return nil
	}
	return c.remove(task)
}

func (c *Cleanup) remove(task *scheduler.Task) error {
	var errs []error
	for _, path := range task.DeclaredOutputs() {
		err := os.Remove(path)
		switch {
		case err == nil:
			c.log.WithField("task", task.ID).WithField("path", path).Debug("removed partial output")
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}
