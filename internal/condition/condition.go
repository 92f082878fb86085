// Package condition decides whether a task's work is stale and must run.
package condition

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Condition reports whether a task must execute. Implementations must be pure
// functions of the current filesystem state.
type Condition interface {
	ShouldRun() (bool, error)
}

// OutputDeclarer is implemented by conditions that know which files a task
// produces.
type OutputDeclarer interface {
	Outputs() []string
}

// FileModification permits skipping a task when every declared output exists
// and is strictly newer than every declared input.
//
// The rules, in order:
//   - no outputs declared: run
//   - any input missing: run
//   - any output missing: run
//   - newest input not strictly older than oldest output: run
//   - otherwise: skip
//
// Empty input paths are ignored, so a condition with only empty inputs behaves
// like one with no inputs and runs only when an output is missing.
type FileModification struct {
	inputs  []string
	outputs []string
}

// NewFileModification creates a condition over the given inputs and outputs.
func NewFileModification(inputs, outputs []string) *FileModification {
	return &FileModification{
		inputs:  append([]string(nil), inputs...),
		outputs: append([]string(nil), outputs...),
	}
}

// AddInput appends an input path.
func (c *FileModification) AddInput(path string) {
	c.inputs = append(c.inputs, path)
}

// AddOutput appends an output path.
func (c *FileModification) AddOutput(path string) {
	c.outputs = append(c.outputs, path)
}

// Inputs returns a copy of the declared inputs.
func (c *FileModification) Inputs() []string {
	return append([]string(nil), c.inputs...)
}

// Outputs returns a copy of the declared outputs.
func (c *FileModification) Outputs() []string {
	return append([]string(nil), c.outputs...)
}

// ShouldRun evaluates the staleness rules against the filesystem.
// A non-nil error means a file could not be inspected for a reason other than
// not existing; callers should run the task in that case.
func (c *FileModification) ShouldRun() (bool, error) {
	if len(c.outputs) == 0 {
		return true, nil
	}

	var newestInput time.Time
	for _, path := range c.inputs {
		if path == "" {
			continue
		}
		mtime, exists, err := modTime(path)
		if err != nil {
			return true, err
		}
		if !exists {
			return true, nil
		}
		if mtime.After(newestInput) {
			newestInput = mtime
		}
	}

	var oldestOutput time.Time
	for i, path := range c.outputs {
		mtime, exists, err := modTime(path)
		if err != nil {
			return true, err
		}
		if !exists {
			return true, nil
		}
		if i == 0 || mtime.Before(oldestOutput) {
			oldestOutput = mtime
		}
	}

	if newestInput.IsZero() {
		return false, nil
	}
	return !newestInput.Before(oldestOutput), nil
}

// Always is a condition that never permits skipping.
type Always struct{}

// ShouldRun always returns true.
func (Always) ShouldRun() (bool, error) { return true, nil }

func modTime(path string) (time.Time, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.ModTime(), true, nil
}
