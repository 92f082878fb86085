package process

import "fmt"

// LaunchError reports that a program could not be started at all.
type LaunchError struct {
	Program string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Program, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExitError reports that a program ran and exited unsuccessfully.
// Code is -1 when the process was terminated by a signal.
type ExitError struct {
	Program  string
	Code     int
	Signaled bool // Termination was requested through context cancellation
	Err      error
}

func (e *ExitError) Error() string {
	if e.Signaled {
		return fmt.Sprintf("%s terminated: %v", e.Program, e.Err)
	}
	return fmt.Sprintf("%s exited with status %d", e.Program, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }
