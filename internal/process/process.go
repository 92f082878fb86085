package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// DefaultGracePeriod is how long a terminated process group may take to exit
// after SIGTERM before it is sent SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// Launcher runs external programs to completion. Each program runs in its own
// process group so that cancellation reaches every child it spawned.
type Launcher struct {
	pm       *ProcessManager
	grace    time.Duration
	retry    RetryConfig
	breakers *CircuitBreakerRegistry
	log      logrus.FieldLogger

	// start is exec.Cmd.Start; replaced in tests to inject launch failures.
	start func(cmd *exec.Cmd) error
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithGracePeriod sets the SIGTERM to SIGKILL escalation delay.
func WithGracePeriod(d time.Duration) Option {
	return func(l *Launcher) { l.grace = d }
}

// WithRetry sets the retry policy for transient launch failures.
func WithRetry(cfg RetryConfig) Option {
	return func(l *Launcher) { l.retry = cfg }
}

// WithLogger sets the logger used for retry and termination diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Launcher) { l.log = log }
}

// NewLauncher creates a Launcher that registers live processes with pm.
// pm may be nil.
func NewLauncher(pm *ProcessManager, opts ...Option) *Launcher {
	l := &Launcher{
		pm:       pm,
		grace:    DefaultGracePeriod,
		retry:    DefaultRetryConfig(),
		breakers: NewCircuitBreakerRegistry(),
		log:      logrus.StandardLogger(),
		start:    func(cmd *exec.Cmd) error { return cmd.Start() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run starts the command, waits for it to exit and classifies the outcome.
// It returns nil on a zero exit status, *LaunchError when the program could
// not be started and *ExitError when it exited non-zero or was terminated.
//
// Cancelling ctx sends SIGTERM to the process group and SIGKILL after the
// grace period; Run does not return until the process has exited.
func (l *Launcher) Run(ctx context.Context, c Command, r Redirect) error {
	stdout, stderr, closeFiles, err := openRedirect(r)
	if err != nil {
		return &LaunchError{Program: c.Program, Err: err}
	}
	defer closeFiles()

	var killMu sync.Mutex
	var killTimer *time.Timer

	build := func() *exec.Cmd {
		cmd := newCommand(ctx, c)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.Cancel = func() error {
			err := signalGroup(cmd, unix.SIGTERM)
			killMu.Lock()
			killTimer = time.AfterFunc(l.grace, func() {
				if err := signalGroup(cmd, unix.SIGKILL); err == nil {
					l.log.WithField("program", c.Program).Warn("process group ignored SIGTERM, killed")
				}
			})
			killMu.Unlock()
			return err
		}
		// Backstop in case the group leader exits while children keep our
		// output files open.
		cmd.WaitDelay = 2 * l.grace
		return cmd
	}

	cmd, err := l.startWithRetry(ctx, c.Program, build)
	if err != nil {
		return &LaunchError{Program: c.Program, Err: err}
	}

	if l.pm != nil {
		l.pm.Track(cmd)
		defer l.pm.Untrack(cmd)
	}

	waitErr := cmd.Wait()

	killMu.Lock()
	if killTimer != nil {
		killTimer.Stop()
	}
	killMu.Unlock()

	if waitErr == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return &ExitError{
			Program:  c.Program,
			Code:     exitErr.ExitCode(),
			Signaled: ctx.Err() != nil,
			Err:      waitErr,
		}
	}
	if ctx.Err() != nil {
		return &ExitError{Program: c.Program, Code: -1, Signaled: true, Err: fmt.Errorf("%w: %v", ctx.Err(), waitErr)}
	}
	return &ExitError{Program: c.Program, Code: -1, Err: waitErr}
}

// newCommand creates an exec.Cmd with process group isolation.
func newCommand(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // New process group so signals reach the whole tree
	}
	return cmd
}

// openRedirect opens the redirect targets, sharing a single descriptor when
// stdout and stderr name the same file.
func openRedirect(r Redirect) (stdout, stderr io.Writer, closeAll func(), err error) {
	var files []*os.File
	closeAll = func() {
		for _, f := range files {
			f.Close()
		}
	}

	open := func(path string) (*os.File, error) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening output %s: %w", path, err)
		}
		files = append(files, f)
		return f, nil
	}

	if r.Stdout != "" {
		f, err := open(r.Stdout)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		stdout = f
	}
	switch {
	case r.Stderr == "":
	case r.Stderr == r.Stdout:
		stderr = stdout
	default:
		f, err := open(r.Stderr)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		stderr = f
	}
	if r.Tee != nil {
		stdout = tee(stdout, r.Tee)
		if r.Stderr == r.Stdout {
			stderr = stdout
		} else {
			stderr = tee(stderr, r.Tee)
		}
	}
	return stdout, stderr, closeAll, nil
}

func tee(w, t io.Writer) io.Writer {
	if w == nil {
		return t
	}
	return io.MultiWriter(w, t)
}

// signalGroup sends sig to the command's whole process group.
func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	// Negative PID addresses the process group.
	if err := unix.Kill(-cmd.Process.Pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return fmt.Errorf("signalling process group: %w", err)
	}
	return nil
}

// ProcessManager tracks all running subprocesses and can terminate them all on shutdown.
//
// Usage pattern (typically in main):
//
//	pm := NewProcessManager()
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer cancel()
//	// on a second signal or shutdown timeout:
//	pm.KillAll()
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a subprocess for tracking.
// Should be called after cmd.Start() when cmd.Process is available.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess from tracking.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll sends SIGKILL to every tracked process group.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := signalGroup(cmd, unix.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of currently tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
