package simcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/aristath/sweeprun/internal/process"
)

// Options configures a check run.
type Options struct {
	Supersim   string // Simulator binary
	ConfigFile string // Settings file to simulate
	Valgrind   bool   // Run under valgrind and apply its rules
	LogDir     string // Where the output copy is written; empty means os.TempDir()
	Output     io.Writer
	Log        logrus.FieldLogger
}

// LogPath returns the file the output of configFile is copied to, e.g.
// /tmp/supersimtest_fattree_iq_blast for fattree_iq_blast.json.
func LogPath(dir, configFile string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	base := filepath.Base(configFile)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "supersimtest_"+base)
}

// valgrindArgs report leaks, reachable blocks, uninitialised value origins
// and open descriptors on stdout so they land in the same log.
var valgrindArgs = []string{
	"--log-fd=1",
	"--leak-check=full",
	"--show-reachable=yes",
	"--track-origins=yes",
	"--track-fds=yes",
}

// Command returns the simulator invocation, wrapped in valgrind if requested.
func Command(opts Options) process.Command {
	if !opts.Valgrind {
		return process.Command{Program: opts.Supersim, Args: []string{opts.ConfigFile}}
	}
	args := append(append([]string(nil), valgrindArgs...), opts.Supersim, opts.ConfigFile)
	return process.Command{Program: "valgrind", Args: args}
}

// Run simulates opts.ConfigFile, copies its combined output to LogPath and
// to opts.Output, then scans the log. A non-zero simulator exit is not an
// error here: it shows up as a missing completion marker.
func Run(ctx context.Context, l *process.Launcher, opts Options) (*Result, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	if opts.Valgrind {
		if err := l.Run(ctx, process.Command{Program: "valgrind", Args: []string{"-h"}}, process.Redirect{}); err != nil {
			return nil, fmt.Errorf("valgrind unavailable: %w", err)
		}
	}

	logPath := LogPath(opts.LogDir, opts.ConfigFile)
	if err := os.Remove(logPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing old log: %w", err)
	}

	cmd := Command(opts)
	log.WithField("command", cmd.String()).Info("running simulation")
	err := l.Run(ctx, cmd, process.Redirect{Stdout: logPath, Stderr: logPath, Tee: opts.Output})
	var launchErr *process.LaunchError
	switch {
	case errors.As(err, &launchErr):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		log.WithError(err).Warn("simulation exited abnormally")
	}

	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("opening simulation log: %w", err)
	}
	defer f.Close()

	log.WithField("log", logPath).Debug("analyzing output")
	return Scan(f, opts.Valgrind)
}
