package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aristath/sweeprun/internal/config"
	"github.com/aristath/sweeprun/internal/events"
	"github.com/aristath/sweeprun/internal/observer"
	"github.com/aristath/sweeprun/internal/persistence"
	"github.com/aristath/sweeprun/internal/process"
	"github.com/aristath/sweeprun/internal/resource"
	"github.com/aristath/sweeprun/internal/scheduler"
	"github.com/aristath/sweeprun/internal/sweep"
	"github.com/aristath/sweeprun/internal/tui"
)

func newRunCmd(v *viper.Viper, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run directory supersim ssparse settings",
		Short: "Run the sweep, writing every artifact under directory",
		Example: `  sweeprun run output ./bin/supersim ./bin/ssparse fattree_iq_blast.json -g 6
  sweeprun run output ./bin/supersim ./bin/ssparse torus.json --cpus 8 --mem 16 --failure-mode continue`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSweep(ctx, stop, v, args, stdout, stderr)
		},
	}

	f := cmd.Flags()
	f.IntP("granularity", "g", 0, "injection load step in percent (default from config: 6)")
	f.Float64("cpus", 0, "cpus capacity (default: logical CPUs of this host)")
	f.Float64("mem", 0, "mem capacity in GiB (default: available memory of this host)")
	f.String("failure-mode", "", "aggressive (stop everything on first failure) or continue (cancel dependents only)")
	f.String("plotter", "", "ssplot binary (default from config: ssplot)")
	f.Bool("tui", false, "show a live dashboard instead of progress lines")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.String("history", "", "run history database (default: ~/.sweeprun/history.db)")
	f.Bool("no-history", false, "do not record this run")
	f.Bool("dry-run", false, "print the tasks in dependency order without running them")
	return cmd
}

func runSweep(ctx context.Context, stopSignals func(), v *viper.Viper, args []string, stdout, stderr io.Writer) error {
	dir, supersim, ssparse, settings := args[0], args[1], args[2], args[3]

	cfg, err := loadConfig(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Binaries.Supersim = supersim
	cfg.Binaries.Ssparse = ssparse
	if g := v.GetInt("granularity"); g != 0 {
		cfg.Loads.Granularity = g
	}
	if p := v.GetString("plotter"); p != "" {
		cfg.Binaries.Ssplot = p
	}
	if m := v.GetString("failure-mode"); m != "" {
		cfg.FailureMode = m
	}
	mode, err := scheduler.ParseFailureMode(cfg.FailureMode)
	if err != nil {
		return err
	}

	useTUI := v.GetBool("tui")
	logOut := stderr
	if useTUI {
		// The dashboard owns the terminal; logs go next to the artifacts.
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, "sweeprun.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	log := newLogger(v, logOut)

	graph, err := sweep.NewBuilder(cfg, dir, settings, log).Build()
	if err != nil {
		return err
	}
	if v.GetBool("dry-run") {
		return printPlan(stdout, graph)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	capacities, err := hostCapacities(v, log)
	if err != nil {
		return err
	}
	pool, err := resource.NewPool(capacities)
	if err != nil {
		return err
	}

	metrics := observer.NewMetrics()
	metrics.WatchPool(pool)
	observers := []scheduler.Observer{observer.NewCleanup(log), metrics}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	bus := events.NewEventBus()
	var program *tea.Program
	if useTUI {
		pub := observer.NewPublisher(bus, graph)
		pub.WatchPool(pool)
		observers = append(observers, pub)
		program = tea.NewProgram(tui.New(bus, graph.Len(), cancelRun), tea.WithAltScreen(), tea.WithOutput(stdout))
	} else {
		observers = append(observers, observer.NewVerbose(stdout, graph.Len(), v.GetBool("verbose")))
	}

	if addr := v.GetString("metrics-addr"); addr != "" {
		shutdown := serveMetrics(addr, metrics.Handler(), log)
		defer shutdown()
	}

	pm := process.NewProcessManager()
	defer func() {
		// Backstop: Run waits for every process, so this is normally a no-op.
		if err := pm.KillAll(); err != nil {
			log.WithError(err).Warn("killing leftover processes")
		}
	}()
	launcher := process.NewLauncher(pm, process.WithLogger(log))

	s, err := scheduler.New(graph, pool, scheduler.NewProcessRunner(launcher),
		scheduler.WithFailureMode(mode),
		scheduler.WithObservers(observers...),
		scheduler.WithLogger(log),
	)
	if err != nil {
		bus.Close()
		return err
	}

	var tuiDone chan error
	if program != nil {
		tuiDone = make(chan error, 1)
		go func() {
			_, err := program.Run()
			tuiDone <- err
		}()
	}

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Restore default signal handling so a second interrupt kills sweeprun.
			stopSignals()
			log.Warn("shutdown signal received, terminating running tasks")
			if program != nil {
				program.Quit()
			}
		case <-finished:
		}
	}()

	log.WithFields(logrus.Fields{
		"tasks":        graph.Len(),
		"failure_mode": mode,
		"directory":    dir,
	}).Info("starting sweep")
	report, runErr := s.Run(runCtx)
	close(finished)
	bus.Close()

	if tuiDone != nil {
		if err := <-tuiDone; err != nil {
			log.WithError(err).Warn("dashboard exited with error")
		}
	}

	if err := observer.Summary(stdout, report); err != nil {
		log.WithError(err).Warn("printing summary")
	}

	if !v.GetBool("no-history") {
		recordHistory(v, cfg, log, graph, report, dir, errors.Is(runErr, context.Canceled))
	}

	if errors.Is(runErr, context.Canceled) {
		return errors.New("sweep interrupted")
	}
	if runErr != nil {
		return runErr
	}
	return report.Err()
}

// hostCapacities sizes the pool to this machine, with --cpus and --mem
// taking precedence. Detection is skipped when both are given.
func hostCapacities(v *viper.Viper, log logrus.FieldLogger) (map[string]float64, error) {
	cpus, mem := v.GetFloat64("cpus"), v.GetFloat64("mem")
	caps := map[string]float64{resource.CPUs: cpus, resource.Memory: mem}
	if cpus <= 0 || mem <= 0 {
		host, err := resource.DetectHost()
		if err != nil {
			return nil, fmt.Errorf("detecting host resources (set --cpus and --mem): %w", err)
		}
		for name, q := range host {
			if caps[name] <= 0 {
				caps[name] = q
			}
		}
	}
	log.WithFields(logrus.Fields{
		resource.CPUs:   caps[resource.CPUs],
		resource.Memory: caps[resource.Memory],
	}).Info("resource capacities")
	return caps, nil
}

// serveMetrics serves /metrics on addr until the returned function is called.
func serveMetrics(addr string, handler http.Handler, log logrus.FieldLogger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// printPlan writes every task in dependency order with its command.
func printPlan(w io.Writer, graph *scheduler.Graph) error {
	order, err := graph.Order()
	if err != nil {
		return err
	}
	for _, id := range order {
		t, _ := graph.Get(id)
		if _, err := fmt.Fprintf(w, "%s\n    %s\n", id, t.Command); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "%d tasks\n", len(order))
	return err
}

// recordHistory stores the run in the history database. Failures are
// logged; they never change the outcome of the run.
func recordHistory(v *viper.Viper, cfg *config.SweepConfig, log logrus.FieldLogger, graph *scheduler.Graph, report *scheduler.Report, dir string, interrupted bool) {
	ctx := context.Background()
	path, err := historyPath(v, cfg)
	if err != nil {
		log.WithError(err).Warn("run history disabled")
		return
	}
	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		log.WithError(err).Warn("opening run history")
		return
	}
	defer store.Close()

	fingerprint, err := graph.Fingerprint()
	if err != nil {
		log.WithError(err).Warn("fingerprinting graph")
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}
	run, err := store.RecordRun(ctx, persistence.RunMeta{
		Directory:   absDir,
		Fingerprint: fingerprint,
		Interrupted: interrupted,
	}, report)
	if err != nil {
		log.WithError(err).Warn("recording run")
		return
	}
	log.WithField("run", run.ID).Info("run recorded")

	if cfg.History.Keep > 0 {
		if n, err := store.PruneRuns(ctx, cfg.History.Keep); err != nil {
			log.WithError(err).Warn("pruning run history")
		} else if n > 0 {
			log.WithField("pruned", n).Debug("pruned old runs")
		}
	}
}

// historyPath resolves the history database: --history, then the config,
// then ~/.sweeprun/history.db.
func historyPath(v *viper.Viper, cfg *config.SweepConfig) (string, error) {
	if p := v.GetString("history"); p != "" {
		return p, nil
	}
	if cfg != nil && cfg.History.Path != "" {
		return cfg.History.Path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".sweeprun", "history.db"), nil
}
