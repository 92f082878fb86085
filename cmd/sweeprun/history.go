package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aristath/sweeprun/internal/persistence"
)

func newHistoryCmd(v *viper.Viper, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or the task results of one run",
		Example: `  sweeprun history
  sweeprun history 0f8c2a9e-6a55-4f0e-9d3c-3f8e2b7d1c44
  sweeprun history --task sim_adaptive_0.60`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			path, err := historyPath(v, cfg)
			if err != nil {
				return err
			}
			store, err := persistence.NewSQLiteStore(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()

			limit := v.GetInt("limit")
			switch {
			case len(args) == 1:
				return printRun(ctx, stdout, store, args[0])
			case v.GetString("task") != "":
				results, err := store.TaskHistory(ctx, v.GetString("task"), limit)
				if err != nil {
					return err
				}
				return printResults(stdout, results, true)
			default:
				runs, err := store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				return printRuns(stdout, runs)
			}
		},
	}

	f := cmd.Flags()
	f.String("history", "", "run history database (default: ~/.sweeprun/history.db)")
	f.Int("limit", 20, "maximum number of rows, 0 for all")
	f.String("task", "", "show one task's results across runs")
	return cmd
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...)
}

func printRuns(w io.Writer, runs []*persistence.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	t := newTable("RUN", "STARTED", "DURATION", "MODE", "TOTAL", "OK", "SKIP", "FAIL", "CANCEL", "DIRECTORY")
	for _, r := range runs {
		mode := r.FailureMode
		if r.Interrupted {
			mode += " (interrupted)"
		}
		t.Row(r.ID, humanize.Time(r.StartedAt), r.Duration.String(), mode,
			strconv.Itoa(r.Total), strconv.Itoa(r.Succeeded), strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Failed), strconv.Itoa(r.Cancelled), r.Directory)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func printRun(ctx context.Context, w io.Writer, store persistence.Store, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	results, err := store.TaskResults(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "run %s: %s, %s mode, %d tasks in %s\n",
		run.ID, run.Directory, run.FailureMode, run.Total, run.Duration)
	return printResults(w, results, false)
}

func printResults(w io.Writer, results []persistence.TaskResult, withRun bool) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "no task results")
		return err
	}
	headers := []string{"TASK", "STATE", "EXIT", "DURATION", "ERROR"}
	if withRun {
		headers = append([]string{"RUN"}, headers...)
	}
	t := newTable(headers...)
	for _, r := range results {
		row := []string{r.TaskID, r.State, strconv.Itoa(r.ExitCode), r.Duration.String(), r.Error}
		if withRun {
			row = append([]string{r.RunID}, row...)
		}
		t.Row(row...)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}
