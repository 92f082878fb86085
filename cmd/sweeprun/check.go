package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aristath/sweeprun/internal/process"
	"github.com/aristath/sweeprun/internal/simcheck"
	"github.com/aristath/sweeprun/internal/tui"
)

func newCheckCmd(v *viper.Viper, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check config_file",
		Short: "Run one simulation and check its output for errors",
		Long: `check runs the simulator on a single settings file, copies its output to
supersimtest_<name> in the log directory and reports a missing
"Simulation complete" message. With --valgrind the simulator runs under
valgrind and leaked memory, uninitialised values and leaked file
descriptors are reported as well.`,
		Example: "  sweeprun check --supersim ./bin/supersim --valgrind json/fattree_iq_blast.json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := newLogger(v, stderr)
			pm := process.NewProcessManager()
			defer pm.KillAll()

			opts := simcheck.Options{
				Supersim:   v.GetString("supersim"),
				ConfigFile: args[0],
				Valgrind:   v.GetBool("valgrind"),
				LogDir:     v.GetString("log-dir"),
				Log:        log,
			}
			if !v.GetBool("quiet") {
				opts.Output = stdout
			}

			result, err := simcheck.Run(ctx, process.NewLauncher(pm, process.WithLogger(log)), opts)
			if err != nil {
				return err
			}
			return printCheck(stdout, args[0], result)
		},
	}

	f := cmd.Flags()
	f.String("supersim", "./bin/supersim", "simulator binary")
	f.Bool("valgrind", false, "run under valgrind and check for memory and descriptor errors")
	f.String("log-dir", "", "directory for the output copy (default: system temp directory)")
	f.BoolP("quiet", "q", false, "do not echo simulator output")
	return cmd
}

// printCheck writes a pass line, or one line per finding, and returns an
// error when anything was found.
func printCheck(w io.Writer, configFile string, result *simcheck.Result) error {
	if result.Passed() {
		fmt.Fprintf(w, "%s %s\n", tui.StyleStatusComplete.Render("good"), configFile)
		return nil
	}
	for _, f := range result.Findings {
		fmt.Fprintf(w, "%s %s: %s\n", tui.StyleStatusFailed.Render("bad"), configFile, f)
	}
	return fmt.Errorf("%s: %d problem(s) found", configFile, len(result.Findings))
}
