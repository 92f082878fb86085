package main

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aristath/sweeprun/internal/config"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags of the executed command are
// bound to a fresh viper instance, so every flag can also be set through a
// SWEEPRUN_ environment variable (--failure-mode is SWEEPRUN_FAILURE_MODE).
// Without a subcommand, sweeprun behaves like "sweeprun run".
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("sweeprun")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	run := newRunCmd(v, stdout, stderr)
	root := &cobra.Command{
		Use:   "sweeprun [directory supersim ssparse settings]",
		Short: "Run supersim parameter sweeps under a resource budget",
		Long: `sweeprun simulates every routing algorithm at every injection load,
parses the results and plots them, running as many tasks at once as the
cpus and mem budget allows. Tasks whose outputs are newer than their inputs
are skipped, so an interrupted sweep resumes where it stopped.`,
		Args:          run.Args,
		RunE:          run.RunE,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return v.BindPFlags(cmd.Flags())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().String("config", "", "sweep config file (default: ~/.sweeprun/config.json merged with "+config.ProjectPath+")")
	root.PersistentFlags().BoolP("verbose", "v", false, "print informational logging and task commands")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")
	root.Flags().AddFlagSet(run.Flags())

	root.AddCommand(run, newCheckCmd(v, stdout, stderr), newHistoryCmd(v, stdout, stderr), newConfigCmd(v, stdout))
	return root
}

// newLogger returns a logger writing to w at the level selected by
// --debug or --verbose; warnings and errors only otherwise.
func newLogger(v *viper.Viper, w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	switch {
	case v.GetBool("debug"):
		log.SetLevel(logrus.DebugLevel)
	case v.GetBool("verbose"):
		log.SetLevel(logrus.InfoLevel)
	default:
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

// loadConfig loads the file named by --config on top of the defaults, or
// the global and project config files when none is given.
func loadConfig(v *viper.Viper) (*config.SweepConfig, error) {
	if path := v.GetString("config"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		return config.Load("", path)
	}
	return config.LoadDefault()
}
