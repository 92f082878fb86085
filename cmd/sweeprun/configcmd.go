package main

import (
	"encoding/json"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aristath/sweeprun/internal/config"
	"github.com/aristath/sweeprun/internal/tui"
)

func newConfigCmd(v *viper.Viper, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Edit the sweep configuration, or print the effective one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if v.GetBool("print") {
				data, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(stdout, string(data))
				return err
			}

			global, err := config.GlobalPath()
			if err != nil {
				return err
			}
			final, err := tea.NewProgram(tui.NewSettingsModel(cfg, global, config.ProjectPath), tea.WithOutput(stdout)).Run()
			if err != nil {
				return err
			}
			path, err := final.(tui.SettingsModel).Result()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintln(stdout, "not saved")
				return nil
			}
			fmt.Fprintf(stdout, "saved %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("print", false, "print the effective configuration as JSON and exit")
	return cmd
}
