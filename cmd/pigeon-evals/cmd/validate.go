package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/patteg21/pigeon-evals/internal/config"
)

// newValidateCmd creates the validate command, which parses and validates a
// config without running anything.
func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a run configuration without executing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: run_id=%s task=%s\n", cfg.RunID, cfg.Task)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the run configuration")
	return cmd
}
