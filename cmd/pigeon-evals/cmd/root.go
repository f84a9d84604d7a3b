// Package cmd provides the CLI commands for pigeon-evals.
package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/logging"
	"github.com/patteg21/pigeon-evals/internal/runner"
	"github.com/patteg21/pigeon-evals/pkg/version"
)

const defaultConfigPath = "configs/test.yml"

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var configPath string
	var dryRun bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "pigeon-evals",
		Short: "Retrieval evaluation pipeline for long filings",
		Long: `pigeon-evals ingests a document corpus, splits it into chunks,
embeds and stores them, and evaluates retrieval quality with human, LLM,
and agent test suites.

Runs are driven entirely by a YAML config; see configs/test.yml for a
worked example.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, configPath, dryRun, logLevel)
		},
	}

	cmd.SetVersionTemplate("pigeon-evals version {{.Version}}\n")

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the run configuration")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Mock all external collaborators")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}

func runPipeline(cmd *cobra.Command, configPath string, dryRun bool, logLevel string) error {
	// Env files supply provider credentials; absence is fine.
	_ = godotenv.Load()

	logger, cleanup, err := logging.Setup(logging.Config{Level: logLevel})
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, err := config.LoadForRun(configPath, dryRun || envDryRun())
	if err != nil {
		logger.Error("configuration rejected", "path", configPath, "error", err)
		return err
	}

	logger.Info("run starting",
		"run_id", cfg.RunID, "task", cfg.Task, "config", configPath, "dry_run", cfg.DryRun)

	result, err := runner.New(cfg, logger).Run(cmd.Context())
	if err != nil {
		logger.Error("run failed",
			"stage", apperrors.GetStage(err), "code", apperrors.GetCode(err), "error", err)
		return err
	}

	if result.Partial {
		// Partial runs finish with reports written; callers see exit 0.
		logger.Warn("run completed with partial results",
			"store_errors", len(result.StoreErrors))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s completed: %d documents, %d chunks, partial=%t\n",
		cfg.RunID, result.Documents, result.Chunks, result.Partial)
	return nil
}

// envDryRun reads the DRY_RUN variable as an alternative to --dry-run.
func envDryRun() bool {
	raw := os.Getenv("DRY_RUN")
	if raw == "" {
		return false
	}
	enabled, err := strconv.ParseBool(raw)
	return err == nil && enabled
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
