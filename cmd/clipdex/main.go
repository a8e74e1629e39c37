package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipdex/clipdex/cmd/clipdex/commands"
	"github.com/clipdex/clipdex/logger"
)

var rootCmd = &cobra.Command{
	Use:   "clipdex",
	Short: "clipdex - AI video library classification service",
	Long: `clipdex classifies a video library with an AI model: each video
receives categories and tags, tracked by a durable job engine that
survives restarts, supports pause/resume/cancel, and tolerates
at-least-once redelivery of work.

Available commands:
  serve - Start the HTTP server and job engine
  jobs  - Inspect classification jobs in the ledger

Examples:
  clipdex serve                  # Start with defaults
  clipdex serve --config my.toml # Start with a config file
  clipdex jobs get <job-id>      # Show one job's record`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().Bool("json-logs", false, "emit JSON log output")

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewJobsCommand())
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
