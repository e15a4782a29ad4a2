package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/ytmp3/cmd/ytmp3/commands"
	"github.com/teranos/ytmp3/logger"
)

var rootCmd = &cobra.Command{
	Use:   "ytmp3",
	Short: "ytmp3 - audio extraction job orchestration",
	Long: `ytmp3 - audio extraction job orchestration.

Admits extraction requests idempotently, runs them from a durable queue,
reclaims expired jobs and artifacts, and tells waiting clients when a job
settles.

Available commands:
  serve   - Run the HTTP API (with optional in-process workers and janitor)
  worker  - Consume the job queue
  janitor - Reclaim expired jobs and artifacts
  submit  - Submit a video and optionally wait for it
  status  - Show or follow a job
  chat    - Run the chat front end on stdin
  am      - Inspect and validate configuration ("I am")
  db      - Inspect job and queue tables

Examples:
  ytmp3 serve --workers 2              # API plus two workers
  ytmp3 submit https://youtu.be/abc123 --wait
  ytmp3 janitor --once                 # Run one retention sweep
  ytmp3 am show --format yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if commands.IsService(cmd) {
			verbosity = logger.ServiceVerbosity(verbosity)
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.JanitorCmd)
	rootCmd.AddCommand(commands.SubmitCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.ChatCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
