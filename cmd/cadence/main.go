package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/cadence/cmd/cadence/commands"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "cadence - job scheduling and execution engine",
	Long: `cadence runs jobs on a schedule: once at a given instant or
repeatedly on a cron expression. Failed runs are retried with exponential
backoff and every attempt is recorded.

Available commands:
  daemon  - Run the engine: arm timers, execute jobs, serve metrics
  job     - Create, inspect and control jobs
  am      - Show and validate configuration ("I am")
  version - Show build information

Examples:
  cadence daemon                                    # Start the engine
  cadence job add --title ping --type http \
      --cron '*/5 * * * *' --payload '{"url":"https://example.com"}'
  cadence job ls --status failed                    # List failed jobs
  cadence job logs <id>                             # Attempt history`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: commands.Setup,
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (default: standard locations)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
