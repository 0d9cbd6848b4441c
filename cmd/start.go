package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"icc.tech/webcapture-agent/internal/daemon"
)

// startCmd runs the daemon in foreground.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the webcapture-agent daemon in foreground",
	Long: `Run the webcapture-agent daemon process in foreground.

The daemon will:
  1. Load configuration from the config file
  2. Initialize logging and metrics
  3. Connect to the configured remote browsers
  4. Start the UDS server for CLI control
  5. Start the Kafka submission consumer (if configured)
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT)

Examples:
  webcapture-agent start -c /etc/webcapture-agent/config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStart(); err != nil {
			slog.Error("daemon failed", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart() error {
	d, err := daemon.New(configFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Blocks until shutdown
	return d.Run()
}
