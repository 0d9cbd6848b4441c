package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"icc.tech/webcapture-agent/internal/command"
)

// statusCmd queries the daemon status.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the running daemon for its aggregate status: queue depths,
worker health and each worker's recent errors. Output is JSON.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStatus()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus() {
	client := command.NewUDSClient(socketPath, 10*time.Second)

	resp, err := client.Status(context.Background())
	if err != nil {
		exitWithError("daemon is not running or socket is inaccessible", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("daemon.status failed: %s", resp.Error.Message), nil)
	}

	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		exitWithError("failed to render status", err)
	}
	fmt.Println(string(out))
}
