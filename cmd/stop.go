package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"icc.tech/webcapture-agent/internal/command"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the webcapture-agent daemon",
	Long: `Stop the webcapture-agent daemon gracefully.

This command sends daemon.shutdown to the running daemon via Unix Domain
Socket. The daemon finishes in-flight captures, disconnects all browser
sessions and exits cleanly.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStop()
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.Shutdown(ctx)
	if err != nil {
		exitWithError("daemon is not running or socket is inaccessible", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("daemon.shutdown failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("Shutdown initiated.")
}
