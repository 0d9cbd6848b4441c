// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "webcapture-agent",
	Short: "Webcapture Agent - asynchronous web page capture service",
	Long: `Webcapture Agent drives remote headless browsers to capture web pages
as PNG screenshots, JPEG screenshots and raw HTML.

Submissions are queued and dispatched to a pool of workers, one per
configured browser endpoint. Failed captures are retried up to the
configured limit and every artifact is written to the output directory.

Control:
  - Local: CLI via Unix Domain Socket (submit, status, stop)
  - Remote: optional Kafka submission channel`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/webcapture-agent/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/webcapture-agent.sock",
		"daemon socket path")
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
