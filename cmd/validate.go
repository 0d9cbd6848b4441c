package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"icc.tech/webcapture-agent/internal/config"
)

// validateCmd checks a configuration file without starting the daemon.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the daemon.

Useful for pre-checking configuration before a deploy or restart.

Examples:
  webcapture-agent validate -c /etc/webcapture-agent/config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidate()
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate() {
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError("configuration invalid", err)
	}

	fmt.Printf("Configuration OK: %s\n", configFile)
	fmt.Printf("  output_dir:  %s\n", cfg.OutputDir)
	fmt.Printf("  browsers:    %d\n", len(cfg.Browsers))
	fmt.Printf("  max_retries: %d\n", cfg.MaxRetries)
	fmt.Printf("  socket:      %s\n", cfg.Control.Socket)
	if cfg.SubmissionChannel.Enabled {
		fmt.Printf("  submission:  kafka topic %q via %v\n",
			cfg.SubmissionChannel.Topic, cfg.SubmissionChannel.Brokers)
	}
}
