package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"icc.tech/webcapture-agent/internal/command"
)

var (
	submitURL           string
	submitLabels        []string
	submitCorrelationID string
	submitPNG           bool
	submitJPEG          bool
	submitHTML          bool
)

// submitCmd submits a capture request to the running daemon.
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a capture request",
	Long: `Submit a URL for capture to the running daemon.

At least one of --png, --jpeg, --html must be set. Labels and the
correlation id become part of the artifact filenames, so they must not
contain whitespace or any of < > : " / \ | ? * _

Examples:
  webcapture-agent submit --url https://example.com --png
  webcapture-agent submit --url https://example.com --png --html \
      --label Home --label news --correlation-id ticket42`,
	Run: func(cmd *cobra.Command, args []string) {
		runSubmit()
	},
}

func init() {
	submitCmd.Flags().StringVarP(&submitURL, "url", "u", "", "URL to capture (required)")
	submitCmd.Flags().StringArrayVarP(&submitLabels, "label", "l", nil, "label (repeatable)")
	submitCmd.Flags().StringVar(&submitCorrelationID, "correlation-id", "", "correlation id")
	submitCmd.Flags().BoolVar(&submitPNG, "png", false, "capture a PNG screenshot")
	submitCmd.Flags().BoolVar(&submitJPEG, "jpeg", false, "capture a JPEG screenshot")
	submitCmd.Flags().BoolVar(&submitHTML, "html", false, "capture the page HTML")
	submitCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit() {
	client := command.NewUDSClient(socketPath, 10*time.Second)

	resp, err := client.Submit(context.Background(), command.SubmitParams{
		URL:           submitURL,
		Labels:        submitLabels,
		CorrelationID: submitCorrelationID,
		Options: command.OptionsParams{
			PNG:  submitPNG,
			JPEG: submitJPEG,
			HTML: submitHTML,
		},
	})
	if err != nil {
		exitWithError("failed to reach daemon", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("capture.submit failed (%d): %s", resp.Error.Code, resp.Error.Message), nil)
	}

	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		exitWithError("failed to render acknowledgement", err)
	}
	fmt.Println(string(out))

	if ack, ok := resp.Result.(map[string]interface{}); ok {
		if accepted, _ := ack["accepted"].(bool); !accepted {
			os.Exit(1)
		}
	}
}
