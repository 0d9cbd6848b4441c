// Package main is the entry point for the webcapture agent.
package main

import (
	"fmt"
	"os"

	"icc.tech/webcapture-agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
