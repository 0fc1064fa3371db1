package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tokentracker",
	Short: "TokenTracker Relay - token usage tracking proxy for the Anthropic API",
	Long: `TokenTracker Relay is a transparent forwarding proxy for the Anthropic API.

It relays request and response bytes verbatim, including server-sent event
streams, while extracting token usage from each response into a durable
SQLite store. Point your client at it with ANTHROPIC_BASE_URL and tag
traffic with the X-TokenTracker-Caller header to attribute usage.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
