package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"tokentracker-hq/relay/pkg/cli"
	"tokentracker-hq/relay/pkg/config"
	"tokentracker-hq/relay/pkg/usage"
	"tokentracker-hq/relay/pkg/usage/storage"
)

var reportFlags struct {
	since  string
	until  string
	days   int
	model  string
	caller string
	format string
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize recorded token usage per model",
	Long: `Summarize recorded token usage per model from the usage database.

Time bounds accept RFC 3339 timestamps or plain dates (2006-01-02).

Examples:
  # All recorded usage
  tokentracker report

  # Usage for the last 7 days
  tokentracker report --days 7

  # Usage for one caller, as CSV
  tokentracker report --caller ci-pipeline --format csv`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportFlags.since, "since", "", "include records at or after this time")
	reportCmd.Flags().StringVar(&reportFlags.until, "until", "", "include records before this time")
	reportCmd.Flags().IntVar(&reportFlags.days, "days", 0, "shorthand for --since <now minus N days>")
	reportCmd.Flags().StringVar(&reportFlags.model, "model", "", "restrict to an exact model name")
	reportCmd.Flags().StringVar(&reportFlags.caller, "caller", "", "restrict to an exact caller tag")
	reportCmd.Flags().StringVar(&reportFlags.format, "format", "text", "output format (text, json, csv)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	filter := usage.QueryFilter{
		Model:  reportFlags.model,
		Caller: reportFlags.caller,
	}

	if reportFlags.days > 0 {
		filter.Since = time.Now().UTC().AddDate(0, 0, -reportFlags.days)
	}
	if reportFlags.since != "" {
		t, err := parseTimeFlag(reportFlags.since)
		if err != nil {
			return cli.NewConfigError("since", err.Error())
		}
		filter.Since = t
	}
	if reportFlags.until != "" {
		t, err := parseTimeFlag(reportFlags.until)
		if err != nil {
			return cli.NewConfigError("until", err.Error())
		}
		filter.Until = t
	}

	writer, err := cli.NewReportWriter(cli.OutputFormat(reportFlags.format))
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}

	store, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
		Path:   cfg.Storage.Path,
		Driver: cfg.Storage.Driver,
	})
	if err != nil {
		return fmt.Errorf("failed to open usage store: %w", err)
	}
	defer store.Close()

	records, err := store.Query(context.Background(), filter)
	if err != nil {
		return cli.NewCommandError("report", err)
	}

	if len(records) == 0 {
		fmt.Println("No usage recorded for the given filters.")
		return nil
	}

	return writer.Write(os.Stdout, usage.Summarize(records))
}

// parseTimeFlag accepts RFC 3339 timestamps or plain dates.
func parseTimeFlag(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC 3339 or 2006-01-02", value)
	}
	return t, nil
}
