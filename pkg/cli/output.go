package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"tokentracker-hq/relay/pkg/usage"
)

// OutputFormat represents the output format for report results.
type OutputFormat string

const (
	// FormatText is aligned tabular text output (default).
	FormatText OutputFormat = "text"
	// FormatJSON is JSON output.
	FormatJSON OutputFormat = "json"
	// FormatCSV is CSV output.
	FormatCSV OutputFormat = "csv"
)

// ReportWriter renders per-model usage summaries.
type ReportWriter interface {
	Write(w io.Writer, summaries []*usage.ModelSummary) error
}

// NewReportWriter creates a report writer for the given format.
func NewReportWriter(format OutputFormat) (ReportWriter, error) {
	switch format {
	case FormatText, "":
		return &textReportWriter{}, nil
	case FormatJSON:
		return &jsonReportWriter{}, nil
	case FormatCSV:
		return &csvReportWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

type textReportWriter struct{}

func (textReportWriter) Write(w io.Writer, summaries []*usage.ModelSummary) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tREQUESTS\tINPUT\tOUTPUT\tCACHE_CREATE\tCACHE_READ\tTOTAL")

	var totalRequests, totalTokens int64
	for _, s := range summaries {
		total := s.InputTokens + s.OutputTokens + s.CacheCreationInputTokens + s.CacheReadInputTokens
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Model, s.Requests, s.InputTokens, s.OutputTokens,
			s.CacheCreationInputTokens, s.CacheReadInputTokens, total)
		totalRequests += s.Requests
		totalTokens += total
	}

	fmt.Fprintf(tw, "TOTAL\t%d\t\t\t\t\t%d\n", totalRequests, totalTokens)
	return tw.Flush()
}

type jsonReportWriter struct{}

func (jsonReportWriter) Write(w io.Writer, summaries []*usage.ModelSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}

type csvReportWriter struct{}

func (csvReportWriter) Write(w io.Writer, summaries []*usage.ModelSummary) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"model", "requests", "input_tokens", "output_tokens",
		"cache_creation_input_tokens", "cache_read_input_tokens"}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, s := range summaries {
		row := []string{
			s.Model,
			strconv.FormatInt(s.Requests, 10),
			strconv.FormatInt(s.InputTokens, 10),
			strconv.FormatInt(s.OutputTokens, 10),
			strconv.FormatInt(s.CacheCreationInputTokens, 10),
			strconv.FormatInt(s.CacheReadInputTokens, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
