// TokenTracker Relay is a transparent forwarding proxy for the Anthropic API
// that records per-request token usage into a local SQLite database.
//
// Point clients at it via ANTHROPIC_BASE_URL; request and response bytes pass
// through unmodified while usage totals are extracted from response bodies
// and server-sent event streams.
//
// Usage:
//
//	# Start the proxy with default configuration
//	tokentracker run
//
//	# Start with a custom configuration file
//	tokentracker run --config /path/to/config.yaml
//
//	# Summarize recorded usage per model
//	tokentracker report --since 2026-08-01T00:00:00Z
//
//	# Show version information
//	tokentracker version
package main

func main() {
	Execute()
}
