// Package cli provides shared helpers for the tokentracker command line:
// typed errors, shutdown signal plumbing, and report output formatting.
package cli
