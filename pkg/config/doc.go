// Package config defines the relay's YAML configuration: loading, defaults,
// validation, environment variable overrides, the process-wide singleton,
// and optional hot reloading of the config file.
//
// Loading sequence: parse YAML, apply defaults, apply TOKENTRACKER_* env
// overrides, validate. Command-line flags are applied on top by the CLI.
package config
