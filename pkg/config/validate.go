package config

import "fmt"

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

var validDrivers = map[string]bool{
	"sqlite":  true,
	"sqlite3": true,
}

// Validate checks the configuration for invalid values. It is called after
// defaults are applied, so empty required fields are also errors.
func Validate(cfg *Config) error {
	if cfg.Proxy.ListenAddress == "" {
		return fmt.Errorf("proxy.listen_address cannot be empty")
	}
	if cfg.Proxy.BindRetries < 1 {
		return fmt.Errorf("proxy.bind_retries must be at least 1")
	}

	if cfg.Upstream.Host == "" {
		return fmt.Errorf("upstream.host cannot be empty")
	}
	if cfg.Upstream.Scheme != "https" && cfg.Upstream.Scheme != "http" {
		return fmt.Errorf("upstream.scheme must be https or http (got %q)", cfg.Upstream.Scheme)
	}
	if cfg.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}
	if !validDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("storage.driver must be one of: sqlite, sqlite3 (got %q)", cfg.Storage.Driver)
	}

	if cfg.Retention.Days < 0 {
		return fmt.Errorf("retention.days cannot be negative")
	}
	if cfg.Retention.Days > 0 && cfg.Retention.Schedule == "" {
		return fmt.Errorf("retention.schedule cannot be empty when retention.days is set")
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level)
	}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text (got %q)", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics.listen_address cannot be empty when metrics are enabled")
	}

	return nil
}
