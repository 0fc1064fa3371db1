package config

import "time"

// Default values applied to unset fields.
const (
	DefaultListenAddress      = "127.0.0.1:5005"
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultBindRetries        = 3
	DefaultBindRetryDelay     = 2 * time.Second
	DefaultUpstreamHost       = "api.anthropic.com"
	DefaultUpstreamScheme     = "https"
	DefaultUpstreamTimeout    = 5 * time.Minute
	DefaultStoragePath        = "~/.tokentracker/usage.db"
	DefaultStorageDriver      = "sqlite"
	DefaultBusyTimeout        = 5 * time.Second
	DefaultCheckpointInterval = 5 * time.Minute
	DefaultMaxOpenConns       = 10
	DefaultRetentionSchedule  = "0 3 * * *"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsAddress     = "127.0.0.1:9464"
)

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Proxy.ListenAddress == "" {
		cfg.Proxy.ListenAddress = DefaultListenAddress
	}
	if cfg.Proxy.ShutdownTimeout == 0 {
		cfg.Proxy.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Proxy.BindRetries == 0 {
		cfg.Proxy.BindRetries = DefaultBindRetries
	}
	if cfg.Proxy.BindRetryDelay == 0 {
		cfg.Proxy.BindRetryDelay = DefaultBindRetryDelay
	}

	if cfg.Upstream.Host == "" {
		cfg.Upstream.Host = DefaultUpstreamHost
	}
	if cfg.Upstream.Scheme == "" {
		cfg.Upstream.Scheme = DefaultUpstreamScheme
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = DefaultUpstreamTimeout
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultBusyTimeout
	}
	if cfg.Storage.CheckpointInterval == 0 {
		cfg.Storage.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = DefaultMaxOpenConns
	}

	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = DefaultMetricsAddress
	}
}
