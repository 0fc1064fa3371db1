package config

import "time"

// Config is the root configuration for the relay.
type Config struct {
	// Proxy configures the inbound HTTP listener.
	Proxy ProxyConfig `yaml:"proxy"`

	// Upstream configures the fixed upstream host.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Storage configures the usage database.
	Storage StorageConfig `yaml:"storage"`

	// Retention configures optional pruning of old usage rows.
	Retention RetentionConfig `yaml:"retention"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// WatchConfig enables hot reloading of this file.
	WatchConfig bool `yaml:"watch_config"`
}

// ProxyConfig configures the inbound listener.
type ProxyConfig struct {
	// ListenAddress is the local address the proxy binds.
	ListenAddress string `yaml:"listen_address"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// BindRetries is how many bind attempts are made before giving up.
	BindRetries int `yaml:"bind_retries"`

	// BindRetryDelay is the pause between bind attempts.
	BindRetryDelay time.Duration `yaml:"bind_retry_delay"`
}

// UpstreamConfig configures the upstream client.
type UpstreamConfig struct {
	// Host is the upstream API host, reached over TLS on 443.
	Host string `yaml:"host"`

	// Scheme is "https" or "http". Only local test doubles use http.
	Scheme string `yaml:"scheme"`

	// Timeout is the overall connect-through-response timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig configures the SQLite usage store.
type StorageConfig struct {
	// Path is the database file path. "~/" expands to the home
	// directory.
	Path string `yaml:"path"`

	// Driver selects the SQLite driver: "sqlite" (pure Go, default) or
	// "sqlite3" (CGO).
	Driver string `yaml:"driver"`

	// BusyTimeout is the writer lock wait bound.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is the background WAL checkpoint interval.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	// MaxOpenConns bounds the store's connection pool.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// RetentionConfig configures pruning of old usage rows. With Days zero the
// table is never pruned.
type RetentionConfig struct {
	// Days is the retention horizon. 0 keeps records forever.
	Days int `yaml:"days"`

	// Schedule is a cron expression for when pruning runs.
	Schedule string `yaml:"schedule"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is the output format: json or text.
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus scrape endpoint, served on its
// own listener so the proxied namespace stays untouched.
type MetricsConfig struct {
	// Enabled turns the metrics listener on.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the metrics listener address.
	ListenAddress string `yaml:"listen_address"`

	// Namespace is the metric name prefix.
	Namespace string `yaml:"namespace"`
}
