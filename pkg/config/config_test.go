package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() on a missing file failed: %v", err)
	}

	if cfg.Proxy.ListenAddress != DefaultListenAddress {
		t.Errorf("ListenAddress = %q, want %q", cfg.Proxy.ListenAddress, DefaultListenAddress)
	}
	if cfg.Upstream.Host != DefaultUpstreamHost {
		t.Errorf("Upstream.Host = %q, want %q", cfg.Upstream.Host, DefaultUpstreamHost)
	}
	if cfg.Upstream.Timeout != DefaultUpstreamTimeout {
		t.Errorf("Upstream.Timeout = %v, want %v", cfg.Upstream.Timeout, DefaultUpstreamTimeout)
	}
	if cfg.Storage.Driver != DefaultStorageDriver {
		t.Errorf("Storage.Driver = %q, want %q", cfg.Storage.Driver, DefaultStorageDriver)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("Logging = %+v, want defaults", cfg.Logging)
	}
	if cfg.Retention.Days != 0 {
		t.Errorf("Retention.Days = %d, want 0 (disabled)", cfg.Retention.Days)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	content := `
proxy:
  listen_address: "0.0.0.0:6006"
  shutdown_timeout: 30s
upstream:
  host: staging.example.com
  timeout: 2m
storage:
  path: /tmp/tt-test/usage.db
  driver: sqlite3
retention:
  days: 90
logging:
  level: debug
  format: text
metrics:
  enabled: true
  listen_address: "127.0.0.1:9999"
watch_config: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Proxy.ListenAddress != "0.0.0.0:6006" {
		t.Errorf("ListenAddress = %q", cfg.Proxy.ListenAddress)
	}
	if cfg.Proxy.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.Proxy.ShutdownTimeout)
	}
	if cfg.Upstream.Host != "staging.example.com" || cfg.Upstream.Timeout != 2*time.Minute {
		t.Errorf("Upstream = %+v", cfg.Upstream)
	}
	if cfg.Storage.Driver != "sqlite3" {
		t.Errorf("Storage.Driver = %q, want sqlite3", cfg.Storage.Driver)
	}
	if cfg.Retention.Days != 90 || cfg.Retention.Schedule != DefaultRetentionSchedule {
		t.Errorf("Retention = %+v", cfg.Retention)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddress != "127.0.0.1:9999" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if !cfg.WatchConfig {
		t.Error("WatchConfig = false, want true")
	}

	// Defaults still fill the sections the file omitted.
	if cfg.Proxy.BindRetries != DefaultBindRetries {
		t.Errorf("BindRetries = %d, want default %d", cfg.Proxy.BindRetries, DefaultBindRetries)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("proxy: [not a mapping"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() on malformed YAML succeeded, want error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TOKENTRACKER_PROXY_LISTEN_ADDRESS", "127.0.0.1:7007")
	t.Setenv("TOKENTRACKER_UPSTREAM_HOST", "alt.example.com")
	t.Setenv("TOKENTRACKER_UPSTREAM_TIMEOUT", "90s")
	t.Setenv("TOKENTRACKER_STORAGE_DRIVER", "sqlite3")
	t.Setenv("TOKENTRACKER_RETENTION_DAYS", "14")
	t.Setenv("TOKENTRACKER_LOG_LEVEL", "warn")
	t.Setenv("TOKENTRACKER_METRICS_ENABLED", "true")

	cfg, err := LoadConfigWithEnvOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() failed: %v", err)
	}

	if cfg.Proxy.ListenAddress != "127.0.0.1:7007" {
		t.Errorf("ListenAddress = %q", cfg.Proxy.ListenAddress)
	}
	if cfg.Upstream.Host != "alt.example.com" || cfg.Upstream.Timeout != 90*time.Second {
		t.Errorf("Upstream = %+v", cfg.Upstream)
	}
	if cfg.Storage.Driver != "sqlite3" {
		t.Errorf("Storage.Driver = %q", cfg.Storage.Driver)
	}
	if cfg.Retention.Days != 14 {
		t.Errorf("Retention.Days = %d, want 14", cfg.Retention.Days)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestExpandStoragePath(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if err := expandStoragePath(cfg); err != nil {
		t.Fatalf("expandStoragePath() failed: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	want := filepath.Join(home, ".tokentracker", "usage.db")
	if cfg.Storage.Path != want {
		t.Errorf("Storage.Path = %q, want %q", cfg.Storage.Path, want)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		ApplyDefaults(cfg)
		return cfg
	}

	if err := Validate(valid()); err != nil {
		t.Fatalf("Validate() on defaults failed: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.Proxy.ListenAddress = "" }},
		{"zero bind retries", func(c *Config) { c.Proxy.BindRetries = 0 }},
		{"empty upstream host", func(c *Config) { c.Upstream.Host = "" }},
		{"bad upstream scheme", func(c *Config) { c.Upstream.Scheme = "ftp" }},
		{"negative upstream timeout", func(c *Config) { c.Upstream.Timeout = -time.Second }},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
		{"bad driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"negative retention", func(c *Config) { c.Retention.Days = -1 }},
		{"retention without schedule", func(c *Config) { c.Retention.Days = 7; c.Retention.Schedule = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"metrics without address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddress = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Errorf("Validate() accepted %s", tc.name)
			}
		})
	}
}

func TestSingletonReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Reload(path)
	if err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if GetConfig() != cfg {
		t.Error("GetConfig() does not return the reloaded configuration")
	}

	// A broken file keeps the previous configuration in place.
	if err := os.WriteFile(path, []byte("logging: [broken"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	if _, err := Reload(path); err == nil {
		t.Error("Reload() of malformed file succeeded, want error")
	}
	if GetConfig() != cfg {
		t.Error("failed reload replaced the configuration")
	}
}
