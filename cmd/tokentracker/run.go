package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"tokentracker-hq/relay/pkg/cli"
	"tokentracker-hq/relay/pkg/config"
	"tokentracker-hq/relay/pkg/server"
	"tokentracker-hq/relay/pkg/telemetry/metrics"
	"tokentracker-hq/relay/pkg/usage/retention"
	"tokentracker-hq/relay/pkg/usage/storage"
)

var runFlags struct {
	listenAddress string
	upstreamHost  string
	dbPath        string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the TokenTracker proxy server",
	Long: `Start the TokenTracker proxy server with the specified configuration.

The server relays all requests to the upstream API unmodified and records
token usage for each response into the SQLite store.

Examples:
  # Start with default config
  tokentracker run

  # Start with custom config
  tokentracker run --config /etc/tokentracker/config.yaml

  # Override listen address
  tokentracker run --listen 0.0.0.0:5005

  # Validate config without starting the server
  tokentracker run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.upstreamHost, "upstream", "", "override upstream host")
	runCmd.Flags().StringVar(&runFlags.dbPath, "db", "", "override usage database path")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Proxy.ListenAddress = runFlags.listenAddress
	}
	if runFlags.upstreamHost != "" {
		cfg.Upstream.Host = runFlags.upstreamHost
	}
	if runFlags.dbPath != "" {
		cfg.Storage.Path = runFlags.dbPath
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	setupLogging(&cfg.Logging)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	printBanner(cfg)

	// Open the usage store
	store, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
		Path:               cfg.Storage.Path,
		Driver:             cfg.Storage.Driver,
		BusyTimeout:        cfg.Storage.BusyTimeout,
		CheckpointInterval: cfg.Storage.CheckpointInterval,
		MaxOpenConns:       cfg.Storage.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("failed to open usage store: %w", err)
	}
	defer store.Close()
	fmt.Printf("✓ Usage store opened (%s)\n", cfg.Storage.Path)

	// Prometheus metrics (optional)
	var pm *metrics.ProxyMetrics
	if cfg.Metrics.Enabled {
		pm = metrics.New(cfg.Metrics.Namespace, nil)
	}

	ctx := cli.SetupSignalHandler()

	// Retention pruning (optional)
	if cfg.Retention.Days > 0 {
		pruner := retention.NewPruner(store, &retention.Config{
			RetentionDays: cfg.Retention.Days,
			PruneSchedule: cfg.Retention.Schedule,
		})
		if err := pruner.Start(ctx); err != nil {
			slog.Warn("failed to start retention scheduler", "error", err)
		} else {
			defer pruner.Stop()
			if next := pruner.NextPruning(); next != nil {
				slog.Debug("retention scheduler started", "next_pruning", next)
			}
		}
	}

	// Configuration hot reload (optional)
	if cfg.WatchConfig {
		watcher, err := config.NewWatcher(cfgFile, slog.Default())
		if err != nil {
			slog.Warn("failed to create config watcher", "error", err)
		} else {
			go func() {
				if err := watcher.Watch(ctx, func(next *config.Config) {
					setupLogging(&next.Logging)
				}); err != nil {
					slog.Error("config watcher exited", "error", err)
				}
			}()
			defer watcher.Stop()
		}
	}

	srv := server.NewServer(cfg, store, pm)

	fmt.Println()
	fmt.Printf("✓ Proxy listening on %s\n", cfg.Proxy.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/_health\n", cfg.Proxy.ListenAddress)
	if cfg.Metrics.Enabled {
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Metrics.ListenAddress)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Println("✓ Server stopped")
	return nil
}

// setupLogging installs the process-wide slog handler per configuration.
// Called again on config reload to pick up level and format changes.
func setupLogging(cfg *config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *config.Config) {
	fmt.Printf("TokenTracker Relay v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")
	fmt.Printf("  Upstream: https://%s\n", cfg.Upstream.Host)
	fmt.Printf("  Usage database: %s\n", cfg.Storage.Path)
	fmt.Printf("\nSet ANTHROPIC_BASE_URL=http://%s to route clients through the relay.\n",
		cfg.Proxy.ListenAddress)
}
