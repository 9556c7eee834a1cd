/*
main.go - Application entry point

PURPOSE:
  Runs the progression engine HTTP server and a small catalog tool.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve                     Start the HTTP server (default)
  catalog validate <file>   Check a YAML catalog and exit

STARTUP SEQUENCE (serve):
  1. Load TOML config (or built-in defaults)
  2. Set up logging (logrus + lumberjack)
  3. Open the configured store (memory, sqlite, redis)
  4. Load and validate the catalog
  5. Create the session registry, handler and router
  6. Start the refresh poller and the HTTP server
  7. Graceful shutdown on SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  1. Stop the refresh poller
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store

EXAMPLES:
  # Run with built-in defaults (memory store)
  ./server serve

  # Run with a config file
  ./server serve --env=production --config=./config.toml

  # Run with a custom catalog
  ./server serve --catalog=./catalog.yaml

SEE ALSO:
  - api/server.go:     Router configuration
  - config/config.go:  Configuration
  - catalog/yaml.go:   Catalog format
*/
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/progression-engine/api"
	"github.com/warp/progression-engine/catalog"
	"github.com/warp/progression-engine/config"
	"github.com/warp/progression-engine/logging"
	"github.com/warp/progression-engine/metrics"
	"github.com/warp/progression-engine/progression"
	"github.com/warp/progression-engine/store/memory"
	redisstore "github.com/warp/progression-engine/store/redis"
	"github.com/warp/progression-engine/store/sqlite"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type serveOptions struct {
	Env         string
	ConfigPath  string
	CatalogPath string
	Port        int
	Simulator   bool
}

func newRootCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Progression & rewards engine",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Env, "env", "development", "environment [dev | development | prod | production]")
	flags.StringVar(&opts.ConfigPath, "config", "", "path for the TOML config file (defaults when empty)")
	flags.StringVar(&opts.CatalogPath, "catalog", "", "path for a YAML catalog (overrides config)")
	flags.IntVar(&opts.Port, "port", 0, "HTTP server port (overrides config)")
	flags.BoolVar(&opts.Simulator, "sim", false, "mount the simulator control and scenario routes")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCatalogCommand())
	return cmd
}

func newServeCommand(opts *serveOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Catalog tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateCatalog(cmd.OutOrStdout(), args[0])
		},
	})
	return cmd
}

func validateCatalog(out io.Writer, path string) error {
	c, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	c = c.WithDefaults(time.Now())
	if err := c.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(out, "ok: %d challenges, %d items, %d journey nodes\n",
		len(c.Challenges), len(c.Items), len(c.Journey))
	return nil
}

// =============================================================================
// SERVE
// =============================================================================

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.Env, opts.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}
	if opts.CatalogPath != "" {
		cfg.CatalogPath = opts.CatalogPath
	}

	logging.Setup(logging.LoggerSetupParams{
		LogFileName:   cfg.LogsPath,
		LogToStdout:   cfg.LogToStdout,
		LogLevel:      cfg.LogLevel,
		LogFormatJSON: cfg.LogJSON,
	})
	log.Warnf("---->> running in [%s] environment", cfg.Environment)
	log.Debugf("using port: %d, store: %s", cfg.Port, cfg.Store)

	kv, journal, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer closeStore()

	cat, definitions, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	reg := prometheus.DefaultRegisterer
	metricsManager := metrics.NewManager("progression", "engine", reg)
	logger := log.NewEntry(log.StandardLogger())

	registry, err := api.NewRegistry(api.RegistryConfig{
		Store:            kv,
		Journal:          journal,
		Shop:             cat.Items,
		Journey:          cat.Journey,
		Definitions:      definitions,
		StartingBalance:  cfg.StartingBalance,
		CacheSizeBytes:   cfg.CacheSizeMB * 1024 * 1024,
		CacheTTLSeconds:  cfg.CacheTTLSeconds,
		SimulatorLatency: cfg.SimulatorLatency.Duration,
		Logger:           logger,
		Metrics:          metricsManager,
	})
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}

	handler := api.NewHandler(registry, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		Gatherer:        prometheus.DefaultGatherer,
		Metrics:         metricsManager,
		EnableSimulator: opts.Simulator,
	})

	poller := progression.NewPoller(registry.Sessions, cfg.RefreshInterval.Duration, logger)
	poller.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("server starting on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		poller.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("shutting down server...")
	poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (progression.KVStore, progression.Journal, func(), error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, func() { s.Close() }, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, err
		}
		s := redisstore.NewStore(client, redisstore.DefaultPrefix)
		return s, s, func() { client.Close() }, nil
	default:
		m := memory.NewMemory()
		return m, m, func() {}, nil
	}
}

// loadCatalog returns the catalog plus the definition source handed to the
// simulated backend. Built-in definitions are re-anchored on every call so
// daily and weekly windows roll over; file definitions are served as-is.
func loadCatalog(path string) (catalog.Catalog, func(time.Time) []progression.ChallengeDefinition, error) {
	var fromFile catalog.Catalog
	if path != "" {
		c, err := catalog.LoadFile(path)
		if err != nil {
			return catalog.Catalog{}, nil, err
		}
		fromFile = c
	}

	cat := fromFile.WithDefaults(time.Now())
	if err := cat.Validate(); err != nil {
		return catalog.Catalog{}, nil, fmt.Errorf("invalid catalog: %w", err)
	}

	definitions := catalog.DefaultChallenges
	if len(fromFile.Challenges) > 0 {
		static := fromFile.Challenges
		definitions = func(time.Time) []progression.ChallengeDefinition {
			return append([]progression.ChallengeDefinition(nil), static...)
		}
	}
	return cat, definitions, nil
}
