package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/farmsight/sync-engine/internal/api"
	v0 "github.com/farmsight/sync-engine/internal/api/v0"
	"github.com/farmsight/sync-engine/internal/config"
	"github.com/farmsight/sync-engine/internal/connectivity"
	"github.com/farmsight/sync-engine/internal/offline"
	"github.com/farmsight/sync-engine/internal/store"
	syncer "github.com/farmsight/sync-engine/internal/sync"
	"github.com/farmsight/sync-engine/internal/telemetry"
	"github.com/farmsight/sync-engine/internal/transport"
	"github.com/farmsight/sync-engine/internal/versions"
	"github.com/farmsight/sync-engine/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync engine daemon",
	Long: `Start the sync engine daemon.

The daemon requires a configuration file (--config) that specifies:
- The local database path
- One remote endpoint per mutation type
- Connectivity probing, worker, and retry settings

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	serveCmd.Flags().Bool("tracing", false, "Enable span recording")

	for _, name := range []string{"address", "config", "tracing"} {
		if err := viper.BindPFlag(name, serveCmd.Flags().Lookup(name)); err != nil {
			slog.Error("Failed to bind flag", "flag", name, "error", err)
			os.Exit(1)
		}
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	address := viper.GetString("address")

	slog.Info("Starting sync engine daemon", "address", address, "version", versions.GetVersionInfo().Version)

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"database", cfg.Database.Path,
		"endpoints", len(cfg.Sync.Endpoints))

	tel, err := telemetry.New(ctx,
		telemetry.WithEnabled(viper.GetBool("tracing")),
		telemetry.WithService("fsight-syncd", versions.GetVersionInfo().Version),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	// Open (and migrate) the local store.
	db, err := store.Open(cfg.Database.Path, cfg.Database.Version)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	// Connectivity monitor.
	probeInterval, err := cfg.ProbeInterval()
	if err != nil {
		return fmt.Errorf("invalid probe interval: %w", err)
	}
	monitor := connectivity.NewMonitor(cfg.Connectivity.ProbeURL, probeInterval)
	monitor.Start(ctx)
	defer monitor.Stop()

	// Remote transport.
	requestTimeout, err := cfg.RequestTimeout()
	if err != nil {
		return fmt.Errorf("invalid request timeout: %w", err)
	}
	var transportOpts []transport.Option
	if requestTimeout > 0 {
		transportOpts = append(transportOpts, transport.WithTimeout(requestTimeout))
	}
	remote, err := transport.NewHTTP(cfg.Sync.Endpoints, transportOpts...)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	// Background worker is optional: when the artifact is missing the
	// engine degrades to foreground-only sync triggers.
	updateInterval, err := cfg.UpdateInterval()
	if err != nil {
		return fmt.Errorf("invalid worker update interval: %w", err)
	}
	var mgr *worker.Manager
	candidate := worker.NewManager(cfg.Worker.Script, cfg.Worker.Scope, updateInterval)
	if err := candidate.Register(ctx); err != nil {
		if !errors.Is(err, worker.ErrUnsupported) {
			return fmt.Errorf("failed to register worker: %w", err)
		}
		slog.Warn("Background worker unavailable, using foreground sync only",
			"script", cfg.Worker.Script)
	} else {
		mgr = candidate
		defer func() {
			if err := mgr.Unregister(); err != nil {
				slog.Error("Failed to unregister worker", "error", err)
			}
		}()
	}

	// Sync coordinator.
	backoffBase, err := cfg.BackoffBase()
	if err != nil {
		return fmt.Errorf("invalid backoff base: %w", err)
	}
	coordOpts := []syncer.Option{
		syncer.WithBatchSize(cfg.Sync.BatchSize),
		syncer.WithMaxRetries(cfg.Sync.MaxRetries),
		syncer.WithBackoffBase(backoffBase),
	}
	if mgr != nil {
		coordOpts = append(coordOpts, syncer.WithWorker(mgr))
	}
	coordinator := syncer.New(db, remote, monitor, coordOpts...)
	if err := coordinator.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize sync coordinator: %w", err)
	}

	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()
	go func() {
		if err := coordinator.Run(syncCtx); err != nil {
			slog.Error("Sync coordinator stopped", "error", err)
		}
	}()

	svc := offline.NewService(db, coordinator)

	deps := v0.Deps{
		Offline: svc,
		Sync:    coordinator,
		Letters: db,
	}
	if mgr != nil {
		deps.Worker = mgr
	}

	router := api.NewServer(deps,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down...")

	syncCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Shutdown complete")
	return nil
}
