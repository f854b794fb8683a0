// Package main is the entry point for the CraveMap entitlement service.
//
// It loads configuration, selects the record store backend (flat files or
// PostgreSQL), wires the domain components (entitlement evaluation, quota
// tracking, billing webhook processing, abuse guarding, admin commands),
// and serves the HTTP API until an OS signal triggers graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sowhat82/cravemap/internal/abuse"
	"github.com/sowhat82/cravemap/internal/admin"
	"github.com/sowhat82/cravemap/internal/api"
	"github.com/sowhat82/cravemap/internal/backup"
	"github.com/sowhat82/cravemap/internal/billing"
	"github.com/sowhat82/cravemap/internal/config"
	"github.com/sowhat82/cravemap/internal/entitlement"
	"github.com/sowhat82/cravemap/internal/external"
	"github.com/sowhat82/cravemap/internal/identity"
	"github.com/sowhat82/cravemap/internal/metrics"
	"github.com/sowhat82/cravemap/internal/quota"
	"github.com/sowhat82/cravemap/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("entitlement service starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"store_backend", cfg.Store.Backend,
		"port", cfg.Server.Port,
	)

	collector, err := newCollector(cfg, logger)
	if err != nil {
		return err
	}

	records, counters, backups, cleanup, err := newStores(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	resolver := identity.NewResolver()

	oracle := external.NewStripeOracle(external.StripeOracleConfig{
		SecretKey: cfg.Billing.StripeSecretKey,
		Timeout:   cfg.Billing.OracleTimeout,
		Logger:    logger,
	})

	evaluator := entitlement.NewEvaluator(
		entitlement.Policy{
			GraceWindow: cfg.Entitlement.GraceWindow,
			TrialWindow: cfg.Entitlement.TrialWindow,
		},
		oracle,
		cfg.Billing.OracleTimeout,
		collector,
		logger,
	)

	tracker := quota.NewTracker(quota.Limits{
		MonthlyFree:    cfg.Quota.MonthlyFreeLimit,
		TrialDaily:     cfg.Quota.TrialDailyLimit,
		AnonymousDaily: cfg.Quota.AnonymousDailyLimit,
	}, counters, collector, logger)

	srv, err := api.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Records = records
	srv.Resolver = resolver
	srv.Evaluator = evaluator
	srv.Tracker = tracker
	srv.Guard = abuse.NewGuard(logger)
	srv.Dispatcher = admin.NewDispatcher(admin.Codes{
		Grant:  cfg.Admin.GrantCode,
		Revoke: cfg.Admin.RevokeCode,
		Reset:  cfg.Admin.ResetCode,
		Trial:  cfg.Admin.TrialCode,
	}, logger)
	srv.Processor = billing.NewProcessor(records, resolver, collector, logger)
	srv.Verifier = external.StripeVerifier{}
	srv.Backups = backups
	srv.Places = external.NewPlacesClient(external.PlacesConfig{
		BaseURL: cfg.Places.BaseURL,
		APIKey:  cfg.Places.APIKey,
		Timeout: cfg.Places.Timeout,
		Logger:  logger,
	})
	srv.Completion = external.NewCompletionClient(external.CompletionConfig{
		BaseURL:         cfg.Completion.BaseURL,
		APIKey:          cfg.Completion.APIKey,
		Models:          cfg.Completion.Models,
		FallbackMessage: cfg.Completion.FallbackMessage,
		Timeout:         cfg.Completion.Timeout,
		Logger:          logger,
	})
	srv.Metrics = collector
	srv.MountRoutes()

	return serve(cfg, srv, logger)
}

// newStores builds the record and counter stores for the configured
// backend. Snapshots only exist for the file backend; PostgreSQL
// deployments use database-level backups. The returned cleanup func
// releases backend resources on shutdown.
func newStores(cfg *config.Config, logger *slog.Logger) (store.RecordStore, store.DailyCounterStore, *backup.Manager, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.Store.DatabaseURL.Unmask())
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("parsing database url: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Store.MaxConns)
		poolCfg.MinConns = int32(cfg.Store.MinConns)
		poolCfg.MaxConnLifetime = cfg.Store.MaxConnLifetime
		poolCfg.HealthCheckPeriod = cfg.Store.HealthCheckPeriod

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.AcquireTimeout)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
		}

		pg := store.NewPGStore(pool)
		return pg, pg, nil, pool.Close, nil

	default:
		fs, err := store.NewFileStore(cfg.Store.DataDir)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("opening file store: %w", err)
		}
		backups, err := backup.NewManager(fs.Dir(), cfg.Backup.Dir, cfg.Backup.Retain, logger)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("preparing backup directory: %w", err)
		}
		return fs, fs, backups, func() {}, nil
	}
}

// newCollector returns the CloudWatch collector when metrics are enabled,
// and the no-op collector otherwise.
func newCollector(cfg *config.Config, logger *slog.Logger) (metrics.Collector, error) {
	if !cfg.Observability.MetricsEnabled {
		return metrics.Noop{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Observability.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return metrics.NewCloudWatchCollector(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		logger,
	), nil
}

// serve runs the HTTP server until a signal or server error, then shuts
// down gracefully within the configured deadline.
func serve(cfg *config.Config, srv *api.Server, logger *slog.Logger) error {
	addr := net.JoinHostPort("", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
