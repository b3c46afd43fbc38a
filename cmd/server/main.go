package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"crop-rotation/internal/config"
	"crop-rotation/internal/dataset"
	"crop-rotation/internal/handlers"
	"crop-rotation/internal/repository"
	"crop-rotation/internal/rotation"
	"crop-rotation/internal/services"
	"crop-rotation/internal/watcher"
	"crop-rotation/pkg/database"
	"crop-rotation/pkg/logging"
	"crop-rotation/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger(cfg.Logging.Service, cfg.Logging.Version, cfg.Logging.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[STARTUP] Starting crop rotation API server", logging.Fields{
		"version":        cfg.Logging.Version,
		"server_address": cfg.Server.Addr(),
		"dataset_source": cfg.Dataset.Source,
		"db_enabled":     cfg.Database.Enabled,
	})

	metricsCollector := metrics.NewCollector("crop_rotation", prometheus.DefaultRegisterer)

	// Database is optional for the csv source.
	var db *database.PostgresDB
	if cfg.Database.Enabled {
		db = openDatabase(ctx, cfg, logger, metricsCollector)
		defer db.Close()
	}

	var source services.ObservationSource
	var csvSource *dataset.CSVSource
	switch cfg.Dataset.Source {
	case config.SourcePostgres:
		repo := repository.NewObservationRepository(db, logger, metricsCollector)
		source = repository.NewSource(repo)
	default:
		csvSource = dataset.NewCSVSource(cfg.Dataset.Path, logger, metricsCollector)
		source = csvSource
	}

	engine := rotation.NewEngine(rotation.Limits{
		MaxTopK:       cfg.Rotation.MaxTopK,
		MaxCandidates: cfg.Rotation.MaxCandidates,
	})
	rotationService := services.NewRotationService(source, engine, logger, metricsCollector)

	if _, err := rotationService.Refresh(ctx, services.TriggerStartup); err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to build rotation aggregates", logging.Fields{
			"source": source.Name(),
		}, err)
	}

	var dbHealth handlers.HealthChecker
	if db != nil {
		dbHealth = db
	}
	rotationHandler := handlers.NewRotationHandler(rotationService, dbHealth, cfg.Rotation.DefaultTopK, logger, metricsCollector)

	var apiMiddleware []mux.MiddlewareFunc
	if cfg.RateLimit.Enabled {
		limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
		apiMiddleware = append(apiMiddleware, handlers.RateLimit(limiter, logger, metricsCollector))
	}

	router := handlers.NewRouter(rotationHandler, apiMiddleware...)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "[SHUTDOWN] Shutting down server...", logging.Fields{})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if csvSource != nil && cfg.Dataset.Watch {
		w, err := watcher.New(csvSource.Path(), cfg.Dataset.WatchDebounce, func(ctx context.Context) {
			// Failures are logged by the service and the previous bundle stays live.
			_, _ = rotationService.Refresh(ctx, services.TriggerWatch)
		}, logger)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to create dataset watcher", logging.Fields{
				"path": csvSource.Path(),
			}, err)
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	if cfg.Dataset.RefreshInterval > 0 {
		g.Go(func() error {
			refreshPeriodically(gctx, rotationService, cfg.Dataset.RefreshInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error(context.Background(), "[SHUTDOWN_ERROR] Server stopped with error", logging.Fields{}, err)
		os.Exit(1)
	}

	logger.Info(context.Background(), "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *database.PostgresDB {
	if cfg.Database.MigrationsPath != "" {
		if err := database.MigrateUp(cfg.Database.URL(), cfg.Database.MigrationsPath); err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to apply migrations", logging.Fields{
				"migrations_path": cfg.Database.MigrationsPath,
			}, err)
		}
	}

	db, err := database.NewPostgresDB(ctx, &database.Config{
		DSN:             cfg.Database.DSN(),
		Name:            cfg.Database.Database,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{
			"db_host": cfg.Database.Host,
			"db_name": cfg.Database.Database,
		}, err)
	}
	return db
}

func refreshPeriodically(ctx context.Context, svc *services.RotationService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = svc.Refresh(ctx, services.TriggerInterval)
		}
	}
}
