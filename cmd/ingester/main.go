package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"crop-rotation/internal/config"
	"crop-rotation/internal/repository"
	"crop-rotation/internal/rotation"
	"crop-rotation/internal/services"
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

	file := flag.String("file", cfg.Dataset.Path, "CSV dataset to load")
	batchSize := flag.Int("batch-size", cfg.Dataset.BatchSize, "Number of records to insert per batch")
	replace := flag.Bool("replace", false, "Replace existing observations in one transaction")
	migrateFirst := flag.Bool("migrate", true, "Apply pending migrations before loading")
	verify := flag.Bool("verify", true, "Build rotation aggregates from the stored rows after loading")
	flag.Parse()

	level := cfg.Logging.LogLevel()
	logger := logging.NewStructuredLogger("crop-rotation-ingester", cfg.Logging.Version, level)

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting dataset ingestion", logging.Fields{
		"version":    cfg.Logging.Version,
		"file":       *file,
		"batch_size": *batchSize,
		"replace":    *replace,
	})

	metricsCollector := metrics.NewCollector("crop_rotation_ingester", prometheus.NewRegistry())

	if *migrateFirst {
		if err := database.MigrateUp(cfg.Database.URL(), cfg.Database.MigrationsPath); err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to apply migrations", logging.Fields{
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
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	repo := repository.NewObservationRepository(db, logger, metricsCollector)
	ingestionService := services.NewIngestionService(repo, logger, metricsCollector)

	result, err := ingestionService.IngestFile(ctx, *file, services.IngestOptions{
		BatchSize: *batchSize,
		Replace:   *replace,
	})
	if err != nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
			"file": *file,
		}, err)
	}

	// Print results
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Total Records:      %d\n", result.TotalRecords)
	fmt.Printf("Successful Records: %d\n", result.SuccessfulRecords)
	fmt.Printf("Failed Records:     %d\n", result.FailedRecords)
	fmt.Printf("Replaced:           %t\n", result.Replaced)
	fmt.Printf("Duration:           %v\n", result.Duration)

	if len(result.Errors) > 0 {
		fmt.Printf("\nRejected rows (%d shown):\n", len(result.Errors))
		for _, msg := range result.Errors {
			fmt.Printf("  - %s\n", msg)
		}
	}

	if *verify {
		rows, err := repo.ListObservations(ctx)
		if err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to read back observations", logging.Fields{}, err)
		}
		agg, err := rotation.Build(rows)
		if err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Stored rows do not build aggregates", logging.Fields{
				"rows": len(rows),
			}, err)
		}
		summary := agg.Summary()
		fmt.Printf("\nAggregates: %d observations, %d soil types, %d crop types\n",
			summary.Observations, summary.SoilTypes, summary.CropTypes)
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed successfully", logging.Fields{
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"duration_seconds":   result.Duration.Seconds(),
	})
}
