package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"crop-rotation/internal/dataset"
	"crop-rotation/internal/models"
	"crop-rotation/internal/repository"
	"crop-rotation/internal/rotation"
	"crop-rotation/pkg/logging"
	"crop-rotation/pkg/metrics"
)

// maxReportedErrors bounds IngestionResult.Errors.
const maxReportedErrors = 50

// IngestionService loads the CSV dataset into PostgreSQL
type IngestionService struct {
	repo    repository.ObservationRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	Replaced          bool
	Duration          time.Duration
	Errors            []string
}

// IngestOptions controls one ingestion run.
type IngestOptions struct {
	BatchSize int
	// Replace swaps the table contents in one transaction instead of
	// appending batches.
	Replace bool
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.ObservationRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// IngestFile ingests one CSV dataset file
func (s *IngestionService) IngestFile(ctx context.Context, path string, opts IngestOptions) (*IngestionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	s.logger.Info(ctx, "[INGEST_START] Starting dataset ingestion", logging.Fields{
		"path":       path,
		"batch_size": opts.BatchSize,
		"replace":    opts.Replace,
		"stage":      "INITIALIZATION",
	})

	result, err := s.Ingest(ctx, f, opts)
	if err != nil {
		s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
			"path":  path,
			"stage": "FILE_PROCESSING",
		}, err)
		return nil, err
	}
	return result, nil
}

// Ingest reads a CSV dataset from r and stores the valid rows. Malformed rows
// are counted and skipped.
func (s *IngestionService) Ingest(ctx context.Context, r io.Reader, opts IngestOptions) (*IngestionResult, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	startTime := time.Now()

	reader, err := dataset.NewReader(r)
	if err != nil {
		s.metrics.RecordIngestionError("header_error")
		return nil, err
	}

	result := &IngestionResult{Replaced: opts.Replace}
	var pending []*models.Observation
	if !opts.Replace {
		pending = make([]*models.Observation, 0, opts.BatchSize)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obs, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		result.TotalRecords++

		if err != nil {
			var rowErr *dataset.RowError
			if !errors.As(err, &rowErr) {
				return nil, fmt.Errorf("error reading dataset: %w", err)
			}
			result.FailedRecords++
			s.metrics.RecordIngestionError("row_error")
			if len(result.Errors) < maxReportedErrors {
				result.Errors = append(result.Errors, rowErr.Error())
			}
			continue
		}

		pending = append(pending, obs)

		if !opts.Replace && len(pending) >= opts.BatchSize {
			if err := s.repo.CreateObservationsBatch(ctx, pending); err != nil {
				return nil, fmt.Errorf("failed to insert batch: %w", err)
			}
			result.SuccessfulRecords += len(pending)
			pending = pending[:0]
		}
	}

	if opts.Replace {
		// An empty replacement would leave the source unable to build aggregates.
		if len(pending) == 0 {
			s.metrics.RecordIngestionError("empty_replace")
			return nil, fmt.Errorf("refusing to replace observations with %d rejected rows and no valid ones: %w",
				result.FailedRecords, rotation.ErrNoObservations)
		}
		if err := s.repo.ReplaceAll(ctx, pending); err != nil {
			return nil, fmt.Errorf("failed to replace observations: %w", err)
		}
		result.SuccessfulRecords = len(pending)
	} else if len(pending) > 0 {
		if err := s.repo.CreateObservationsBatch(ctx, pending); err != nil {
			return nil, fmt.Errorf("failed to insert final batch: %w", err)
		}
		result.SuccessfulRecords += len(pending)
	}

	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())
	s.metrics.IngestionRecordsTotal.Add(float64(result.SuccessfulRecords))

	s.logger.Info(ctx, "[INGEST_COMPLETE] Dataset ingestion completed", logging.Fields{
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"replaced":           result.Replaced,
		"duration_seconds":   result.Duration.Seconds(),
		"stage":              "COMPLETE",
	})

	return result, nil
}
