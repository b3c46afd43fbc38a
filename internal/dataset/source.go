package dataset

import (
	"context"
	"fmt"
	"os"
	"time"

	"crop-rotation/internal/models"
	"crop-rotation/pkg/logging"
	"crop-rotation/pkg/metrics"
)

// maxLoggedRejects bounds the per-row warnings written for one load.
const maxLoggedRejects = 20

// CSVSource loads observations from a CSV file on every call.
type CSVSource struct {
	path    string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewCSVSource creates a source reading path.
func NewCSVSource(path string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CSVSource {
	return &CSVSource{
		path:    path,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Name identifies the source in logs and metrics.
func (s *CSVSource) Name() string {
	return "csv"
}

// Path returns the dataset file path.
func (s *CSVSource) Path() string {
	return s.path
}

// LoadObservations reads the whole file. Rejected rows are logged and
// counted but do not fail the load.
func (s *CSVSource) LoadObservations(ctx context.Context) ([]models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	f, err := os.Open(s.path)
	if err != nil {
		s.metrics.RecordIngestionError("open_error")
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	result, err := Parse(f)
	if err != nil {
		s.metrics.RecordIngestionError("header_error")
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	for i, rowErr := range result.Rejected {
		s.metrics.RecordIngestionError("row_error")
		if i < maxLoggedRejects {
			s.logger.Warn(ctx, "[DATASET_ROW_REJECTED] Skipping malformed row", logging.Fields{
				"path":  s.path,
				"line":  rowErr.Line,
				"error": rowErr.Err.Error(),
			})
		}
	}
	s.metrics.IngestionRecordsTotal.Add(float64(len(result.Observations)))

	s.logger.Info(ctx, "[DATASET_LOADED] Dataset read", logging.Fields{
		"path":        s.path,
		"total_rows":  result.TotalRows,
		"accepted":    len(result.Observations),
		"rejected":    len(result.Rejected),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return result.Observations, nil
}
