package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"crop-rotation/internal/models"
	"crop-rotation/pkg/database"
	"crop-rotation/pkg/logging"
	"crop-rotation/pkg/metrics"
)

// ObservationRepository provides data access for the soil/crop dataset
type ObservationRepository interface {
	CreateObservationsBatch(ctx context.Context, observations []*models.Observation) error
	// ReplaceAll atomically swaps the table contents for observations.
	ReplaceAll(ctx context.Context, observations []*models.Observation) error
	// ListObservations returns every row in insertion order.
	ListObservations(ctx context.Context) ([]models.Observation, error)
	GetObservation(ctx context.Context, id int64) (*models.Observation, error)
	CountObservations(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) error
}

type observationRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewObservationRepository creates a new observation repository
func NewObservationRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ObservationRepository {
	return &observationRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

const insertObservation = `
	INSERT INTO soil_observations (
		soil_type, crop_type,
		nitrogen, phosphorous, potassium,
		temperature, humidity, moisture,
		created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const selectObservations = `
	SELECT id, soil_type, crop_type,
	       nitrogen, phosphorous, potassium,
	       temperature, humidity, moisture,
	       created_at
	FROM soil_observations
`

// CreateObservationsBatch inserts observations in a single transaction.
func (r *observationRepository) CreateObservationsBatch(ctx context.Context, observations []*models.Observation) error {
	if len(observations) == 0 {
		return nil
	}

	start := time.Now()
	err := r.db.WithTx(ctx, "insert_observations", func(tx *sqlx.Tx) error {
		return insertAll(ctx, tx, observations)
	})
	if err != nil {
		return err
	}

	r.metrics.IngestionBatchSize.Observe(float64(len(observations)))
	r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
		"count":       len(observations),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// ReplaceAll truncates the table and inserts observations in one transaction,
// so readers see either the old or the new dataset.
func (r *observationRepository) ReplaceAll(ctx context.Context, observations []*models.Observation) error {
	err := r.db.WithTx(ctx, "replace_observations", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `TRUNCATE soil_observations RESTART IDENTITY`); err != nil {
			return fmt.Errorf("failed to truncate observations: %w", err)
		}
		return insertAll(ctx, tx, observations)
	})
	if err != nil {
		return err
	}

	r.logger.Info(ctx, "[REPO_REPLACE] Observation table replaced", logging.Fields{
		"count": len(observations),
	})
	return nil
}

func insertAll(ctx context.Context, tx *sqlx.Tx, observations []*models.Observation) error {
	stmt, err := tx.PrepareContext(ctx, insertObservation)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		createdAt := obs.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := stmt.ExecContext(ctx,
			obs.SoilType,
			obs.CropType,
			obs.Nitrogen,
			obs.Phosphorous,
			obs.Potassium,
			obs.Temperature,
			obs.Humidity,
			obs.Moisture,
			createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert observation: %w", err)
		}
	}
	return nil
}

// ListObservations returns every observation ordered by id. The order is part
// of the contract: nutrient-bias ties are broken by first appearance.
func (r *observationRepository) ListObservations(ctx context.Context) ([]models.Observation, error) {
	var observations []models.Observation
	err := r.db.SelectContext(ctx, "list_observations", &observations, selectObservations+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	return observations, nil
}

// GetObservation retrieves one observation by id
func (r *observationRepository) GetObservation(ctx context.Context, id int64) (*models.Observation, error) {
	var obs models.Observation
	err := r.db.GetContext(ctx, "get_observation", &obs, selectObservations+` WHERE id = $1`, id)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{
			Resource: "soil_observation",
			ID:       fmt.Sprint(id),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}

	return &obs, nil
}

// CountObservations returns the number of stored rows
func (r *observationRepository) CountObservations(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, "count_observations", &count, `SELECT COUNT(*) FROM soil_observations`); err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return count, nil
}

// HealthCheck checks database health
func (r *observationRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// Source adapts an ObservationRepository to the loader interface used by
// the rotation service.
type Source struct {
	repo ObservationRepository
}

// NewSource wraps repo.
func NewSource(repo ObservationRepository) *Source {
	return &Source{repo: repo}
}

// Name identifies the source in logs and metrics.
func (s *Source) Name() string {
	return "postgres"
}

// LoadObservations reads the full table.
func (s *Source) LoadObservations(ctx context.Context) ([]models.Observation, error) {
	return s.repo.ListObservations(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// IsTransient returns false; the row will not appear by retrying.
func (e *NotFoundError) IsTransient() bool {
	return false
}
