package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crop-rotation/internal/models"
	"crop-rotation/internal/rotation"
	"crop-rotation/pkg/logging"
	"crop-rotation/pkg/metrics"
)

// ErrCropNotFound is returned by CropProfile for crops absent from the dataset.
var ErrCropNotFound = errors.New("crop not found in dataset")

// Refresh triggers, used as metric labels.
const (
	TriggerStartup  = "startup"
	TriggerManual   = "manual"
	TriggerWatch    = "watch"
	TriggerInterval = "interval"
)

// ObservationSource supplies the reference dataset.
type ObservationSource interface {
	Name() string
	LoadObservations(ctx context.Context) ([]models.Observation, error)
}

// SoilCandidates lists the crops observed on one soil type.
type SoilCandidates struct {
	SoilType string   `json:"soil_type"`
	Crops    []string `json:"crops"`
}

// Status describes the live aggregate bundle.
type Status struct {
	Ready       bool             `json:"ready"`
	Source      string           `json:"source"`
	Summary     rotation.Summary `json:"summary"`
	LastRefresh time.Time        `json:"last_refresh,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	Refreshes   int              `json:"refreshes"`
}

// RotationService builds aggregates from a source and answers rotation
// queries against the live bundle.
type RotationService struct {
	source  ObservationSource
	engine  *rotation.Engine
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	// refreshMu serializes rebuilds; queries never take it.
	refreshMu sync.Mutex

	statusMu sync.RWMutex
	status   Status
}

// NewRotationService creates a new rotation service
func NewRotationService(source ObservationSource, engine *rotation.Engine, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *RotationService {
	return &RotationService{
		source:  source,
		engine:  engine,
		logger:  logger,
		metrics: metricsCollector,
		status:  Status{Source: source.Name()},
	}
}

// Refresh reloads the dataset, rebuilds the aggregates and publishes them.
// On failure the previous bundle stays live.
func (s *RotationService) Refresh(ctx context.Context, trigger string) (rotation.Summary, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	timer := s.metrics.NewTimer(s.metrics.AggregateBuildDuration)

	summary, err := s.rebuild(ctx)
	duration := timer.ObserveDuration()
	s.metrics.RecordRefresh(trigger, err)

	s.statusMu.Lock()
	s.status.LastRefresh = time.Now().UTC()
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.Ready = true
		s.status.Summary = summary
		s.status.LastError = ""
		s.status.Refreshes++
	}
	s.statusMu.Unlock()

	if err != nil {
		s.logger.Error(ctx, "[ROTATION_REFRESH_ERROR] Aggregate refresh failed", logging.Fields{
			"source":       s.source.Name(),
			"trigger":      trigger,
			"duration_ms":  duration.Milliseconds(),
			"kept_current": s.engine.Ready(),
		}, err)
		return rotation.Summary{}, err
	}

	s.metrics.UpdateAggregateSize(summary.Observations, summary.SoilTypes, summary.CropTypes)
	s.logger.Info(ctx, "[ROTATION_REFRESH] Aggregates published", logging.Fields{
		"source":       s.source.Name(),
		"trigger":      trigger,
		"observations": summary.Observations,
		"soil_types":   summary.SoilTypes,
		"crop_types":   summary.CropTypes,
		"duration_ms":  duration.Milliseconds(),
	})
	return summary, nil
}

func (s *RotationService) rebuild(ctx context.Context) (rotation.Summary, error) {
	observations, err := s.source.LoadObservations(ctx)
	if err != nil {
		return rotation.Summary{}, fmt.Errorf("load observations from %s: %w", s.source.Name(), err)
	}

	agg, err := rotation.Build(observations)
	if err != nil {
		return rotation.Summary{}, fmt.Errorf("build aggregates: %w", err)
	}

	s.engine.Publish(agg)
	return agg.Summary(), nil
}

// Recommend ranks rotation candidates for q.
func (s *RotationService) Recommend(ctx context.Context, q rotation.Query) ([]rotation.Recommendation, error) {
	agg := s.engine.Aggregates()
	if agg == nil {
		return nil, rotation.ErrNotInitialized
	}

	recs, err := agg.Recommend(q, s.engine.Limits())
	if err != nil {
		return nil, err
	}

	candidates := len(agg.Candidates(q.SoilType))
	s.metrics.RecordRecommendation(candidates > 0, candidates, len(recs))

	s.logger.Debug(ctx, "[ROTATION_RECOMMEND] Recommendations computed", logging.Fields{
		"current_crop": q.CurrentCrop,
		"soil_type":    q.SoilType,
		"top_k":        q.TopK,
		"candidates":   candidates,
		"returned":     len(recs),
	})
	return recs, nil
}

// Soils lists every soil type with its candidate crops.
func (s *RotationService) Soils(ctx context.Context) ([]SoilCandidates, error) {
	agg := s.engine.Aggregates()
	if agg == nil {
		return nil, rotation.ErrNotInitialized
	}

	soils := agg.Soils()
	out := make([]SoilCandidates, len(soils))
	for i, soil := range soils {
		out[i] = SoilCandidates{SoilType: soil, Crops: agg.Candidates(soil)}
	}
	return out, nil
}

// CropProfile returns what the dataset says about crop.
func (s *RotationService) CropProfile(ctx context.Context, crop string) (*rotation.CropProfile, error) {
	agg := s.engine.Aggregates()
	if agg == nil {
		return nil, rotation.ErrNotInitialized
	}

	profile, ok := agg.Profile(crop)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCropNotFound, models.CanonicalName(crop))
	}
	return &profile, nil
}

// Ready reports whether a bundle is live.
func (s *RotationService) Ready() bool {
	return s.engine.Ready()
}

// Status returns a snapshot of the refresh state.
func (s *RotationService) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}
