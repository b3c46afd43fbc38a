package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crop-rotation/internal/models"
	"crop-rotation/internal/rotation"
	"crop-rotation/pkg/logging"
	"crop-rotation/pkg/metrics"
)

type fakeSource struct {
	mu    sync.Mutex
	rows  []models.Observation
	err   error
	calls int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) LoadObservations(context.Context) ([]models.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.rows, f.err
}

func (f *fakeSource) set(rows []models.Observation, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows, f.err = rows, err
}

func clayeyRows() []models.Observation {
	return []models.Observation{
		{SoilType: "Clayey", CropType: "Paddy", Nitrogen: 37, Temperature: 26, Humidity: 50, Moisture: 40},
		{SoilType: "Clayey", CropType: "Paddy", Nitrogen: 35, Phosphorous: 5, Potassium: 2, Temperature: 32, Humidity: 70, Moisture: 50},
		{SoilType: "Clayey", CropType: "Rice", Nitrogen: 30, Phosphorous: 10, Potassium: 5, Temperature: 25, Humidity: 55, Moisture: 40},
		{SoilType: "Clayey", CropType: "Rice", Nitrogen: 28, Phosphorous: 12, Potassium: 8, Temperature: 35, Humidity: 65, Moisture: 50},
		{SoilType: "Clayey", CropType: "Pulses", Nitrogen: 5, Phosphorous: 30, Potassium: 10, Temperature: 28, Humidity: 55, Moisture: 42},
		{SoilType: "Clayey", CropType: "Pulses", Nitrogen: 4, Phosphorous: 36, Temperature: 34, Humidity: 65, Moisture: 48},
		{SoilType: "Sandy", CropType: "Maize", Nitrogen: 40, Phosphorous: 10, Potassium: 10, Temperature: 30, Humidity: 60, Moisture: 40},
	}
}

func newTestService(t *testing.T, source ObservationSource) (*RotationService, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector("test", prometheus.NewRegistry())
	engine := rotation.NewEngine(rotation.DefaultLimits())
	return NewRotationService(source, engine, logging.NewNopLogger(), collector), collector
}

func clayeyQuery() rotation.Query {
	return rotation.Query{
		CurrentCrop: "Paddy",
		SoilType:    "Clayey",
		Temperature: 30,
		Humidity:    60,
		Moisture:    45,
		Nitrogen:    12,
		TopK:        5,
	}
}

func TestRotationService_NotInitialized(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()

	assert.False(t, svc.Ready())

	_, err := svc.Recommend(ctx, clayeyQuery())
	assert.ErrorIs(t, err, rotation.ErrNotInitialized)

	_, err = svc.Soils(ctx)
	assert.ErrorIs(t, err, rotation.ErrNotInitialized)

	_, err = svc.CropProfile(ctx, "Paddy")
	assert.ErrorIs(t, err, rotation.ErrNotInitialized)
}

func TestRotationService_RefreshAndRecommend(t *testing.T) {
	source := &fakeSource{rows: clayeyRows()}
	svc, collector := newTestService(t, source)
	ctx := context.Background()

	summary, err := svc.Refresh(ctx, TriggerStartup)
	require.NoError(t, err)
	assert.Equal(t, rotation.Summary{Observations: 7, SoilTypes: 2, CropTypes: 4}, summary)
	assert.True(t, svc.Ready())

	recs, err := svc.Recommend(ctx, clayeyQuery())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "Pulses", recs[0].Crop)
	assert.Equal(t, 100, recs[0].SuitabilityScore)
	assert.Equal(t, "Paddy", recs[2].Crop)
	assert.Equal(t, "Suitable for soil type", recs[2].Reason)

	status := svc.Status()
	assert.True(t, status.Ready)
	assert.Equal(t, "fake", status.Source)
	assert.Equal(t, 1, status.Refreshes)
	assert.Empty(t, status.LastError)
	assert.False(t, status.LastRefresh.IsZero())

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.AggregateRefreshTotal.WithLabelValues(TriggerStartup, "success")))
	assert.Equal(t, 7.0, testutil.ToFloat64(collector.AggregateObservations))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.RecommendationsTotal.WithLabelValues("true")))
}

func TestRotationService_UnknownSoilIsNotAnError(t *testing.T) {
	svc, collector := newTestService(t, &fakeSource{rows: clayeyRows()})
	ctx := context.Background()
	_, err := svc.Refresh(ctx, TriggerStartup)
	require.NoError(t, err)

	q := clayeyQuery()
	q.SoilType = "Peaty"
	recs, err := svc.Recommend(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.RecommendationsTotal.WithLabelValues("false")))
}

func TestRotationService_FailedRefreshKeepsPreviousBundle(t *testing.T) {
	source := &fakeSource{rows: clayeyRows()}
	svc, collector := newTestService(t, source)
	ctx := context.Background()

	_, err := svc.Refresh(ctx, TriggerStartup)
	require.NoError(t, err)

	tests := []struct {
		name string
		rows []models.Observation
		err  error
	}{
		{"source error", nil, errors.New("disk on fire")},
		{"empty dataset", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source.set(tt.rows, tt.err)

			_, err := svc.Refresh(ctx, TriggerWatch)
			require.Error(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.ErrorIs(t, err, rotation.ErrNoObservations)
			}

			recs, err := svc.Recommend(ctx, clayeyQuery())
			require.NoError(t, err)
			assert.Len(t, recs, 3, "previous bundle still serves queries")

			status := svc.Status()
			assert.True(t, status.Ready)
			assert.NotEmpty(t, status.LastError)
			assert.Equal(t, 7, status.Summary.Observations)
		})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.AggregateRefreshTotal.WithLabelValues(TriggerWatch, "failure")))
}

func TestRotationService_RefreshPublishesNewData(t *testing.T) {
	source := &fakeSource{rows: clayeyRows()}
	svc, _ := newTestService(t, source)
	ctx := context.Background()

	_, err := svc.Refresh(ctx, TriggerStartup)
	require.NoError(t, err)

	source.set(append(clayeyRows(), models.Observation{
		SoilType: "Clayey", CropType: "Wheat", Nitrogen: 10, Potassium: 20,
	}), nil)
	summary, err := svc.Refresh(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Observations)

	recs, err := svc.Recommend(ctx, clayeyQuery())
	require.NoError(t, err)
	assert.Len(t, recs, 4)
	assert.Equal(t, 2, svc.Status().Refreshes)
}

func TestRotationService_SoilsAndProfiles(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{rows: clayeyRows()})
	ctx := context.Background()
	_, err := svc.Refresh(ctx, TriggerStartup)
	require.NoError(t, err)

	soils, err := svc.Soils(ctx)
	require.NoError(t, err)
	assert.Equal(t, []SoilCandidates{
		{SoilType: "Clayey", Crops: []string{"Paddy", "Pulses", "Rice"}},
		{SoilType: "Sandy", Crops: []string{"Maize"}},
	}, soils)

	profile, err := svc.CropProfile(ctx, "pulses")
	require.NoError(t, err)
	assert.Equal(t, "Pulses", profile.Crop)
	assert.Equal(t, rotation.PhosphorusHigh, profile.Bias)
	assert.True(t, profile.Legume)
	assert.Equal(t, rotation.Band{Min: 28, Max: 34}, profile.Band.Temperature)

	_, err = svc.CropProfile(ctx, "tobacco")
	assert.ErrorIs(t, err, ErrCropNotFound)
	assert.Contains(t, err.Error(), "Tobacco")
}

func TestRotationService_ConcurrentRefreshAndQueries(t *testing.T) {
	source := &fakeSource{rows: clayeyRows()}
	svc, _ := newTestService(t, source)
	ctx := context.Background()
	_, err := svc.Refresh(ctx, TriggerStartup)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = svc.Refresh(ctx, TriggerInterval)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				recs, err := svc.Recommend(ctx, clayeyQuery())
				assert.NoError(t, err)
				assert.Len(t, recs, 3)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 201, svc.Status().Refreshes)
}
