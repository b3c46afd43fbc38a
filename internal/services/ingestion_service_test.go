package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crop-rotation/internal/dataset"
	"crop-rotation/internal/models"
	"crop-rotation/internal/repository"
	"crop-rotation/internal/rotation"
	"crop-rotation/pkg/logging"
	"crop-rotation/pkg/metrics"
)

type memoryRepository struct {
	repository.ObservationRepository
	rows      []models.Observation
	batches   []int
	replaced  int
	insertErr error
}

func (m *memoryRepository) CreateObservationsBatch(_ context.Context, observations []*models.Observation) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.batches = append(m.batches, len(observations))
	for _, obs := range observations {
		m.rows = append(m.rows, *obs)
	}
	return nil
}

func (m *memoryRepository) ReplaceAll(_ context.Context, observations []*models.Observation) error {
	m.replaced++
	m.rows = m.rows[:0]
	for _, obs := range observations {
		m.rows = append(m.rows, *obs)
	}
	return nil
}

const ingestCSV = "Temparature,Humidity ,Moisture,Soil Type,Crop Type,Nitrogen,Potassium,Phosphorous\n" +
	"26,52,38,Sandy,Maize,37,0,0\n" +
	"29,52,45,Loamy,Sugarcane,12,0,36\n" +
	"34,65,62,Black,Cotton,7,9,30\n" +
	"bad,65,62,Black,Cotton,7,9,30\n" +
	"32,62,34,Red,Tobacco,22,0,20\n" +
	"28,54,46,Clayey,Paddy,35,0,0\n"

func newIngestion(repo repository.ObservationRepository) (*IngestionService, *metrics.Collector) {
	collector := metrics.NewCollector("test", prometheus.NewRegistry())
	return NewIngestionService(repo, logging.NewNopLogger(), collector), collector
}

func TestIngestionService_Ingest(t *testing.T) {
	tests := []struct {
		name        string
		opts        IngestOptions
		checkValues func(*testing.T, *memoryRepository, *IngestionResult)
	}{
		{
			name: "append in batches",
			opts: IngestOptions{BatchSize: 2},
			checkValues: func(t *testing.T, repo *memoryRepository, result *IngestionResult) {
				assert.Equal(t, []int{2, 2, 1}, repo.batches)
				assert.Equal(t, 0, repo.replaced)
				assert.False(t, result.Replaced)
			},
		},
		{
			name: "replace in one transaction",
			opts: IngestOptions{BatchSize: 2, Replace: true},
			checkValues: func(t *testing.T, repo *memoryRepository, result *IngestionResult) {
				assert.Empty(t, repo.batches)
				assert.Equal(t, 1, repo.replaced)
				assert.True(t, result.Replaced)
			},
		},
		{
			name: "default batch size",
			opts: IngestOptions{},
			checkValues: func(t *testing.T, repo *memoryRepository, _ *IngestionResult) {
				assert.Equal(t, []int{5}, repo.batches)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memoryRepository{}
			svc, collector := newIngestion(repo)

			result, err := svc.Ingest(context.Background(), strings.NewReader(ingestCSV), tt.opts)
			require.NoError(t, err)

			assert.Equal(t, 6, result.TotalRecords)
			assert.Equal(t, 5, result.SuccessfulRecords)
			assert.Equal(t, 1, result.FailedRecords)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], "line 5")

			require.Len(t, repo.rows, 5)
			assert.Equal(t, "Maize", repo.rows[0].CropType)
			assert.Equal(t, "Paddy", repo.rows[4].CropType)

			assert.Equal(t, 5.0, testutil.ToFloat64(collector.IngestionRecordsTotal))
			assert.Equal(t, 1.0, testutil.ToFloat64(collector.IngestionErrorsTotal.WithLabelValues("row_error")))

			tt.checkValues(t, repo, result)
		})
	}
}

func TestIngestionService_Errors(t *testing.T) {
	t.Run("bad header", func(t *testing.T) {
		svc, _ := newIngestion(&memoryRepository{})
		_, err := svc.Ingest(context.Background(), strings.NewReader("a,b\n1,2\n"), IngestOptions{})
		assert.ErrorIs(t, err, dataset.ErrMissingColumn)
	})

	t.Run("insert failure", func(t *testing.T) {
		boom := errors.New("insert failed")
		svc, _ := newIngestion(&memoryRepository{insertErr: boom})
		_, err := svc.Ingest(context.Background(), strings.NewReader(ingestCSV), IngestOptions{BatchSize: 2})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		svc, _ := newIngestion(&memoryRepository{})
		_, err := svc.Ingest(ctx, strings.NewReader(ingestCSV), IngestOptions{})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("replace with no valid rows keeps existing data", func(t *testing.T) {
		repo := &memoryRepository{rows: []models.Observation{{SoilType: "Sandy", CropType: "Maize"}}}
		svc, collector := newIngestion(repo)
		csv := "Temparature,Humidity ,Moisture,Soil Type,Crop Type,Nitrogen,Potassium,Phosphorous\n" +
			"bad,65,62,Black,Cotton,7,9,30\n"

		_, err := svc.Ingest(context.Background(), strings.NewReader(csv), IngestOptions{Replace: true})
		assert.ErrorIs(t, err, rotation.ErrNoObservations)
		assert.Equal(t, 0, repo.replaced)
		require.Len(t, repo.rows, 1)
		assert.Equal(t, "Maize", repo.rows[0].CropType)
		assert.Equal(t, 1.0, testutil.ToFloat64(collector.IngestionErrorsTotal.WithLabelValues("empty_replace")))
	})

	t.Run("replace with a header only keeps existing data", func(t *testing.T) {
		repo := &memoryRepository{rows: []models.Observation{{SoilType: "Sandy", CropType: "Maize"}}}
		svc, _ := newIngestion(repo)
		csv := "Temparature,Humidity ,Moisture,Soil Type,Crop Type,Nitrogen,Potassium,Phosphorous\n"

		_, err := svc.Ingest(context.Background(), strings.NewReader(csv), IngestOptions{Replace: true})
		assert.ErrorIs(t, err, rotation.ErrNoObservations)
		assert.Len(t, repo.rows, 1)
	})

	t.Run("missing file", func(t *testing.T) {
		svc, _ := newIngestion(&memoryRepository{})
		_, err := svc.IngestFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), IngestOptions{})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestIngestionService_IngestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crop_soil.csv")
	require.NoError(t, os.WriteFile(path, []byte(ingestCSV), 0o644))

	repo := &memoryRepository{}
	svc, _ := newIngestion(repo)

	result, err := svc.IngestFile(context.Background(), path, IngestOptions{Replace: true})
	require.NoError(t, err)
	assert.Equal(t, 5, result.SuccessfulRecords)
	assert.Len(t, repo.rows, 5)
}
