package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"crop-rotation/internal/models"
	"crop-rotation/internal/rotation"
	"crop-rotation/internal/services"
	"crop-rotation/pkg/logging"
	"crop-rotation/pkg/metrics"
)

type staticSource struct {
	rows []models.Observation
	err  error
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) LoadObservations(context.Context) ([]models.Observation, error) {
	return s.rows, s.err
}

type stubDatabase struct{ err error }

func (s stubDatabase) HealthCheck(context.Context) error { return s.err }

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

type testServer struct {
	router    *mux.Router
	service   *services.RotationService
	collector *metrics.Collector
}

type serverOption func(*serverConfig)

type serverConfig struct {
	source    *staticSource
	database  HealthChecker
	limiter   *rate.Limiter
	skipBuild bool
}

func withoutBuild() serverOption { return func(c *serverConfig) { c.skipBuild = true } }

func withDatabase(db HealthChecker) serverOption { return func(c *serverConfig) { c.database = db } }

func withLimiter(l *rate.Limiter) serverOption { return func(c *serverConfig) { c.limiter = l } }

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	cfg := &serverConfig{source: &staticSource{rows: clayeyRows()}}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := logging.NewNopLogger()
	collector := metrics.NewCollector("test", prometheus.NewRegistry())
	svc := services.NewRotationService(cfg.source, rotation.NewEngine(rotation.DefaultLimits()), logger, collector)
	if !cfg.skipBuild {
		_, err := svc.Refresh(context.Background(), services.TriggerStartup)
		require.NoError(t, err)
	}

	h := NewRotationHandler(svc, cfg.database, 5, logger, collector)
	var mw []mux.MiddlewareFunc
	if cfg.limiter != nil {
		mw = append(mw, RateLimit(cfg.limiter, logger, collector))
	}
	return &testServer{router: NewRouter(h, mw...), service: svc, collector: collector}
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type recommendEnvelope struct {
	Success bool                   `json:"success"`
	Data    RecommendationResponse `json:"data"`
}

const clayeyBody = `{
	"current_crop": "Paddy",
	"soil_type": "Clayey",
	"temperature": 30,
	"humidity": 60,
	"moisture": 45,
	"nitrogen": 12,
	"phosphorous": 0,
	"potassium": 0
}`

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRecommend(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name        string
		path        string
		body        string
		checkValues func(*testing.T, recommendEnvelope)
	}{
		{
			name: "ranked candidates",
			path: "/api/ml/crop-rotation",
			body: clayeyBody,
			checkValues: func(t *testing.T, env recommendEnvelope) {
				require.Len(t, env.Data.Recommendations, 3)
				first := env.Data.Recommendations[0]
				assert.Equal(t, "Pulses", first.Crop)
				assert.InDelta(t, 1.6, first.Score, 1e-9)
				assert.Equal(t, 100, first.SuitabilityScore)
				assert.Equal(t, "Paddy", env.Data.Recommendations[2].Crop)
				assert.Equal(t, 50, env.Data.Recommendations[2].SuitabilityScore)
				assert.Equal(t, "Paddy", env.Data.CurrentCrop)
				assert.Equal(t, "Clayey", env.Data.SoilType)
			},
		},
		{
			name: "alias path",
			path: "/api/rotation/recommendations",
			body: clayeyBody,
			checkValues: func(t *testing.T, env recommendEnvelope) {
				assert.Len(t, env.Data.Recommendations, 3)
			},
		},
		{
			name: "top_k limits results",
			path: "/api/ml/crop-rotation",
			body: strings.Replace(clayeyBody, `"potassium": 0`, `"potassium": 0, "top_k": 1`, 1),
			checkValues: func(t *testing.T, env recommendEnvelope) {
				require.Len(t, env.Data.Recommendations, 1)
				assert.Equal(t, "Pulses", env.Data.Recommendations[0].Crop)
			},
		},
		{
			name: "top_k zero yields an empty list",
			path: "/api/ml/crop-rotation",
			body: strings.Replace(clayeyBody, `"potassium": 0`, `"potassium": 0, "top_k": 0`, 1),
			checkValues: func(t *testing.T, env recommendEnvelope) {
				assert.NotNil(t, env.Data.Recommendations)
				assert.Empty(t, env.Data.Recommendations)
			},
		},
		{
			name: "unknown soil is not an error",
			path: "/api/ml/crop-rotation",
			body: strings.Replace(clayeyBody, `"Clayey"`, `"Peaty"`, 1),
			checkValues: func(t *testing.T, env recommendEnvelope) {
				assert.Empty(t, env.Data.Recommendations)
				assert.Equal(t, "Peaty", env.Data.SoilType)
			},
		},
		{
			name: "names are case-insensitive",
			path: "/api/ml/crop-rotation",
			body: strings.Replace(clayeyBody, `"Clayey"`, `"  clayey "`, 1),
			checkValues: func(t *testing.T, env recommendEnvelope) {
				assert.Len(t, env.Data.Recommendations, 3)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			env := decode[recommendEnvelope](t, rec)
			assert.True(t, env.Success)
			tt.checkValues(t, env)
		})
	}

	assert.Equal(t, 5.0, testutil.ToFloat64(srv.collector.APIRequestsTotal.WithLabelValues("/api/ml/crop-rotation", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.collector.APIRequestsTotal.WithLabelValues("/api/rotation/recommendations", "POST", "200")))
}

func TestRecommend_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "empty body", body: ""},
		{name: "malformed JSON", body: `{"current_crop": `},
		{name: "wrong type", body: strings.Replace(clayeyBody, `"nitrogen": 12`, `"nitrogen": "lots"`, 1)},
		{name: "missing nitrogen", body: strings.Replace(clayeyBody, `"nitrogen": 12,`, "", 1), wantField: "nitrogen"},
		{name: "blank soil", body: strings.Replace(clayeyBody, `"Clayey"`, `"   "`, 1), wantField: "soil_type"},
		{name: "humidity out of range", body: strings.Replace(clayeyBody, `"humidity": 60`, `"humidity": 150`, 1), wantField: "humidity"},
		{name: "negative potassium", body: strings.Replace(clayeyBody, `"potassium": 0`, `"potassium": -1`, 1), wantField: "potassium"},
		{name: "negative top_k", body: strings.Replace(clayeyBody, `"potassium": 0`, `"potassium": 0, "top_k": -2`, 1), wantField: "top_k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(http.MethodPost, "/api/ml/crop-rotation", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			resp := decode[struct {
				ErrorResponse
				Details []struct {
					Field string `json:"field"`
				} `json:"details"`
			}](t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.NotEmpty(t, resp.Message)
			assert.NotEmpty(t, resp.Timestamp)

			if tt.wantField != "" {
				require.NotEmpty(t, resp.Details)
				assert.Equal(t, tt.wantField, resp.Details[0].Field)
				assert.Contains(t, resp.Message, tt.wantField)
			}
		})
	}
}

func TestRecommend_ZeroValuesAreAccepted(t *testing.T) {
	srv := newTestServer(t)
	body := `{"current_crop":"Paddy","soil_type":"Clayey","temperature":0,"humidity":0,"moisture":0,"nitrogen":0,"phosphorous":0,"potassium":0}`

	rec := srv.do(http.MethodPost, "/api/ml/crop-rotation", body)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestNotInitialized(t *testing.T) {
	srv := newTestServer(t, withoutBuild())

	for _, tc := range []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/ml/crop-rotation", clayeyBody},
		{http.MethodGet, "/api/rotation/soils", ""},
		{http.MethodGet, "/api/rotation/crops/Paddy", ""},
	} {
		t.Run(tc.path, func(t *testing.T) {
			rec := srv.do(tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.False(t, resp.Success)
		})
	}

	rec := srv.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "UNAVAILABLE", health.Status)
	assert.False(t, health.ModelsLoaded["crop_rotation"])
}

func TestListSoils(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/api/rotation/soils", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[struct {
		Data struct {
			Soils []services.SoilCandidates `json:"soils"`
		} `json:"data"`
	}](t, rec)
	assert.Equal(t, []services.SoilCandidates{
		{SoilType: "Clayey", Crops: []string{"Paddy", "Pulses", "Rice"}},
		{SoilType: "Sandy", Crops: []string{"Maize"}},
	}, resp.Data.Soils)
}

func TestGetCrop(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/api/rotation/crops/rice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Data rotation.CropProfile `json:"data"`
	}](t, rec)
	assert.Equal(t, "Rice", resp.Data.Crop)
	assert.Equal(t, rotation.NitrogenHigh, resp.Data.Bias)
	assert.Equal(t, rotation.Band{Min: 25, Max: 35}, resp.Data.Band.Temperature)
	assert.False(t, resp.Data.Legume)

	rec = srv.do(http.MethodGet, "/api/rotation/crops/Tobacco", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Contains(t, errResp.Message, "Tobacco")
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.collector.APIErrorsTotal.WithLabelValues("not_found", "/api/rotation/crops/{crop}")))
}

func TestRefresh(t *testing.T) {
	source := &staticSource{rows: clayeyRows()}
	srv := newTestServer(t, func(c *serverConfig) { c.source = source })

	rec := srv.do(http.MethodPost, "/api/rotation/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Data services.Status `json:"data"`
	}](t, rec)
	assert.Equal(t, 2, resp.Data.Refreshes)
	assert.Equal(t, "static", resp.Data.Source)

	source.err = errors.New("source offline")
	rec = srv.do(http.MethodPost, "/api/rotation/refresh", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "source offline")

	rec = srv.do(http.MethodPost, "/api/ml/crop-rotation", clayeyBody)
	assert.Equal(t, http.StatusOK, rec.Code, "previous aggregates still serve")
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		opts       []serverOption
		wantCode   int
		wantStatus string
		wantDB     string
	}{
		{name: "csv source", wantCode: http.StatusOK, wantStatus: "OK"},
		{name: "database ok", opts: []serverOption{withDatabase(stubDatabase{})}, wantCode: http.StatusOK, wantStatus: "OK", wantDB: "ok"},
		{name: "database down", opts: []serverOption{withDatabase(stubDatabase{err: errors.New("refused")})}, wantCode: http.StatusOK, wantStatus: "DEGRADED", wantDB: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.opts...)
			rec := srv.do(http.MethodGet, "/health", "")
			require.Equal(t, tt.wantCode, rec.Code)

			health := decode[HealthResponse](t, rec)
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Equal(t, tt.wantDB, health.Database)
			assert.True(t, health.ModelsLoaded["crop_rotation"])
			assert.Equal(t, 7, health.Dataset.Summary.Observations)
			_, err := time.Parse(time.RFC3339, health.Timestamp)
			assert.NoError(t, err)
		})
	}
}

func TestRequestID(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/health", "")
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	rec = srv.do(http.MethodGet, "/health", "", RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, withLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))

	rec := srv.do(http.MethodGet, "/api/rotation/soils", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(http.MethodGet, "/api/rotation/soils", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)

	rec = srv.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health is outside the limited subrouter")
}

func TestRouting(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		method, path string
		wantCode     int
	}{
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodGet, "/api/nope", http.StatusNotFound},
		{http.MethodGet, "/api/ml/crop-rotation", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := srv.do(tt.method, tt.path, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestDocs(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/api/docs/openapi.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[map[string]any](t, rec)
	assert.Equal(t, "3.0.0", doc["openapi"])
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	for _, p := range []string{"/api/ml/crop-rotation", "/api/rotation/soils", "/api/rotation/crops/{crop}", "/health"} {
		assert.Contains(t, paths, p)
	}

	rec = srv.do(http.MethodGet, "/api/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>Crop Rotation API Documentation</title>")
	assert.Contains(t, rec.Body.String(), "openapi.json")
}
