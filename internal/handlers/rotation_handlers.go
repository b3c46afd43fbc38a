package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"crop-rotation/internal/rotation"
	"crop-rotation/internal/services"
	"crop-rotation/internal/validation"
	"crop-rotation/pkg/logging"
	"crop-rotation/pkg/metrics"
)

// maxBodyBytes bounds a recommendation request body.
const maxBodyBytes = 1 << 20

// HealthChecker reports the state of an optional dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RotationHandler handles crop rotation API endpoints
type RotationHandler struct {
	rotationService *services.RotationService
	database        HealthChecker
	defaultTopK     int
	logger          *logging.StructuredLogger
	metrics         *metrics.Collector
}

// NewRotationHandler creates a new rotation handler. database may be nil
// when the service runs from the CSV source.
func NewRotationHandler(
	rotationService *services.RotationService,
	database HealthChecker,
	defaultTopK int,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *RotationHandler {
	if defaultTopK <= 0 {
		defaultTopK = rotation.DefaultTopK
	}
	return &RotationHandler{
		rotationService: rotationService,
		database:        database,
		defaultTopK:     defaultTopK,
		logger:          logger,
		metrics:         metricsCollector,
	}
}

// RecommendationRequest is the body of a rotation query. Numeric fields are
// pointers so that an explicit zero is distinguishable from a missing value.
type RecommendationRequest struct {
	CurrentCrop string   `json:"current_crop" validate:"required,notblank"`
	SoilType    string   `json:"soil_type" validate:"required,notblank"`
	Temperature *float64 `json:"temperature" validate:"required"`
	Humidity    *float64 `json:"humidity" validate:"required,gte=0,lte=100"`
	Moisture    *float64 `json:"moisture" validate:"required,gte=0,lte=100"`
	Nitrogen    *float64 `json:"nitrogen" validate:"required,gte=0"`
	Phosphorous *float64 `json:"phosphorous" validate:"required,gte=0"`
	Potassium   *float64 `json:"potassium" validate:"required,gte=0"`
	TopK        *int     `json:"top_k,omitempty" validate:"omitempty,gte=0"`
}

func (req *RecommendationRequest) query(defaultTopK int) rotation.Query {
	topK := defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	return rotation.Query{
		CurrentCrop: req.CurrentCrop,
		SoilType:    req.SoilType,
		Temperature: *req.Temperature,
		Humidity:    *req.Humidity,
		Moisture:    *req.Moisture,
		Nitrogen:    *req.Nitrogen,
		Phosphorous: *req.Phosphorous,
		Potassium:   *req.Potassium,
		TopK:        topK,
	}
}

// RecommendationResponse is the payload of a successful rotation query.
type RecommendationResponse struct {
	Recommendations []rotation.Recommendation `json:"recommendations"`
	CurrentCrop     string                    `json:"current_crop"`
	SoilType        string                    `json:"soil_type"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string          `json:"status"`
	Message      string          `json:"message"`
	Timestamp    string          `json:"timestamp"`
	ModelsLoaded map[string]bool `json:"models_loaded"`
	Dataset      services.Status `json:"dataset"`
	Database     string          `json:"database,omitempty"`
}

// Recommend handles POST /api/ml/crop-rotation
func (h *RotationHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	endpoint := routeLabel(r)

	var req RecommendationRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		h.metrics.RecordAPIError("bad_request", endpoint)
		if errors.Is(err, io.EOF) {
			sendError(w, "request body is required", http.StatusBadRequest, nil)
			return
		}
		sendError(w, "invalid JSON body", http.StatusBadRequest, nil)
		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		h.metrics.RecordAPIError("validation_error", endpoint)
		var verr *validation.RequestValidationError
		if errors.As(err, &verr) {
			sendError(w, verr.Error(), http.StatusBadRequest, verr.Errors())
			return
		}
		sendError(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	recs, err := h.rotationService.Recommend(ctx, req.query(h.defaultTopK))
	if err != nil {
		h.handleServiceError(w, r, endpoint, err)
		return
	}

	sendData(w, RecommendationResponse{
		Recommendations: recs,
		CurrentCrop:     req.CurrentCrop,
		SoilType:        req.SoilType,
	})
}

// ListSoils handles GET /api/rotation/soils
func (h *RotationHandler) ListSoils(w http.ResponseWriter, r *http.Request) {
	soils, err := h.rotationService.Soils(r.Context())
	if err != nil {
		h.handleServiceError(w, r, routeLabel(r), err)
		return
	}
	sendData(w, map[string]any{"soils": soils})
}

// GetCrop handles GET /api/rotation/crops/{crop}
func (h *RotationHandler) GetCrop(w http.ResponseWriter, r *http.Request) {
	crop := mux.Vars(r)["crop"]

	profile, err := h.rotationService.CropProfile(r.Context(), crop)
	if err != nil {
		h.handleServiceError(w, r, routeLabel(r), err)
		return
	}
	sendData(w, profile)
}

// Refresh handles POST /api/rotation/refresh
func (h *RotationHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := h.rotationService.Refresh(ctx, services.TriggerManual); err != nil {
		h.metrics.RecordAPIError("refresh_error", routeLabel(r))
		sendError(w, "failed to refresh aggregates: "+err.Error(), http.StatusInternalServerError, h.rotationService.Status())
		return
	}
	sendData(w, h.rotationService.Status())
}

// HealthCheck handles GET /health
func (h *RotationHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	ready := h.rotationService.Ready()
	resp := HealthResponse{
		Status:    "OK",
		Message:   "Crop rotation API is running",
		Timestamp: timestamp(),
		ModelsLoaded: map[string]bool{
			"crop_rotation": ready,
		},
		Dataset: h.rotationService.Status(),
	}
	status := http.StatusOK

	if h.database != nil {
		resp.Database = "ok"
		if err := h.database.HealthCheck(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_DB] Database health check failed", logging.Fields{
				"error": err.Error(),
			})
			resp.Database = "unavailable"
			resp.Status = "DEGRADED"
			resp.Message = "Database is unavailable; serving the last published aggregates"
		}
	}

	if !ready {
		resp.Status = "UNAVAILABLE"
		resp.Message = "Rotation aggregates have not been built"
		status = http.StatusServiceUnavailable
	}

	sendJSON(w, resp, status)
}

func (h *RotationHandler) handleServiceError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	switch {
	case errors.Is(err, rotation.ErrNotInitialized):
		h.metrics.RecordAPIError("not_initialized", endpoint)
		sendError(w, "rotation model is not initialized", http.StatusServiceUnavailable, nil)
	case errors.Is(err, services.ErrCropNotFound):
		h.metrics.RecordAPIError("not_found", endpoint)
		sendError(w, err.Error(), http.StatusNotFound, nil)
	default:
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.logger.Error(r.Context(), "[API_ERROR] Request failed", logging.Fields{
			"endpoint": endpoint,
			"method":   r.Method,
		}, err)
		sendError(w, "internal server error", http.StatusInternalServerError, nil)
	}
}

// RegisterRoutes registers all rotation routes. apiMiddleware applies to
// the /api subrouter only, leaving /health reachable.
func (h *RotationHandler) RegisterRoutes(router *mux.Router, apiMiddleware ...mux.MiddlewareFunc) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(apiMiddleware...)
	api.HandleFunc("/ml/crop-rotation", h.Recommend).Methods("POST")
	api.HandleFunc("/rotation/recommendations", h.Recommend).Methods("POST")
	api.HandleFunc("/rotation/soils", h.ListSoils).Methods("GET")
	api.HandleFunc("/rotation/crops/{crop}", h.GetCrop).Methods("GET")
	api.HandleFunc("/rotation/refresh", h.Refresh).Methods("POST")

	api.HandleFunc("/docs/openapi.json", OpenAPISpec).Methods("GET")
	api.HandleFunc("/docs", SwaggerUI).Methods("GET")
}

// NewRouter assembles the API router with request ID and metrics middleware.
func NewRouter(h *RotationHandler, apiMiddleware ...mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(MethodNotAllowed)

	router.Use(RequestID)
	router.Use(Metrics(h.metrics))

	h.RegisterRoutes(router, apiMiddleware...)
	return router
}
