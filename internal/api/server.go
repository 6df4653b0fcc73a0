package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselect/internal/config"
	"github.com/patrickwarner/adselect/internal/lifecycle"
	"github.com/patrickwarner/adselect/internal/logic"
	"github.com/patrickwarner/adselect/internal/logic/selectors"
	"github.com/patrickwarner/adselect/internal/middleware"
	"github.com/patrickwarner/adselect/internal/models"
	"github.com/patrickwarner/adselect/internal/observability"
)

var tracer = otel.Tracer("adselect")

const maxBodyBytes = 1 << 20

// Deactivator removes a campaign from inventory.
type Deactivator interface {
	DeactivateCampaign(ctx context.Context, id models.CampaignID) (lifecycle.Report, error)
}

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger     *zap.Logger
	Selector   selectors.Selector
	Lifecycle  Deactivator
	Metrics    observability.MetricsRegistry
	Config     config.Config
	DebugTrace bool
	MaxAds     int
	checks     map[string]HealthCheck
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, selector selectors.Selector, lc Deactivator, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	maxAds := cfg.MaxAds
	if maxAds <= 0 {
		maxAds = 10
	}
	return &Server{
		Logger:     logger,
		Selector:   selector,
		Lifecycle:  lc,
		Metrics:    metrics,
		Config:     cfg,
		DebugTrace: cfg.DebugTrace,
		MaxAds:     maxAds,
		checks:     make(map[string]HealthCheck),
	}
}

// AddHealthCheck registers a dependency check reported by /health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	if s.checks == nil {
		s.checks = make(map[string]HealthCheck)
	}
	s.checks[name] = check
}

// Router registers every route on a new mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithRequestID, middleware.WithTraceLogger(s.Logger))
	r.HandleFunc("/ad", s.GetAdHandler).Methods("POST")
	r.HandleFunc("/ads", s.GetAdsHandler).Methods("POST")
	r.HandleFunc("/campaigns/{campaign_id}/deactivate", s.DeactivateCampaignHandler).Methods("POST")
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// statusFor maps selection and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, logic.ErrMissingZone):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal error detail from 5xx responses.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusServiceUnavailable:
		return models.ErrStoreUnavailable.Error()
	default:
		return "internal error"
	}
}

func (s *Server) record(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{ID: middleware.RequestIDFromContext(r.Context()), Error: msg})
}
