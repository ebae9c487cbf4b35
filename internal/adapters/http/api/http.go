// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	repository "github.com/DexterZero/Spyro-API/internal/adapters/repository"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	StatsProvider

	// Health returns nil while ingestion is running normally.
	Health() error

	// Read operations expose reconciled entity state.
	Entity(ctx context.Context, t model.EntityType, key string) (repository.Entity, error)
	Entities(ctx context.Context, t model.EntityType, limit int) ([]repository.Entity, error)
	TopProviders(ctx context.Context, n int) ([]repository.Ranked, error)
}

// Server wires HTTP routes for the node.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	providersHandler *ProvidersHandler
	entitiesHandler  *EntitiesHandler
	metrics          *metrics.Manager
}

// NewServer creates a new API server with all handlers. m may be nil, in
// which case /metrics is not served.
func NewServer(deps Dependencies, m *metrics.Manager) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(deps),
		statsHandler:     NewStatsHandler(deps),
		providersHandler: NewProvidersHandler(deps, defaultMaxLimit),
		entitiesHandler:  NewEntitiesHandler(deps, defaultMaxLimit),
		metrics:          m,
	}
}

const (
	defaultLimit    = 100
	defaultMaxLimit = 1000
)

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.metrics, s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.metrics, s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /providers", MetricsMiddleware(s.metrics, s.providersHandler.HandleList, "providers"))
	mux.HandleFunc("GET /providers/top", MetricsMiddleware(s.metrics, s.providersHandler.HandleTop, "providers_top"))
	mux.HandleFunc("GET /entities/{type}", MetricsMiddleware(s.metrics, s.entitiesHandler.HandleList, "entities"))
	mux.HandleFunc("GET /entities/{type}/{key}", MetricsMiddleware(s.metrics, s.entitiesHandler.HandleGet, "entity"))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeStoreError translates repository errors into status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, repository.ErrNoStore):
		writeError(w, http.StatusServiceUnavailable, "no_store", err)
	case errors.Is(err, repository.ErrInvalidLimit), errors.Is(err, repository.ErrUnknownEntity):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
