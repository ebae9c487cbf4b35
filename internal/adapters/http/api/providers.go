package api

import (
	"context"
	"net/http"
	"strconv"

	repository "github.com/DexterZero/Spyro-API/internal/adapters/repository"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

// ProvidersDependencies defines the reads behind the provider routes.
type ProvidersDependencies interface {
	Entities(ctx context.Context, t model.EntityType, limit int) ([]repository.Entity, error)
	TopProviders(ctx context.Context, n int) ([]repository.Ranked, error)
}

// ProvidersHandler serves provider listings and the reputation ranking.
type ProvidersHandler struct {
	deps     ProvidersDependencies
	maxLimit int
}

// NewProvidersHandler creates a new providers handler.
func NewProvidersHandler(deps ProvidersDependencies, maxLimit int) *ProvidersHandler {
	return &ProvidersHandler{deps: deps, maxLimit: maxLimit}
}

// HandleList handles GET /providers?limit=N.
func (h *ProvidersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_providers"
	n, err := parseLimit(r, h.maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrap(op, err))
		return
	}
	rows, err := h.deps.Entities(r.Context(), model.EntityProvider, n)
	if err != nil {
		writeStoreError(w, wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleTop handles GET /providers/top?limit=N.
func (h *ProvidersHandler) HandleTop(w http.ResponseWriter, r *http.Request) {
	const op = "api.top_providers"
	n, err := parseLimit(r, h.maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrap(op, err))
		return
	}
	ranked, err := h.deps.TopProviders(r.Context(), n)
	if err != nil {
		writeStoreError(w, wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

// parseLimit reads ?limit, defaulting to defaultLimit capped at maxLimit.
func parseLimit(r *http.Request, maxLimit int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return min(defaultLimit, maxLimit), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > maxLimit {
		return 0, ErrBadRequest
	}
	return n, nil
}
