package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	repository "github.com/DexterZero/Spyro-API/internal/adapters/repository"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

// EntitiesDependencies defines the reads behind the entity routes.
type EntitiesDependencies interface {
	Entity(ctx context.Context, t model.EntityType, key string) (repository.Entity, error)
	Entities(ctx context.Context, t model.EntityType, limit int) ([]repository.Entity, error)
}

// EntitiesHandler serves entity lookups.
type EntitiesHandler struct {
	deps     EntitiesDependencies
	maxLimit int
}

// NewEntitiesHandler creates a new entities handler.
func NewEntitiesHandler(deps EntitiesDependencies, maxLimit int) *EntitiesHandler {
	return &EntitiesHandler{deps: deps, maxLimit: maxLimit}
}

// entityTypes accepts both the entity name and its table name.
var entityTypes = map[string]model.EntityType{
	"provider":      model.EntityProvider,
	"model":         model.EntityModel,
	"inferencejob":  model.EntityInferenceJob,
	"inference_job": model.EntityInferenceJob,
}

func parseEntityType(s string) (model.EntityType, error) {
	t, ok := entityTypes[strings.ToLower(s)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntity, s)
	}
	return t, nil
}

// HandleGet handles GET /entities/{type}/{key}.
func (h *EntitiesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_entity"
	t, err := parseEntityType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrap(op, err))
		return
	}
	key := r.PathValue("key")
	if strings.TrimSpace(key) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", wrap(op, ErrBadRequest))
		return
	}
	e, err := h.deps.Entity(r.Context(), t, key)
	if err != nil {
		writeStoreError(w, wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// HandleList handles GET /entities/{type}?limit=N.
func (h *EntitiesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_entities"
	t, err := parseEntityType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrap(op, err))
		return
	}
	n, err := parseLimit(r, h.maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrap(op, err))
		return
	}
	rows, err := h.deps.Entities(r.Context(), t, n)
	if err != nil {
		writeStoreError(w, wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
