// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
)

// HealthChecker reports whether the node is healthy.
type HealthChecker interface {
	Health() error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HandleHealth handles GET /healthz requests. A failed provider pipeline or
// a stopped service answers 503.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := h.checker.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
