package api

import (
	"net/http"
)

// StatsProvider reports a point-in-time view of the node.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves the node snapshot.
type StatsHandler struct {
	stats StatsProvider
}

// NewStatsHandler creates a stats handler over p.
func NewStatsHandler(p StatsProvider) *StatsHandler {
	return &StatsHandler{stats: p}
}

// HandleStats handles GET /stats. The snapshot changes with every record,
// so responses are never cached.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, h.stats.GetStats())
}
