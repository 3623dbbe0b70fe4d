package handler

import (
	"net/http"
	"time"

	"github.com/openclaw/leasepool-server-go/internal/service"
)

type StatsHandler struct {
	resources *service.ResourceService
}

func NewStatsHandler(resources *service.ResourceService) *StatsHandler {
	return &StatsHandler{resources: resources}
}

func (h *StatsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	stats, err := h.resources.Stats(r.Context())
	if err != nil {
		writeError(w, r, err, "stats: failed to get pool stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pools":     stats,
		"timestamp": time.Now().UnixMilli(),
	})
}
