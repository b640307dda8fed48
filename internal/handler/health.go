package handler

import (
	"net/http"

	"github.com/filipexyz/beacon/internal/collector"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	recorder *collector.Recorder
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(recorder *collector.Recorder) *HealthHandler {
	return &HealthHandler{recorder: recorder}
}

// Health reports liveness.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"recorded": h.recorder.Len(),
	})
}
