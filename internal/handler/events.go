package handler

import (
	"net/http"
	"strconv"

	"github.com/filipexyz/beacon/internal/collector"
)

// EventsHandler exposes recorded payloads.
type EventsHandler struct {
	recorder *collector.Recorder
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(recorder *collector.Recorder) *EventsHandler {
	return &EventsHandler{recorder: recorder}
}

// List returns recorded payloads, optionally filtered by event name and
// measurement id.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := collector.Query{
		Name:          r.URL.Query().Get("name"),
		MeasurementID: r.URL.Query().Get("measurement_id"),
		Limit:         100,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			q.Limit = min(l, 1000)
		}
	}

	records := h.recorder.List(q)
	writeJSON(w, http.StatusOK, map[string]any{
		"events": records,
		"count":  len(records),
	})
}

// Clear drops every recorded payload.
func (h *EventsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": h.recorder.Clear()})
}
