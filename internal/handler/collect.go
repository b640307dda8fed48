package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/filipexyz/beacon/internal/collector"
	"github.com/filipexyz/beacon/internal/delivery"
	"github.com/filipexyz/beacon/internal/event"
	"github.com/filipexyz/beacon/internal/metrics"
)

// maxPayloadSize mirrors the Measurement Protocol request limit.
const maxPayloadSize = 130 * 1024

var errMissingCredentials = errors.New("measurement_id and api_secret are required")

// CollectHandler handles the collection and debug endpoints.
type CollectHandler struct {
	recorder *collector.Recorder
	logger   *slog.Logger
}

// NewCollectHandler creates a new CollectHandler.
func NewCollectHandler(recorder *collector.Recorder, logger *slog.Logger) *CollectHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectHandler{recorder: recorder, logger: logger}
}

// Collect records a payload. Like the real collector it answers 204 even
// for invalid payloads; the record is marked invalid instead.
func (h *CollectHandler) Collect(w http.ResponseWriter, r *http.Request) {
	measurementID, err := credentials(r)
	if err != nil {
		h.respond(w, "collect", http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}

	if status := h.recorder.NextFailure(); status != 0 {
		h.respond(w, "collect", status, map[string]string{"error": "injected failure"})
		return
	}

	p, err := decodePayload(w, r)
	if err != nil {
		h.respond(w, "collect", statusFor(err), map[string]string{"error": err.Error()})
		return
	}

	res := event.ValidatePayload(p)
	rec := h.recorder.Add(measurementID, p, res)
	if !rec.Valid {
		h.logger.Warn("invalid payload recorded", "id", rec.ID, "errors", rec.Errors)
	}

	metrics.RecordCollectorRequest("collect", strconv.Itoa(http.StatusNoContent))
	w.WriteHeader(http.StatusNoContent)
}

// DebugCollect validates a payload and returns validationMessages without
// recording it.
func (h *CollectHandler) DebugCollect(w http.ResponseWriter, r *http.Request) {
	if _, err := credentials(r); err != nil {
		h.respond(w, "debug", http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}

	p, err := decodePayload(w, r)
	if err != nil {
		h.respond(w, "debug", statusFor(err), map[string]string{"error": err.Error()})
		return
	}

	res := event.ValidatePayload(p)
	resp := delivery.DebugResponse{ValidationMessages: make([]delivery.ValidationMessage, 0, len(res.Errors))}
	for _, e := range res.Errors {
		resp.ValidationMessages = append(resp.ValidationMessages, delivery.ValidationMessage{
			FieldPath:      e.Field,
			Description:    e.Message,
			ValidationCode: e.Code,
		})
	}

	h.respond(w, "debug", http.StatusOK, resp)
}

func (h *CollectHandler) respond(w http.ResponseWriter, route string, status int, body any) {
	metrics.RecordCollectorRequest(route, strconv.Itoa(status))
	writeJSON(w, status, body)
}

func credentials(r *http.Request) (string, error) {
	q := r.URL.Query()
	id := q.Get("measurement_id")
	if id == "" || q.Get("api_secret") == "" {
		return "", errMissingCredentials
	}
	return id, nil
}

type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string {
	return e.msg
}

func statusFor(err error) int {
	var re *requestError
	if errors.As(err, &re) {
		return re.status
	}
	return http.StatusBadRequest
}

func decodePayload(w http.ResponseWriter, r *http.Request) (*event.Payload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &requestError{status: http.StatusRequestEntityTooLarge, msg: "payload too large, max 130KB"}
		}
		return nil, &requestError{status: http.StatusBadRequest, msg: "read body: " + err.Error()}
	}

	var p event.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &requestError{status: http.StatusBadRequest, msg: "invalid JSON: " + err.Error()}
	}
	return &p, nil
}
