package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/telemetry"
)

const maxRouteLen = 200

// HandleIngestLatency handles POST /v1/telemetry/latency. The sample is
// queued for a batched write; the response does not wait for the store.
func (h *Handlers) HandleIngestLatency(w http.ResponseWriter, r *http.Request) {
	var s model.LatencySample
	if err := decodeJSON(w, r, &s, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if !model.ValidLatencyArea(s.Area) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown area: "+string(s.Area))
		return
	}
	s.Route = strings.TrimSpace(s.Route)
	if s.Route == "" || len(s.Route) > maxRouteLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "route is required and must be at most 200 characters")
		return
	}
	if s.DurationMs < 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "duration_ms must not be negative")
		return
	}
	s.ID = 0
	if s.OccurredAt.IsZero() {
		s.OccurredAt = time.Now().UTC()
	}

	if h.recorder != nil {
		h.recorder.Record(s)
	}
	writeJSON(w, r, http.StatusAccepted, map[string]bool{"accepted": true})
}

// HandleLatencySummary handles GET /v1/telemetry/latency?area=&window=.
// Data is null when the area has no samples in the window.
func (h *Handlers) HandleLatencySummary(w http.ResponseWriter, r *http.Request) {
	area := model.LatencyArea(r.URL.Query().Get("area"))
	if !model.ValidLatencyArea(area) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown area: "+string(area))
		return
	}
	window, err := queryWindow(r, "window", telemetry.DefaultWindow)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, h.summarizer.Summarize(r.Context(), area, window))
}

// HandleFunnel handles GET /v1/telemetry/funnel?window=.
func (h *Handlers) HandleFunnel(w http.ResponseWriter, r *http.Request) {
	window, err := queryWindow(r, "window", telemetry.DefaultWindow)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	f, err := h.summarizer.Funnel(r.Context(), window)
	if err != nil {
		h.writeInternalError(w, r, "failed to read funnel", err)
		return
	}
	writeJSON(w, r, http.StatusOK, f)
}
