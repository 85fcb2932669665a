package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/kensa/internal/ctxutil"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/overrides"
	"github.com/ashita-ai/kensa/internal/storage"
)

const maxJobNameLen = 100

// HandleAlertsSnapshot handles GET /v1/alerts/snapshot. The evaluator never
// fails; unreadable signals simply do not fire.
func (h *Handlers) HandleAlertsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.evaluator.Snapshot(r.Context()))
}

// HandleAlertsStream handles GET /v1/alerts/stream (SSE). Alerts forwarded
// by the watcher are pushed as "alert" events. Query parameters:
// min_severity, area (repeatable) and suppressed=false.
func (h *Handlers) HandleAlertsStream(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError,
			"alert stream not available (watcher disabled)")
		return
	}
	filter, err := parseStreamFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	// Disable the server's WriteTimeout for this long-lived connection.
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.broker.Subscribe(filter)
	defer func() {
		h.broker.Unsubscribe(sub)
		if n := sub.Dropped(); n > 0 {
			h.logger.Info("alert stream closed with drops", "dropped", n, "operator_id", ctxutil.OperatorID(r.Context()))
		}
	}()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			_ = rc.Flush()
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}

func parseStreamFilter(r *http.Request) (StreamFilter, error) {
	q := r.URL.Query()
	var f StreamFilter
	if v := q.Get("min_severity"); v != "" {
		sev := model.Severity(v)
		if sev.Rank() > model.SeverityInfo.Rank() {
			return f, errors.New("min_severity must be critical, warning or info")
		}
		f.MinSeverity = sev
	}
	for _, area := range q["area"] {
		if area = strings.TrimSpace(area); area == "" {
			continue
		}
		if f.Areas == nil {
			f.Areas = make(map[string]bool)
		}
		f.Areas[area] = true
	}
	if v := q.Get("suppressed"); v != "" {
		keep, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("suppressed must be a boolean")
		}
		f.ExcludeSuppressed = !keep
	}
	return f, nil
}

// HandleListOverrides handles GET /v1/ops/overrides.
func (h *Handlers) HandleListOverrides(w http.ResponseWriter, r *http.Request) {
	list, err := h.overrides.List(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list overrides", err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

// HandleSetOverride handles POST /v1/ops/overrides.
func (h *Handlers) HandleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req model.OverrideRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	reason := ""
	if req.Reason != nil {
		reason = *req.Reason
	}
	o, err := h.overrides.Set(r.Context(), req.Service, req.Status, reason)
	if err != nil {
		if errors.Is(err, overrides.ErrInvalid) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		h.writeInternalError(w, r, "failed to set override", err)
		return
	}
	h.logger.Info("override set via api",
		"service", o.Service, "status", o.Status, "operator_id", ctxutil.OperatorID(r.Context()))
	writeJSON(w, r, http.StatusOK, o)
}

// HandleClearOverride handles DELETE /v1/ops/overrides?service=.
func (h *Handlers) HandleClearOverride(w http.ResponseWriter, r *http.Request) {
	service := strings.TrimSpace(r.URL.Query().Get("service"))
	if service == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "service is required")
		return
	}
	if err := h.overrides.Clear(r.Context(), service); err != nil {
		h.writeInternalError(w, r, "failed to clear override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDigest handles GET /v1/ops/digest?force=.
func (h *Handlers) HandleDigest(w http.ResponseWriter, r *http.Request) {
	d, err := h.digest.Daily(r.Context(), queryBool(r, "force"))
	if err != nil {
		h.writeInternalError(w, r, "failed to build digest", err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// HandleModerationRun handles POST /v1/ops/moderation/run.
func (h *Handlers) HandleModerationRun(w http.ResponseWriter, r *http.Request) {
	res, err := h.moderation.RunCycle(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "moderation cycle failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleFallbackStats handles GET /v1/ops/fallback-stats.
func (h *Handlers) HandleFallbackStats(w http.ResponseWriter, r *http.Request) {
	window, err := queryWindow(r, "window", 24*time.Hour)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	stats, err := h.store.IdentityFallbackStats(r.Context(), time.Now().UTC().Add(-window))
	if err != nil {
		h.writeInternalError(w, r, "failed to read fallback stats", err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleCronRun handles POST /v1/ops/cron-runs.
func (h *Handlers) HandleCronRun(w http.ResponseWriter, r *http.Request) {
	var req model.CronRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.JobName = strings.TrimSpace(req.JobName)
	switch {
	case req.JobName == "":
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "job_name is required")
		return
	case len(req.JobName) > maxJobNameLen:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "job_name is too long")
		return
	}
	switch req.Status {
	case model.CronStatusSuccess, model.CronStatusFailed, model.CronStatusRunning:
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"status must be one of: success, failed, running")
		return
	}

	run := model.CronRun{
		JobName:      req.JobName,
		Status:       req.Status,
		CompletedAt:  req.CompletedAt,
		ErrorMessage: req.ErrorMessage,
	}
	if req.StartedAt != nil {
		run.StartedAt = req.StartedAt.UTC()
	}
	saved, err := h.store.RecordCronRun(r.Context(), run)
	if err != nil {
		h.writeInternalError(w, r, "failed to record cron run", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, saved)
}

// HandlePaymentEvent handles POST /v1/ops/payment-events.
func (h *Handlers) HandlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	var req model.PaymentEventRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.EventType) == "" || strings.TrimSpace(req.Status) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "event_type and status are required")
		return
	}

	err := h.store.RecordPaymentEvent(r.Context(), model.PaymentEvent{
		EventType:  req.EventType,
		Status:     req.Status,
		BusinessID: req.BusinessID,
		Metadata:   req.Metadata,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to record payment event", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleLedgerEntry handles GET /v1/ledger/{domain}/{subject_id}.
func (h *Handlers) HandleLedgerEntry(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("domain")
	if !model.ValidDomain(domain) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown domain: "+domain)
		return
	}
	subjectID, err := strconv.ParseInt(r.PathValue("subject_id"), 10, 64)
	if err != nil || subjectID < 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "subject_id must be a non-negative integer")
		return
	}

	entry, err := h.store.GetLedgerEntry(r.Context(), domain, subjectID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no ledger entry")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to read ledger", err)
		return
	}
	writeJSON(w, r, http.StatusOK, entry)
}
