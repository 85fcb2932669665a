package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/kensa/internal/heuristics"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/service/identity"
)

// HandleTriage handles POST /v1/judgments/triage.
func (h *Handlers) HandleTriage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() { h.recordLatency(model.AreaEmergencyTriageAPI, r, start, status) }()

	var req model.TriageRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		status = http.StatusBadRequest
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		status = http.StatusBadRequest
		writeError(w, r, status, model.ErrCodeInvalidInput, err.Error())
		return
	}

	j := h.triage.Classify(r.Context(), req.SubjectID, strings.TrimSpace(req.Description))
	writeJSON(w, r, status, j)
}

// HandleModeration handles POST /v1/judgments/moderation.
func (h *Handlers) HandleModeration(w http.ResponseWriter, r *http.Request) {
	var req model.ModerationRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	j := h.moderation.Moderate(r.Context(), req.SubjectID, heuristics.ReviewInput{
		Rating:  req.Rating,
		Title:   req.Title,
		Content: req.Content,
	})
	writeJSON(w, r, http.StatusOK, j)
}

// HandleIdentity handles POST /v1/judgments/identity.
func (h *Handlers) HandleIdentity(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() { h.recordLatency(model.AreaABNVerifyAPI, r, start, status) }()

	var req model.IdentityRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		status = http.StatusBadRequest
		handleDecodeError(w, r, err)
		return
	}

	res, err := h.identity.Verify(r.Context(), req)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidInput) {
			status = http.StatusBadRequest
			writeError(w, r, status, model.ErrCodeInvalidInput, err.Error())
			return
		}
		status = http.StatusInternalServerError
		h.writeInternalError(w, r, "identity verification failed", err)
		return
	}
	writeJSON(w, r, status, res)
}
