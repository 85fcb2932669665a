package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/kensa/internal/alerts"
	"github.com/ashita-ai/kensa/internal/auth"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/overrides"
	"github.com/ashita-ai/kensa/internal/service/digest"
	"github.com/ashita-ai/kensa/internal/service/identity"
	"github.com/ashita-ai/kensa/internal/service/moderation"
	"github.com/ashita-ai/kensa/internal/service/triage"
	"github.com/ashita-ai/kensa/internal/storage"
	"github.com/ashita-ai/kensa/internal/telemetry"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               storage.Store
	storeName           string
	jwtMgr              *auth.JWTManager
	triage              *triage.Service
	moderation          *moderation.Service
	identity            *identity.Service
	digest              *digest.Service
	evaluator           alerts.Snapshotter
	overrides           *overrides.Registry
	recorder            *telemetry.Recorder
	summarizer          *telemetry.Summarizer
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Recorder, Broker.
type HandlersDeps struct {
	Store               storage.Store
	StoreName           string
	JWTMgr              *auth.JWTManager
	Triage              *triage.Service
	Moderation          *moderation.Service
	Identity            *identity.Service
	Digest              *digest.Service
	Evaluator           alerts.Snapshotter
	Overrides           *overrides.Registry
	Recorder            *telemetry.Recorder
	Summarizer          *telemetry.Summarizer
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.MaxRequestBodyBytes <= 0 {
		d.MaxRequestBodyBytes = 1 << 20
	}
	return &Handlers{
		store:               d.Store,
		storeName:           d.StoreName,
		jwtMgr:              d.JWTMgr,
		triage:              d.Triage,
		moderation:          d.Moderation,
		identity:            d.Identity,
		digest:              d.Digest,
		evaluator:           d.Evaluator,
		overrides:           d.Overrides,
		recorder:            d.Recorder,
		summarizer:          d.Summarizer,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateOperatorID(req.OperatorID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	op, err := h.store.GetOperator(r.Context(), req.OperatorID)
	if err != nil || op.APIKeyHash == nil {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.logger.Error("auth: operator lookup failed", "operator_id", req.OperatorID, "error", err)
		}
		// Equalize timing with the verify path so unknown IDs are not revealed.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, *op.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(op)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	h.logger.Info("token issued",
		"operator_id", op.OperatorID,
		"role", op.Role,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	storeStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		storeStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	bufDepth := 0
	if h.recorder != nil {
		bufDepth = h.recorder.Len()
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:      status,
		Version:     h.version,
		Store:       h.storeName + ":" + storeStatus,
		BufferDepth: bufDepth,
		Uptime:      int64(time.Since(h.startedAt).Seconds()),
	})
	h.recordLatency(model.AreaAdminHealthEndpoint, r, start, httpStatus)
}

// SeedAdmin creates the initial admin operator if the operators table is empty.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	count, err := h.store.CountOperators(ctx)
	if err != nil {
		return fmt.Errorf("seed admin: count operators: %w", err)
	}
	if count > 0 {
		h.logger.Info("operators table not empty, skipping admin seed", "existing_operators", count)
		return nil
	}
	if adminAPIKey == "" {
		return fmt.Errorf("seed admin: KENSA_ADMIN_API_KEY is empty and no operators exist; set KENSA_ADMIN_API_KEY to bootstrap initial admin access")
	}

	hash, err := auth.HashAPIKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}

	_, err = h.store.CreateOperator(ctx, model.Operator{
		OperatorID: "admin",
		Name:       "System Admin",
		Role:       model.RoleAdmin,
		APIKeyHash: &hash,
	})
	if err != nil {
		return fmt.Errorf("seed admin: create operator: %w", err)
	}

	h.logger.Info("seeded initial admin operator")
	return nil
}

// writeInternalError logs err and writes a generic 500. The error text is
// never echoed to the client.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// recordLatency queues a self-timed sample for area. No-op without a recorder.
func (h *Handlers) recordLatency(area model.LatencyArea, r *http.Request, start time.Time, status int) {
	if h.recorder == nil {
		return
	}
	ok := status < 500
	h.recorder.Record(model.LatencySample{
		Area:       area,
		Route:      r.URL.Path,
		DurationMs: int(time.Since(start).Milliseconds()),
		Success:    &ok,
		StatusCode: &status,
		OccurredAt: start.UTC(),
	})
}

// --- Shared helpers ---

// maxWindow bounds window query parameters.
const maxWindow = 30 * 24 * time.Hour

// queryWindow parses a Go duration query parameter, e.g. "24h". Empty
// returns defaultVal.
func queryWindow(r *http.Request, key string, defaultVal time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: expected a positive duration (e.g. 24h)", key)
	}
	if d > maxWindow {
		return 0, fmt.Errorf("invalid %s: must be at most %s", key, maxWindow)
	}
	return d, nil
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
