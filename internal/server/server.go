package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kensa/internal/alerts"
	"github.com/ashita-ai/kensa/internal/auth"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/overrides"
	"github.com/ashita-ai/kensa/internal/ratelimit"
	"github.com/ashita-ai/kensa/internal/service/digest"
	"github.com/ashita-ai/kensa/internal/service/identity"
	"github.com/ashita-ai/kensa/internal/service/moderation"
	"github.com/ashita-ai/kensa/internal/service/triage"
	"github.com/ashita-ai/kensa/internal/storage"
	"github.com/ashita-ai/kensa/internal/telemetry"
)

// Server is the kensa HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Recorder, Broker, Limiter, MCPServer, Middlewares.
type ServerConfig struct {
	// Required dependencies.
	Store      storage.Store
	StoreName  string
	JWTMgr     *auth.JWTManager
	Triage     *triage.Service
	Moderation *moderation.Service
	Identity   *identity.Service
	Digest     *digest.Service
	Evaluator  alerts.Snapshotter
	Overrides  *overrides.Registry
	Summarizer *telemetry.Summarizer
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Recorder  *telemetry.Recorder
	Broker    *Broker
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// Middlewares wrap the root handler. The first entry is outermost.
	Middlewares []func(http.Handler) http.Handler

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		StoreName:           cfg.StoreName,
		JWTMgr:              cfg.JWTMgr,
		Triage:              cfg.Triage,
		Moderation:          cfg.Moderation,
		Identity:            cfg.Identity,
		Digest:              cfg.Digest,
		Evaluator:           cfg.Evaluator,
		Overrides:           cfg.Overrides,
		Recorder:            cfg.Recorder,
		Summarizer:          cfg.Summarizer,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Operators are limited per identity; the token endpoint per client IP.
	opRL := ratelimit.Middleware(cfg.Limiter, operatorKeyFunc, writeRateLimited, cfg.Logger)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, writeRateLimited, cfg.Logger)

	readRole := requireRole(model.RoleReader)
	writeRole := requireRole(model.RoleOperator)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Judgments (operator+). Callers are the listing application's backends.
	mux.Handle("POST /v1/judgments/triage", opRL(writeRole(http.HandlerFunc(h.HandleTriage))))
	mux.Handle("POST /v1/judgments/moderation", opRL(writeRole(http.HandlerFunc(h.HandleModeration))))
	mux.Handle("POST /v1/judgments/identity", opRL(writeRole(http.HandlerFunc(h.HandleIdentity))))
	mux.Handle("GET /v1/ledger/{domain}/{subject_id}", opRL(readRole(http.HandlerFunc(h.HandleLedgerEntry))))

	// Alerts and overrides.
	mux.Handle("GET /v1/alerts/snapshot", opRL(readRole(http.HandlerFunc(h.HandleAlertsSnapshot))))
	// Subscription endpoint (reader+, no rate limit, long-lived connection).
	mux.Handle("GET /v1/alerts/stream", readRole(http.HandlerFunc(h.HandleAlertsStream)))
	mux.Handle("GET /v1/ops/overrides", opRL(readRole(http.HandlerFunc(h.HandleListOverrides))))
	mux.Handle("POST /v1/ops/overrides", opRL(writeRole(http.HandlerFunc(h.HandleSetOverride))))
	mux.Handle("DELETE /v1/ops/overrides", opRL(writeRole(http.HandlerFunc(h.HandleClearOverride))))

	// Ops reports and ingestion.
	mux.Handle("GET /v1/ops/digest", opRL(readRole(http.HandlerFunc(h.HandleDigest))))
	mux.Handle("POST /v1/ops/moderation/run", opRL(writeRole(http.HandlerFunc(h.HandleModerationRun))))
	mux.Handle("GET /v1/ops/fallback-stats", opRL(readRole(http.HandlerFunc(h.HandleFallbackStats))))
	mux.Handle("POST /v1/ops/cron-runs", opRL(writeRole(http.HandlerFunc(h.HandleCronRun))))
	mux.Handle("POST /v1/ops/payment-events", opRL(writeRole(http.HandlerFunc(h.HandlePaymentEvent))))

	// Latency telemetry.
	mux.Handle("POST /v1/telemetry/latency", opRL(writeRole(http.HandlerFunc(h.HandleIngestLatency))))
	mux.Handle("GET /v1/telemetry/latency", opRL(readRole(http.HandlerFunc(h.HandleLatencySummary))))
	mux.Handle("GET /v1/telemetry/funnel", opRL(readRole(http.HandlerFunc(h.HandleFunnel))))

	// MCP StreamableHTTP transport (auth required, reader+; tools check
	// their own write roles).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	handler := recordRoute(mux)
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// operatorKeyFunc extracts the operator ID from the request context for rate
// limiting. Returns empty string for admins (exempt from rate limits).
func operatorKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return "op:" + claims.OperatorID
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
