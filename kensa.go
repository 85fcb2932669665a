// Package kensa is the public API for embedding the Kensa decision
// arbitration and alerting server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := kensa.New(
//	    kensa.WithVersion(version),
//	    kensa.WithAlertNotifier(pagerNotifier{}),
//	    kensa.WithMiddleware(corsMiddleware),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kensa (root) imports
// internal/*, but internal/* never imports kensa (root). Public types (Alert,
// Severity) are standalone structs with no internal imports; the conversion
// helper lives here because this is the only file that sees both sides of
// the boundary.
package kensa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kensa/internal/alerts"
	"github.com/ashita-ai/kensa/internal/arbiter"
	"github.com/ashita-ai/kensa/internal/auth"
	"github.com/ashita-ai/kensa/internal/config"
	"github.com/ashita-ai/kensa/internal/llm"
	"github.com/ashita-ai/kensa/internal/mcp"
	"github.com/ashita-ai/kensa/internal/mode"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/overrides"
	"github.com/ashita-ai/kensa/internal/ratelimit"
	"github.com/ashita-ai/kensa/internal/registry"
	"github.com/ashita-ai/kensa/internal/server"
	"github.com/ashita-ai/kensa/internal/service/digest"
	"github.com/ashita-ai/kensa/internal/service/identity"
	"github.com/ashita-ai/kensa/internal/service/moderation"
	"github.com/ashita-ai/kensa/internal/service/triage"
	"github.com/ashita-ai/kensa/internal/storage"
	"github.com/ashita-ai/kensa/internal/storage/sqlite"
	"github.com/ashita-ai/kensa/internal/telemetry"
	"github.com/ashita-ai/kensa/migrations"
)

// App is the Kensa server lifecycle. Construct with New(), run with Run().
// App has no public fields; configure it with New() options.
type App struct {
	cfg          config.Config
	store        storage.Store
	srv          *server.Server
	recorder     *telemetry.Recorder
	watcher      *alerts.Watcher        // nil when KENSA_ALERT_WATCH=false
	pubsub       *alerts.PubSubNotifier // nil when no Pub/Sub topic is configured
	provider     llm.Provider
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Kensa server. It opens the store, runs migrations,
// wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections. Call Run() for that.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.storeDriver != "" {
		cfg.StoreDriver = o.storeDriver
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(cfg.LogLevel)
		slog.SetDefault(logger)
	}

	logger.Info("kensa starting", "version", version, "port", cfg.Port, "store", cfg.StoreDriver)

	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx, telemetry.OTELConfig{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// cleanup releases what has been opened so far when a later step fails.
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		_ = otelShutdown(context.Background())
	}

	store, err := openStore(ctx, cfg, o, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	closers = append(closers, func() { _ = store.Close(context.Background()) })

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("auth: %w", err)
	}

	provider, err := llm.New(ctx, llm.Config{
		Provider:    cfg.LLMProvider,
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		HTTPTimeout: cfg.LLMHTTPTimeout,
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("llm: %w", err)
	}
	if c, ok := provider.(io.Closer); ok {
		closers = append(closers, func() { _ = c.Close() })
	}
	logger.Info("ai provider", "name", provider.Name(), "mode", cfg.AIMode)

	modes := mode.NewResolver(cfg.Modes(), logger)
	arb := arbiter.New(provider, modes, arbiter.NewRecorder(store, store, logger), logger, arbiter.Config{
		Timeout:      cfg.AITimeout,
		MaxRetries:   cfg.AIMaxRetries,
		RetryBackoff: cfg.AIRetryBackoff,
	})

	reg := newRegistryClient(cfg, logger)

	thresholds, err := alerts.LoadThresholds(cfg.AlertThresholdsFile)
	if err != nil {
		cleanup()
		return nil, err
	}

	overrideReg := overrides.New(store, logger, overrides.WithTTL(cfg.OverrideTTL))
	summarizer := telemetry.NewSummarizer(store, logger)
	recorder := telemetry.NewRecorder(store, logger, telemetry.RecorderConfig{
		BatchSize:    cfg.LatencyBatchSize,
		Capacity:     cfg.LatencyCapacity,
		FlushTimeout: cfg.LatencyFlushInterval,
	})
	evaluator := alerts.NewEvaluator(alerts.Sources{
		Cron:      store,
		Fallbacks: store,
		Payments:  store,
		Latency:   summarizer,
		Overrides: overrideReg,
	}, thresholds, logger)

	triageSvc := triage.New(arb, logger)
	broker := server.NewBroker(logger)

	// Alert fan-out: log, SSE subscribers, Pub/Sub, then embedder notifiers.
	var pubsub *alerts.PubSubNotifier
	var watcher *alerts.Watcher
	if cfg.AlertWatchEnabled {
		notifiers := alerts.MultiNotifier{alerts.LogNotifier{Logger: logger}, broker}
		if cfg.PubSubProject != "" && cfg.PubSubTopic != "" {
			pubsub, err = alerts.NewPubSubNotifier(ctx, cfg.PubSubProject, cfg.PubSubTopic)
			if err != nil {
				cleanup()
				return nil, err
			}
			closers = append(closers, func() { _ = pubsub.Close() })
			notifiers = append(notifiers, pubsub)
			logger.Info("alert pubsub: enabled", "project", cfg.PubSubProject, "topic", cfg.PubSubTopic)
		}
		for _, n := range o.notifiers {
			notifiers = append(notifiers, &notifierAdapter{n: n})
		}
		watcher = alerts.NewWatcher(evaluator, notifiers, cfg.AlertInterval, cfg.AlertRenotify, logger)
	} else {
		logger.Info("alert watcher: disabled")
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}
	closers = append(closers, func() { _ = limiter.Close() })

	mcpSrv := mcp.New(mcp.Deps{
		Evaluator:  evaluator,
		Overrides:  overrideReg,
		Summarizer: summarizer,
		Triage:     triageSvc,
		Logger:     logger,
		Version:    version,
	})

	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.ServerConfig{
		Store:               store,
		StoreName:           cfg.StoreDriver,
		JWTMgr:              jwtMgr,
		Triage:              triageSvc,
		Moderation:          moderation.New(arb, store, moderation.Config{MinLength: cfg.ModerationMinLength, BatchSize: cfg.ModerationBatchSize}, logger),
		Identity:            identity.New(arb, reg, store, logger),
		Digest:              digest.New(arb, store, logger),
		Evaluator:           evaluator,
		Overrides:           overrideReg,
		Summarizer:          summarizer,
		Recorder:            recorder,
		Broker:              broker,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Middlewares:         middlewares,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	if err := srv.Handlers().SeedAdmin(ctx, cfg.AdminAPIKey); err != nil {
		cleanup()
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	return &App{
		cfg:          cfg,
		store:        store,
		srv:          srv,
		recorder:     recorder,
		watcher:      watcher,
		pubsub:       pubsub,
		provider:     provider,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts all background goroutines and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically, so callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.recorder.Start(ctx)
	if a.watcher != nil {
		a.watcher.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown performs a phased graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) flush buffered latency samples to the store,
// (3) stop the alert watcher.
// It then releases the AI provider, Pub/Sub client, OTEL provider and store.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kensa shutting down")

	// Phase 1: HTTP drain. Handlers may still enqueue latency samples.
	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// Phase 2: latency buffer drain.
	drainCtx, drainCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	a.recorder.Drain(drainCtx)
	drainCancel()

	// Phase 3: alert watcher.
	var errs []error
	if a.watcher != nil {
		watchCtx, watchCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
		if err := a.watcher.Stop(watchCtx); err != nil {
			errs = append(errs, fmt.Errorf("alert watcher: %w", err))
		}
		watchCancel()
	}

	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", "error", err)
		}
	}
	if c, ok := a.provider.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("ai provider close failed", "error", err)
		}
	}
	_ = a.limiter.Close()
	if err := a.otelShutdown(context.Background()); err != nil {
		a.logger.Warn("otel shutdown failed", "error", err)
	}
	if err := a.store.Close(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	a.logger.Info("kensa stopped")
	return errors.Join(errs...)
}

// Handler returns the root HTTP handler, for embedding the server behind
// another listener or in tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

func openStore(ctx context.Context, cfg config.Config, o resolvedOptions, logger *slog.Logger) (storage.Store, error) {
	if cfg.StoreDriver == config.StoreSQLite {
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		logger.Info("store: sqlite", "path", cfg.SQLitePath)
		return s, nil
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(ctx, extraFS); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}
	logger.Info("store: postgres")
	return db, nil
}

func newRegistryClient(cfg config.Config, logger *slog.Logger) registry.Client {
	var parser registry.Parser = registry.JSONParser{}
	if cfg.RegistryFormat == "soap" {
		parser = registry.SOAPParser{}
	}
	if cfg.RegistryGUID == "" {
		logger.Warn("business registry guid not set, lookups will fail and identity checks will use the checksum fallback")
	}
	return registry.NewHTTPClient(cfg.RegistryEndpoint, cfg.RegistryGUID, parser, cfg.RegistryTimeout)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// contextWithOptionalTimeout returns a child context with the given timeout,
// or a cancellable child with no deadline when d is zero.
func contextWithOptionalTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

// notifierAdapter bridges the public AlertNotifier to alerts.Notifier.
type notifierAdapter struct {
	n AlertNotifier
}

func (a *notifierAdapter) Notify(ctx context.Context, fired []model.Alert) error {
	out := make([]Alert, len(fired))
	for i, f := range fired {
		out[i] = toPublicAlert(f)
	}
	return a.n.Notify(ctx, out)
}

func toPublicAlert(a model.Alert) Alert {
	return Alert{
		ID:          a.ID,
		Area:        a.Area,
		Severity:    Severity(a.Severity),
		Message:     a.Message,
		TriggeredAt: a.TriggeredAt,
		Suppressed:  a.Suppressed,
		Meta:        a.Meta,
	}
}
