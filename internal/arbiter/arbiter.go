// Package arbiter decides between an AI answer and a deterministic heuristic
// for every automated judgment.
//
// For each call the domain's mode is resolved first. Disabled domains go
// straight to the heuristic. Otherwise the provider is asked once (plus at
// most one retry) under a per-attempt timeout, the answer is decoded by the
// domain's Decoder, and any failure falls back to the heuristic with a
// recorded fallback event. Shadow mode keeps the heuristic result and notes
// what the AI would have done. Every call writes exactly one ledger entry.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kensa/internal/llm"
	"github.com/ashita-ai/kensa/internal/mode"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/telemetry"
)

// Defaults for Config zero values.
const (
	DefaultTimeout      = 8 * time.Second
	DefaultRetryBackoff = 250 * time.Millisecond
	maxRetries          = 1
)

// ActionManual is the action of a judgment produced when the heuristic
// itself failed.
const ActionManual = "manual"

// Config tunes provider calls.
type Config struct {
	// Timeout bounds each provider attempt.
	Timeout time.Duration
	// MaxRetries is capped at 1.
	MaxRetries int
	// RetryBackoff is the base of the jittered exponential backoff.
	RetryBackoff time.Duration
}

// Policy binds one domain's prompt, decoder and heuristic.
type Policy[I any] struct {
	Domain    string
	Prompt    func(I) llm.Request
	Decode    Decoder
	Heuristic func(I) model.Verdict
	// ErrorReason and InvalidReason override the default fallback reasons
	// <domain>_ai_error and <domain>_invalid_format.
	ErrorReason   model.FallbackReason
	InvalidReason model.FallbackReason
}

func (p Policy[I]) errorReason() model.FallbackReason {
	if p.ErrorReason != "" {
		return p.ErrorReason
	}
	return model.AIErrorReason(p.Domain)
}

func (p Policy[I]) invalidReason() model.FallbackReason {
	if p.InvalidReason != "" {
		return p.InvalidReason
	}
	return model.InvalidFormatReason(p.Domain)
}

// Arbiter runs policies against a provider.
type Arbiter struct {
	provider llm.Provider
	modes    *mode.Resolver
	recorder *Recorder
	logger   *slog.Logger
	cfg      Config
	metrics  *metrics
	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Arbiter. A nil provider behaves as llm.Disabled.
func New(provider llm.Provider, modes *mode.Resolver, recorder *Recorder, logger *slog.Logger, cfg Config) *Arbiter {
	if provider == nil {
		provider = llm.Disabled{Reason: "no provider configured"}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if modes == nil {
		modes = mode.NewResolver(mode.Config{}, logger)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	cfg.MaxRetries = min(max(cfg.MaxRetries, 0), maxRetries)
	return &Arbiter{
		provider: provider,
		modes:    modes,
		recorder: recorder,
		logger:   logger,
		cfg:      cfg,
		metrics:  newMetrics(),
		sleep:    sleepCtx,
	}
}

// Mode returns the resolved mode for domain.
func (a *Arbiter) Mode(domain string) model.Mode { return a.modes.Resolve(domain) }

// Provider returns the configured provider.
func (a *Arbiter) Provider() llm.Provider { return a.provider }

// Record writes a judgment produced outside Evaluate through the same ledger
// path.
func (a *Arbiter) Record(ctx context.Context, domain string, subjectID int64, j model.Judgment, raw []byte) {
	a.recorder.Record(ctx, domain, subjectID, j, raw)
	a.metrics.judgment(ctx, domain, j)
}

// Fallback appends a fallback event through the same path Evaluate uses.
func (a *Arbiter) Fallback(ctx context.Context, domain string, subjectID int64, reason model.FallbackReason) {
	a.recorder.Fallback(ctx, domain, subjectID, reason)
	a.metrics.fallback(ctx, domain, reason)
}

// Evaluate produces the judgment for input under p. It never fails: every
// error path ends in the heuristic.
func Evaluate[I any](ctx context.Context, a *Arbiter, p Policy[I], subjectID int64, input I) model.Judgment {
	m := a.modes.Resolve(p.Domain)

	if m == model.ModeDisabled {
		j := runHeuristic(a, p, input, m)
		a.Record(ctx, p.Domain, subjectID, j, nil)
		return j
	}

	start := time.Now()
	resp, err := a.complete(ctx, p.Prompt(input))
	latency := time.Since(start)
	a.metrics.aiLatency(ctx, p.Domain, latency, err == nil)

	var (
		j   model.Judgment
		raw []byte
	)
	switch {
	case err != nil:
		a.logger.Warn("arbiter: provider call failed, using heuristic",
			"domain", p.Domain, "subject_id", subjectID, "provider", a.provider.Name(), "error", err)
		j = fallback(ctx, a, p, input, m, subjectID, p.errorReason())
	default:
		raw = []byte(resp.Text)
		switch o := p.Decode(llm.StripCodeFences(resp.Text)).(type) {
		case Valid:
			if m == model.ModeShadow {
				j = runHeuristic(a, p, input, m)
				j.Meta.ShadowAction = o.Verdict.Action
			} else {
				j = judgmentFrom(o.Verdict, model.SourceAI, m)
			}
		case Invalid:
			a.logger.Warn("arbiter: unusable model answer, using heuristic",
				"domain", p.Domain, "subject_id", subjectID, "reason", o.Reason)
			j = fallback(ctx, a, p, input, m, subjectID, p.invalidReason())
		default:
			j = fallback(ctx, a, p, input, m, subjectID, p.invalidReason())
		}
		j.Meta.Model = resp.Model
	}
	j.Meta.Provider = a.provider.Name()
	j.Meta.LatencyMs = latency.Milliseconds()

	a.Record(ctx, p.Domain, subjectID, j, raw)
	return j
}

func fallback[I any](ctx context.Context, a *Arbiter, p Policy[I], input I, m model.Mode, subjectID int64, reason model.FallbackReason) model.Judgment {
	a.Fallback(ctx, p.Domain, subjectID, reason)
	j := runHeuristic(a, p, input, m)
	j.Meta.FallbackReason = reason
	return j
}

// runHeuristic runs the policy heuristic, turning a panic into a manual
// judgment with zero confidence.
func runHeuristic[I any](a *Arbiter, p Policy[I], input I, m model.Mode) (j model.Judgment) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("arbiter: heuristic panicked", "domain", p.Domain, "panic", fmt.Sprint(rec))
			j = model.Judgment{
				Action: ActionManual,
				Reason: "heuristic failed; needs manual review",
				Source: model.SourceManual,
				Meta:   model.JudgmentMeta{Mode: m},
			}
		}
	}()
	return judgmentFrom(p.Heuristic(input), model.SourceHeuristic, m)
}

func judgmentFrom(v model.Verdict, src model.Source, m model.Mode) model.Judgment {
	return model.Judgment{
		Action:     v.Action,
		Confidence: model.ClampConfidence(v.Confidence),
		Reason:     v.Reason,
		Source:     src,
		Meta:       model.JudgmentMeta{Mode: m, Details: v.Details},
	}
}

// complete calls the provider with a per-attempt timeout and at most
// cfg.MaxRetries retries.
func (a *Arbiter) complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := a.sleep(ctx, backoff(a.cfg.RetryBackoff, attempt)); err != nil {
				return llm.Response{}, err
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		resp, err := a.provider.Complete(attemptCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return llm.Response{}, lastErr
}

// retryable reports whether another attempt could succeed. A disabled
// provider, a cancelled caller and client errors other than 429 are final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, llm.ErrDisabled) {
		return false
	}
	var se *llm.StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

// backoff returns base*2^(attempt-1) scaled by a random factor in [0.5, 1.5).
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type metrics struct {
	judgments metric.Int64Counter
	fallbacks metric.Int64Counter
	latency   metric.Float64Histogram
}

func newMetrics() *metrics {
	meter := telemetry.Meter("kensa/arbiter")
	m := &metrics{}
	m.judgments, _ = meter.Int64Counter("kensa.arbiter.judgments",
		metric.WithDescription("Judgments produced, by domain, source and mode"))
	m.fallbacks, _ = meter.Int64Counter("kensa.arbiter.fallbacks",
		metric.WithDescription("Heuristic fallbacks, by domain and reason"))
	m.latency, _ = meter.Float64Histogram("kensa.arbiter.ai_latency",
		metric.WithDescription("Provider call latency including retries"),
		metric.WithUnit("ms"))
	return m
}

func (m *metrics) judgment(ctx context.Context, domain string, j model.Judgment) {
	if m.judgments == nil {
		return
	}
	m.judgments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("domain", domain),
		attribute.String("source", string(j.Source)),
		attribute.String("mode", string(j.Meta.Mode)),
	))
}

func (m *metrics) fallback(ctx context.Context, domain string, reason model.FallbackReason) {
	if m.fallbacks == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("domain", domain),
		attribute.String("reason", string(reason)),
	))
}

func (m *metrics) aiLatency(ctx context.Context, domain string, d time.Duration, ok bool) {
	if m.latency == nil {
		return
	}
	m.latency.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(
		attribute.String("domain", domain),
		attribute.Bool("ok", ok),
	))
}
