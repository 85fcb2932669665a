// Package alerts turns operational signals into a ranked alert snapshot.
//
// Every rule reads one signal and fires independently. Signals are fetched
// in parallel; a signal that cannot be read is logged and fires nothing.
// Alerts for a service with an active override are still reported, marked
// suppressed, so operators can see what would have fired.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/storage"
	"github.com/ashita-ai/kensa/internal/telemetry"
)

// Rule identifiers. They are stable across releases.
const (
	RuleEmergencyCronStale     = "emergency-cron-stale"
	RuleEmergencyCronMissing   = "emergency-cron-missing"
	RuleAIHealthDegraded       = "ai-health-degraded"
	RuleCronHealthDegraded     = "cron-health-degraded"
	RuleABNFallbackRate        = "abn-fallback-rate"
	RuleSearchLatency          = "search-latency"
	RuleEmergencyTriageLatency = "emergency-triage-latency"
	RuleEmergencyVerifyLatency = "emergency-verify-latency"
	RuleABNVerifyLatency       = "abn-verify-latency"
	RuleTrainerProfileLatency  = "trainer-profile-latency"
	RuleOnboardingLatency      = "onboarding-latency"
	RulePaymentFailures        = "monetization-payment-failures"
	RuleMonetizationSyncErrors = "monetization-sync-errors"
)

// Services an override can name to suppress alerts.
const (
	ServiceEmergencyCron = "emergency_cron"
	ServiceTelemetry     = "telemetry"
	ServiceABNRecheck    = "abn_recheck"
	ServiceMonetization  = "monetization"
)

const signalWindow = 24 * time.Hour

// LatencySource summarizes latency for an area. Nil means no data.
type LatencySource interface {
	Summarize(ctx context.Context, area model.LatencyArea, window time.Duration) *model.LatencySummary
}

// OverrideSource lists unexpired overrides keyed by service.
type OverrideSource interface {
	ActiveAll(ctx context.Context) (map[string]model.Override, error)
}

// Sources are the signal readers the evaluator depends on.
type Sources struct {
	Cron      storage.CronStore
	Fallbacks storage.FallbackStore
	Payments  storage.PaymentStore
	Latency   LatencySource
	Overrides OverrideSource
}

// Evaluator computes alert snapshots.
type Evaluator struct {
	src        Sources
	thresholds Thresholds
	logger     *slog.Logger
	now        func() time.Time
	fired      metric.Int64Counter
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(src Sources, th Thresholds, logger *slog.Logger, opts ...Option) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Evaluator{src: src, thresholds: th, logger: logger, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	e.fired, _ = telemetry.Meter("kensa/alerts").Int64Counter("kensa.alerts.fired",
		metric.WithDescription("Alerts present in evaluated snapshots, by rule and suppression"))
	return e
}

// Thresholds returns the active rule limits.
func (e *Evaluator) Thresholds() Thresholds { return e.thresholds }

// monitoredAreas are the latency summaries every snapshot reads.
var monitoredAreas = []model.LatencyArea{
	model.AreaSearchTriage,
	model.AreaTrainerProfilePage,
	model.AreaEmergencyTriageAPI,
	model.AreaEmergencyVerifyAPI,
	model.AreaAdminHealthEndpoint,
	model.AreaAIHealthEndpoint,
	model.AreaABNVerifyAPI,
	model.AreaOnboardingAPI,
}

type signals struct {
	cron      *model.CronSnapshot
	fallback  *model.FallbackStats
	payments  *model.PaymentStats
	latency   map[model.LatencyArea]*model.LatencySummary
	overrides map[string]model.Override
}

// Snapshot evaluates every rule. It never fails.
func (e *Evaluator) Snapshot(ctx context.Context) model.AlertSnapshot {
	start := time.Now()
	now := e.now().UTC()
	sig := e.fetch(ctx, now)

	b := builder{now: now, overrides: sig.overrides}
	e.evaluate(&b, sig, now)

	// Stable so alerts of equal severity keep rule order.
	slices.SortStableFunc(b.alerts, func(x, y model.Alert) int {
		return x.Severity.Rank() - y.Severity.Rank()
	})

	for _, a := range b.alerts {
		if e.fired != nil {
			e.fired.Add(ctx, 1, metric.WithAttributes(
				attribute.String("rule", a.ID),
				attribute.String("severity", string(a.Severity)),
				attribute.Bool("suppressed", a.Suppressed),
			))
		}
	}
	e.logger.Debug("alerts: snapshot evaluated",
		"alerts", len(b.alerts), "duration_ms", time.Since(start).Milliseconds())

	return model.AlertSnapshot{GeneratedAt: now, Alerts: b.alerts}
}

// fetch reads every signal concurrently. Each goroutine writes only its own
// slot, so no locking is needed beyond the group's Wait.
func (e *Evaluator) fetch(ctx context.Context, now time.Time) signals {
	since := now.Add(-signalWindow)
	sig := signals{latency: make(map[model.LatencyArea]*model.LatencySummary, len(monitoredAreas))}
	latency := make([]*model.LatencySummary, len(monitoredAreas))

	g, gctx := errgroup.WithContext(ctx)
	if e.src.Cron != nil {
		g.Go(func() error {
			snap, err := e.src.Cron.CronSnapshot(gctx, storage.EmergencyVerifyJob)
			if err != nil {
				e.logger.Warn("alerts: cron snapshot unavailable", "error", err)
				return nil
			}
			sig.cron = &snap
			return nil
		})
	}
	if e.src.Fallbacks != nil {
		g.Go(func() error {
			st, err := e.src.Fallbacks.IdentityFallbackStats(gctx, since)
			if err != nil {
				e.logger.Warn("alerts: fallback stats unavailable", "error", err)
				return nil
			}
			sig.fallback = &st
			return nil
		})
	}
	if e.src.Payments != nil {
		g.Go(func() error {
			st, err := e.src.Payments.PaymentStats(gctx, since)
			if err != nil {
				e.logger.Warn("alerts: payment stats unavailable", "error", err)
				return nil
			}
			sig.payments = &st
			return nil
		})
	}
	if e.src.Overrides != nil {
		g.Go(func() error {
			o, err := e.src.Overrides.ActiveAll(gctx)
			if err != nil {
				e.logger.Warn("alerts: overrides unavailable, nothing suppressed", "error", err)
				return nil
			}
			sig.overrides = o
			return nil
		})
	}
	if e.src.Latency != nil {
		for i, area := range monitoredAreas {
			g.Go(func() error {
				latency[i] = e.src.Latency.Summarize(gctx, area, signalWindow)
				return nil
			})
		}
	}
	_ = g.Wait()

	for i, area := range monitoredAreas {
		sig.latency[area] = latency[i]
	}
	return sig
}

func (e *Evaluator) evaluate(b *builder, sig signals, now time.Time) {
	th := e.thresholds

	if sig.cron != nil {
		if last := sig.cron.LastSuccessAt; last != nil {
			minutes := now.Sub(*last).Minutes()
			if minutes > th.EmergencyCronMinutes {
				b.add(RuleEmergencyCronStale, "emergency_cron", model.SeverityCritical,
					fmt.Sprintf("Emergency cron last success %.1fm ago", minutes),
					ServiceEmergencyCron, map[string]any{"last_success": last.UTC()})
			}
		} else {
			b.add(RuleEmergencyCronMissing, "emergency_cron", model.SeverityCritical,
				"Emergency cron has no recorded successes", ServiceEmergencyCron, nil)
		}
	}

	if s := sig.latency[model.AreaAIHealthEndpoint]; s != nil && s.SuccessRate < th.AIHealthSuccessRate {
		b.add(RuleAIHealthDegraded, "telemetry", model.SeverityWarning,
			fmt.Sprintf("AI health success rate %.0f%%", s.SuccessRate*100),
			ServiceTelemetry, map[string]any{"success_rate": s.SuccessRate})
	}
	if s := sig.latency[model.AreaAdminHealthEndpoint]; s != nil && s.SuccessRate < th.CronHealthSuccessRate {
		b.add(RuleCronHealthDegraded, "telemetry", model.SeverityWarning,
			fmt.Sprintf("Admin health endpoint success %.0f%%", s.SuccessRate*100),
			ServiceTelemetry, map[string]any{"success_rate": s.SuccessRate})
	}

	if f := sig.fallback; f != nil && f.SampleSize > 0 && f.SampleSize >= th.FallbackMinSample && f.Rate > th.FallbackRate {
		b.add(RuleABNFallbackRate, "abn_pipeline", model.SeverityWarning,
			fmt.Sprintf("ABN fallback rate %.1f%% over last 24h", f.Rate*100),
			ServiceABNRecheck, map[string]any{
				"fallback_count": f.FallbackCount,
				"verified_count": f.VerifiedCount,
				"sample_size":    f.SampleSize,
				"rate":           f.Rate,
			})
	}

	searchFired := false
	if s := sig.latency[model.AreaSearchTriage]; s != nil && s.P95Ms > th.SearchP95Ms {
		searchFired = true
		b.add(RuleSearchLatency, "search", model.SeverityWarning,
			fmt.Sprintf("Search P95 %dms", s.P95Ms), "", latencyMeta(s))
	}
	if s := sig.latency[model.AreaEmergencyTriageAPI]; s != nil && s.P95Ms > th.EmergencyTriageP95Ms {
		b.add(RuleEmergencyTriageLatency, "emergency_triage", model.SeverityWarning,
			fmt.Sprintf("Emergency triage P95 %dms", s.P95Ms), "", latencyMeta(s))
	}
	if s := sig.latency[model.AreaEmergencyVerifyAPI]; s != nil && s.P95Ms > th.EmergencyVerifyP95Ms {
		b.add(RuleEmergencyVerifyLatency, "emergency_verify", model.SeverityWarning,
			fmt.Sprintf("Emergency verify P95 %dms", s.P95Ms), ServiceEmergencyCron, latencyMeta(s))
	}
	if s := sig.latency[model.AreaABNVerifyAPI]; s != nil && s.P95Ms > th.ABNVerifyP95Ms {
		b.add(RuleABNVerifyLatency, "abn_verify", model.SeverityWarning,
			fmt.Sprintf("ABN verify P95 %dms", s.P95Ms), ServiceABNRecheck, latencyMeta(s))
	}
	// Trainer profile pages sit behind search; a slow search explains them.
	if s := sig.latency[model.AreaTrainerProfilePage]; !searchFired && s != nil && s.P95Ms > th.TrainerProfileP95Ms {
		b.add(RuleTrainerProfileLatency, "trainer_profile", model.SeverityWarning,
			fmt.Sprintf("Trainer profile SSR P95 %dms", s.P95Ms), "", latencyMeta(s))
	}
	if s := sig.latency[model.AreaOnboardingAPI]; s != nil && s.P95Ms > th.OnboardingP95Ms {
		b.add(RuleOnboardingLatency, "onboarding", model.SeverityWarning,
			fmt.Sprintf("Onboarding P95 %dms", s.P95Ms), "", latencyMeta(s))
	}

	if p := sig.payments; p != nil {
		rate := math.Round(p.FailureRate*100) / 100
		if p.Failures > 0 && rate > th.PaymentFailureRate {
			sev := model.SeverityWarning
			if rate > th.PaymentCriticalRate {
				sev = model.SeverityCritical
			}
			b.add(RulePaymentFailures, "monetization", sev,
				fmt.Sprintf("Payment failures %.1f%% (%d/%d)", rate*100, p.Failures, p.Total),
				ServiceMonetization, map[string]any{"failure_rate": rate})
		}
		if p.SyncErrors >= th.PaymentSyncErrors && th.PaymentSyncErrors > 0 {
			b.add(RuleMonetizationSyncErrors, "monetization", model.SeverityCritical,
				fmt.Sprintf("Subscription sync errors: %d / 24h", p.SyncErrors),
				ServiceMonetization, map[string]any{"sync_errors": p.SyncErrors})
		}
	}
}

func latencyMeta(s *model.LatencySummary) map[string]any {
	return map[string]any{
		"count":        s.Count,
		"avg_ms":       s.AvgMs,
		"p95_ms":       s.P95Ms,
		"success_rate": s.SuccessRate,
	}
}

type builder struct {
	now       time.Time
	overrides map[string]model.Override
	alerts    []model.Alert
}

func (b *builder) add(id, area string, sev model.Severity, msg, service string, meta map[string]any) {
	a := model.Alert{
		ID:          id,
		Area:        area,
		Severity:    sev,
		Message:     msg,
		TriggeredAt: b.now,
		Meta:        meta,
	}
	if service != "" {
		if o, ok := b.overrides[service]; ok && o.ActiveAt(b.now) {
			a.Suppressed = true
			a.Override = &o
		}
	}
	b.alerts = append(b.alerts, a)
}
