// Package digest produces the daily operations summary: a metrics snapshot
// narrated by the model, with a deterministic fallback.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/kensa/internal/arbiter"
	"github.com/ashita-ai/kensa/internal/llm"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/storage"
)

// ActionSummary is the ledger action of every digest judgment.
const ActionSummary = "summary"

const systemPrompt = "Summarise operational health for a solo operator keeping an eye on onboarding, emergency queries, and verification tooling."

// fallbackPrefixLen is how much of the metrics prompt the deterministic
// summary quotes.
const fallbackPrefixLen = 140

// Service builds and caches daily digests.
type Service struct {
	arb    *arbiter.Arbiter
	store  storage.DigestStore
	policy arbiter.Policy[model.OpsMetrics]
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a digest Service.
func New(arb *arbiter.Arbiter, store storage.DigestStore, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{arb: arb, store: store, policy: Policy(), logger: logger, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the digest arbitration policy.
func Policy() arbiter.Policy[model.OpsMetrics] {
	return arbiter.Policy[model.OpsMetrics]{
		Domain: model.DomainDigest,
		Prompt: func(m model.OpsMetrics) llm.Request {
			return llm.Request{
				System:      systemPrompt,
				User:        Prompt(m),
				Format:      llm.FormatText,
				Temperature: 0.3,
				MaxTokens:   400,
			}
		},
		Decode: arbiter.TextDecoder(ActionSummary, 0.8),
		Heuristic: func(m model.OpsMetrics) model.Verdict {
			return model.Verdict{Action: ActionSummary, Confidence: 0.5, Reason: FallbackSummary(m)}
		},
	}
}

// Prompt renders the metrics snapshot the model is asked to narrate.
func Prompt(m model.OpsMetrics) string {
	accuracy := "n/a"
	if m.EmergencyAccuracyPct != nil {
		accuracy = strconv.FormatFloat(*m.EmergencyAccuracyPct, 'f', -1, 64)
	}
	var b strings.Builder
	b.WriteString("Metrics snapshot:\n")
	fmt.Fprintf(&b, "- Onboarding submissions (last 24h): %d\n", m.OnboardingToday)
	fmt.Fprintf(&b, "- Pending ABN manual reviews: %d\n", m.PendingIdentityManual)
	fmt.Fprintf(&b, "- Emergency triage logs (last 24h): %d\n", m.EmergencyLogsToday)
	fmt.Fprintf(&b, "- Emergency classifier accuracy (weekly %%): %s\n", accuracy)
	fmt.Fprintf(&b, "- Emergency resources flagged for verification: %d\n", m.EmergencyPendingVerifications)
	fmt.Fprintf(&b, "- Errors reported last 24h: %d\n", m.ErrorsLast24h)
	b.WriteString("\nSummarise the operational situation for the admin in 3-5 sentences, highlight blockers, and end with one actionable next step.")
	return b.String()
}

// FallbackSummary is the deterministic digest text used without the model.
func FallbackSummary(m model.OpsMetrics) string {
	p := Prompt(m)
	if len(p) > fallbackPrefixLen {
		p = p[:fallbackPrefixLen]
	}
	return "Ops digest: " + p + "..."
}

// SubjectID maps a digest date to its ledger subject, e.g. 2026-07-04 ->
// 20260704.
func SubjectID(date time.Time) int64 {
	y, m, d := date.Date()
	return int64(y*10000 + int(m)*100 + d)
}

// Daily returns today's digest (UTC). An existing digest is returned as is
// unless force is set. Metrics failures are returned; a failed write is
// logged and the unsaved digest returned.
func (s *Service) Daily(ctx context.Context, force bool) (model.Digest, error) {
	now := s.now().UTC()
	date := now.Format(time.DateOnly)

	if !force {
		d, err := s.store.GetDigest(ctx, date)
		switch {
		case err == nil:
			return d, nil
		case !errors.Is(err, storage.ErrNotFound):
			s.logger.Warn("digest: read cached digest failed, regenerating", "date", date, "error", err)
		}
	}

	metrics, err := s.store.OpsMetrics(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return model.Digest{}, fmt.Errorf("digest: ops metrics: %w", err)
	}

	j := arbiter.Evaluate(ctx, s.arb, s.policy, SubjectID(now), metrics)
	d := model.Digest{
		Date:      date,
		Summary:   j.Reason,
		Metrics:   metrics,
		Source:    j.Source,
		Mode:      j.Meta.Mode,
		Model:     j.Meta.Model,
		CreatedAt: now,
	}
	if err := s.store.UpsertDigest(ctx, d); err != nil {
		s.logger.Error("digest: write failed, returning unsaved digest", "date", date, "error", err)
	}
	return d, nil
}
