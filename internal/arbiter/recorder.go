package arbiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
)

// LedgerWriter persists the latest judgment per (domain, subject).
type LedgerWriter interface {
	UpsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error
}

// FallbackRecorder appends fallback events.
type FallbackRecorder interface {
	RecordFallback(ctx context.Context, ev model.FallbackEvent) error
}

// bookkeepingTimeout bounds ledger and fallback writes. They run detached
// from the request context so a client hang-up does not lose the record.
const bookkeepingTimeout = 5 * time.Second

// Recorder is the only writer of ledger entries and fallback events. Write
// failures are logged and swallowed; a judgment is never failed because its
// bookkeeping could not be stored.
type Recorder struct {
	ledger    LedgerWriter
	fallbacks FallbackRecorder
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. Either writer may be nil to skip that
// kind of record.
func NewRecorder(ledger LedgerWriter, fallbacks FallbackRecorder, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{ledger: ledger, fallbacks: fallbacks, logger: logger}
}

// Record upserts the ledger entry for j. A zero or negative subjectID has no
// ledger row and is skipped.
func (r *Recorder) Record(ctx context.Context, domain string, subjectID int64, j model.Judgment, raw []byte) {
	if r == nil || r.ledger == nil || subjectID <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := r.ledger.UpsertLedgerEntry(ctx, model.LedgerEntryFromJudgment(domain, subjectID, j, raw)); err != nil {
		r.logger.Error("arbiter: ledger write failed",
			"domain", domain, "subject_id", subjectID, "error", err)
	}
}

// Fallback appends a fallback event.
func (r *Recorder) Fallback(ctx context.Context, domain string, subjectID int64, reason model.FallbackReason) {
	if r == nil || r.fallbacks == nil {
		return
	}
	ev := model.FallbackEvent{Domain: domain, Reason: reason, OccurredAt: time.Now().UTC()}
	if subjectID > 0 {
		ev.SubjectID = &subjectID
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := r.fallbacks.RecordFallback(ctx, ev); err != nil {
		r.logger.Error("arbiter: fallback event write failed",
			"domain", domain, "reason", reason, "error", err)
	}
}
