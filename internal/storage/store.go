package storage

import (
	"context"
	"math"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
)

// FallbackStore is the append-only fallback event log.
type FallbackStore interface {
	RecordFallback(ctx context.Context, ev model.FallbackEvent) error
	// IdentityFallbackStats counts identity fallback events and verified
	// entries of the identity check log since the given time. Both sides
	// count one row per check.
	IdentityFallbackStats(ctx context.Context, since time.Time) (model.FallbackStats, error)
}

// LatencyStore persists latency samples.
type LatencyStore interface {
	InsertLatencySamples(ctx context.Context, samples []model.LatencySample) (int64, error)
	// RecentLatency returns up to limit samples for area since the given
	// time, newest first.
	RecentLatency(ctx context.Context, area model.LatencyArea, since time.Time, limit int) ([]model.LatencySample, error)
}

// OverrideStore persists operator overrides keyed by service. Expiry is
// evaluated by readers, not by the store.
type OverrideStore interface {
	UpsertOverride(ctx context.Context, o model.Override) (model.Override, error)
	DeleteOverride(ctx context.Context, service string) error
	GetOverride(ctx context.Context, service string) (model.Override, error)
	ListOverrides(ctx context.Context) ([]model.Override, error)
}

// LedgerStore is the decision ledger, one row per (domain, subject).
type LedgerStore interface {
	UpsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error
	GetLedgerEntry(ctx context.Context, domain string, subjectID int64) (model.LedgerEntry, error)
	// DecidedSubjects returns which of ids already have a ledger row.
	DecidedSubjects(ctx context.Context, domain string, ids []int64) (map[int64]bool, error)
}

// CronStore records background job heartbeats.
type CronStore interface {
	RecordCronRun(ctx context.Context, run model.CronRun) (model.CronRun, error)
	CronSnapshot(ctx context.Context, job string) (model.CronSnapshot, error)
}

// PaymentStore records payment audit events.
type PaymentStore interface {
	RecordPaymentEvent(ctx context.Context, e model.PaymentEvent) error
	PaymentStats(ctx context.Context, since time.Time) (model.PaymentStats, error)
}

// IdentityStore records identity verification outcomes.
type IdentityStore interface {
	// RecordIdentityCheck appends one check to the check log.
	RecordIdentityCheck(ctx context.Context, c model.IdentityCheck) error
	UpsertIdentityVerification(ctx context.Context, v model.IdentityVerification) error
}

// ReviewStore is the moderation queue.
type ReviewStore interface {
	CreateReview(ctx context.Context, r model.Review) (model.Review, error)
	PendingReviews(ctx context.Context, limit int) ([]model.Review, error)
	ApproveReview(ctx context.Context, id int64) error
	RejectReview(ctx context.Context, id int64, reason string) error
}

// DigestStore holds one ops digest per day.
type DigestStore interface {
	GetDigest(ctx context.Context, date string) (model.Digest, error)
	UpsertDigest(ctx context.Context, d model.Digest) error
	OpsMetrics(ctx context.Context, since time.Time) (model.OpsMetrics, error)
}

// OperatorStore holds API-key principals.
type OperatorStore interface {
	CreateOperator(ctx context.Context, op model.Operator) (model.Operator, error)
	GetOperator(ctx context.Context, operatorID string) (model.Operator, error)
	CountOperators(ctx context.Context) (int, error)
}

// Store is everything kensa persists. Implemented by *DB (Postgres) and
// sqlite.Store.
type Store interface {
	FallbackStore
	LatencyStore
	OverrideStore
	LedgerStore
	CronStore
	PaymentStore
	IdentityStore
	ReviewStore
	DigestStore
	OperatorStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// MaxLatencyLimit caps RecentLatency reads.
const MaxLatencyLimit = 5000

// NewFallbackStats derives the rate fallback / (fallback + verified).
func NewFallbackStats(fallback, verified int, byReason []model.ReasonCount, since time.Time) model.FallbackStats {
	s := model.FallbackStats{
		FallbackCount: fallback,
		VerifiedCount: verified,
		SampleSize:    fallback + verified,
		ByReason:      byReason,
		Since:         since,
	}
	if s.SampleSize > 0 {
		s.Rate = float64(fallback) / float64(s.SampleSize)
	}
	return s
}

// AccuracyPct returns agreed/total as a percentage rounded to one decimal,
// or nil when total is zero.
func AccuracyPct(agreed, total int) *float64 {
	if total == 0 {
		return nil
	}
	pct := math.Round(float64(agreed)/float64(total)*1000) / 10
	return &pct
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxLatencyLimit {
		return MaxLatencyLimit
	}
	return limit
}
