package storage_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/storage"
	"github.com/ashita-ai/kensa/internal/testutil"
	"github.com/ashita-ai/kensa/migrations"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

var seq atomic.Int64

// uniqueID returns an id no other test in this run uses.
func uniqueID() int64 { return time.Now().UnixNano()%1_000_000_000 + seq.Add(1)*1_000_000_000 }

func ptr[T any](v T) *T { return &v }

func TestRunMigrations_Idempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}

func TestLedger_UpsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	subject := uniqueID()

	first := model.LedgerEntry{
		Domain: model.DomainTriage, SubjectID: subject, Action: "normal", Confidence: 0.35,
		Source: model.SourceHeuristic, Mode: model.ModeLive,
	}
	require.NoError(t, testDB.UpsertLedgerEntry(ctx, first))

	second := first
	second.Action = "medical"
	second.Confidence = 0.9
	second.Source = model.SourceAI
	second.Provider = "zai"
	second.RawResponse = []byte(`{"classification":"medical"}`)
	require.NoError(t, testDB.UpsertLedgerEntry(ctx, second))

	var n int
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM decision_ledger WHERE domain = $1 AND subject_id = $2`, model.DomainTriage, subject,
	).Scan(&n))
	assert.Equal(t, 1, n)

	got, err := testDB.GetLedgerEntry(ctx, model.DomainTriage, subject)
	require.NoError(t, err)
	assert.Equal(t, "medical", got.Action)
	assert.Equal(t, model.SourceAI, got.Source)
	assert.JSONEq(t, `{"classification":"medical"}`, string(got.RawResponse))
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	decided, err := testDB.DecidedSubjects(ctx, model.DomainTriage, []int64{subject, subject + 1})
	require.NoError(t, err)
	assert.True(t, decided[subject])
	assert.False(t, decided[subject+1])
}

func TestLedger_NotFound(t *testing.T) {
	_, err := testDB.GetLedgerEntry(context.Background(), model.DomainModeration, -1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLatency_CopyAndRecent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	samples := []model.LatencySample{
		{Area: model.AreaOnboardingAPI, Route: "/api/onboarding", DurationMs: 100, OccurredAt: now.Add(-3 * time.Minute)},
		{Area: model.AreaOnboardingAPI, Route: "/api/onboarding", DurationMs: 200, Success: ptr(false), StatusCode: ptr(500), OccurredAt: now.Add(-2 * time.Minute)},
		{Area: model.AreaOnboardingAPI, Route: "/api/onboarding", DurationMs: 300, Success: ptr(true), Metadata: map[string]any{"k": "v"}, OccurredAt: now.Add(-time.Minute)},
		{Area: model.AreaOnboardingAPI, Route: "/api/onboarding", DurationMs: 999, OccurredAt: now.Add(-48 * time.Hour)},
	}
	n, err := testDB.InsertLatencySamples(ctx, samples)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	got, err := testDB.RecentLatency(ctx, model.AreaOnboardingAPI, now.Add(-time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 300, got[0].DurationMs, "newest first")
	assert.Equal(t, "v", got[0].Metadata["k"])
	assert.True(t, got[1].Failed())
}

func TestOverrides_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	service := fmt.Sprintf("svc-%d", uniqueID())
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := testDB.UpsertOverride(ctx, model.Override{
		Service: service, Status: model.OverrideInvestigating, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	})
	require.NoError(t, err)
	o, err := testDB.UpsertOverride(ctx, model.Override{
		Service: service, Status: model.OverrideTemporarilyDown, Reason: ptr("provider outage"),
		ExpiresAt: now.Add(2 * time.Hour), CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OverrideTemporarilyDown, o.Status)

	all, err := testDB.ListOverrides(ctx)
	require.NoError(t, err)
	count := 0
	for _, x := range all {
		if x.Service == service {
			count++
		}
	}
	assert.Equal(t, 1, count)

	require.NoError(t, testDB.DeleteOverride(ctx, service))
	_, err = testDB.GetOverride(ctx, service)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, testDB.DeleteOverride(ctx, service), "deleting twice is fine")
}

func TestIdentityFallbackStats(t *testing.T) {
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, testDB.RecordFallback(ctx, model.FallbackEvent{
			Domain: model.DomainIdentity, Reason: model.ReasonIdentityInactive,
		}))
	}
	// Other domains never count towards the identity rate.
	require.NoError(t, testDB.RecordFallback(ctx, model.FallbackEvent{
		Domain: model.DomainTriage, Reason: model.AIErrorReason(model.DomainTriage),
	}))
	// Checks count whether or not they carry a business.
	require.NoError(t, testDB.RecordIdentityCheck(ctx, model.IdentityCheck{Identifier: "51824753556", Verified: true}))
	require.NoError(t, testDB.RecordIdentityCheck(ctx, model.IdentityCheck{
		BusinessID: ptr(uniqueID()), Identifier: "51824753556", Verified: true,
	}))
	require.NoError(t, testDB.RecordIdentityCheck(ctx, model.IdentityCheck{
		Identifier: "51824753556", Reason: model.ReasonIdentityInactive,
	}))

	stats, err := testDB.IdentityFallbackStats(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FallbackCount)
	assert.Equal(t, 2, stats.VerifiedCount)
	assert.InDelta(t, 0.6, stats.Rate, 1e-9)
}

func TestCronSnapshot(t *testing.T) {
	ctx := context.Background()
	job := fmt.Sprintf("job-%d", uniqueID())

	snap, err := testDB.CronSnapshot(ctx, job)
	require.NoError(t, err)
	assert.Nil(t, snap.LastSuccessAt)

	started := time.Now().UTC().Add(-time.Minute)
	completed := started.Add(10 * time.Second)
	run, err := testDB.RecordCronRun(ctx, model.CronRun{JobName: job, Status: model.CronStatusSuccess, StartedAt: started, CompletedAt: &completed})
	require.NoError(t, err)
	require.NotNil(t, run.DurationMs)
	assert.Equal(t, 10000, *run.DurationMs)

	_, err = testDB.RecordCronRun(ctx, model.CronRun{JobName: job, Status: model.CronStatusFailed})
	require.NoError(t, err)

	snap, err = testDB.CronSnapshot(ctx, job)
	require.NoError(t, err)
	require.NotNil(t, snap.LastSuccessAt)
	assert.WithinDuration(t, completed, *snap.LastSuccessAt, time.Millisecond)
	assert.NotNil(t, snap.LastFailureAt)
}

func TestReviews_PendingOldestFirst(t *testing.T) {
	ctx := context.Background()
	business := uniqueID()
	base := time.Now().UTC().Add(-time.Hour)

	newer, err := testDB.CreateReview(ctx, model.Review{BusinessID: business, Rating: 5, Content: "newer", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	older, err := testDB.CreateReview(ctx, model.Review{BusinessID: business, Rating: 1, Content: "older", CreatedAt: base})
	require.NoError(t, err)

	require.NoError(t, testDB.RejectReview(ctx, newer.ID, "spam"))

	pending, err := testDB.PendingReviews(ctx, 1000)
	require.NoError(t, err)
	var ids []int64
	for _, r := range pending {
		if r.BusinessID == business {
			ids = append(ids, r.ID)
		}
	}
	assert.Equal(t, []int64{older.ID}, ids)

	assert.ErrorIs(t, testDB.ApproveReview(ctx, -5), storage.ErrNotFound)
}

func TestDigest_UpsertByDate(t *testing.T) {
	ctx := context.Background()
	date := "2031-01-02"

	require.NoError(t, testDB.UpsertDigest(ctx, model.Digest{Date: date, Summary: "first", Source: model.SourceHeuristic, Mode: model.ModeDisabled}))
	require.NoError(t, testDB.UpsertDigest(ctx, model.Digest{
		Date: date, Summary: "second", Source: model.SourceAI, Mode: model.ModeLive,
		Metrics: model.OpsMetrics{ErrorsLast24h: 4},
	}))

	d, err := testDB.GetDigest(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, "second", d.Summary)
	assert.Equal(t, date, d.Date)
	assert.Equal(t, 4, d.Metrics.ErrorsLast24h)

	_, err = testDB.GetDigest(ctx, "2031-01-03")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPaymentStats(t *testing.T) {
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Second)
	for _, e := range []model.PaymentEvent{
		{EventType: "invoice.paid", Status: "ok"},
		{EventType: "invoice.payment_failed", Status: "ok"},
		{EventType: "subscription_sync_error", Status: "ok"},
		{EventType: "checkout.session.completed", Status: "sync_error"},
	} {
		require.NoError(t, testDB.RecordPaymentEvent(ctx, e))
	}
	stats, err := testDB.PaymentStats(ctx, since)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Total, 4)
	assert.GreaterOrEqual(t, stats.Failures, 1)
	assert.GreaterOrEqual(t, stats.SyncErrors, 2)
}

func TestOperators(t *testing.T) {
	ctx := context.Background()
	id := fmt.Sprintf("op-%d", uniqueID())
	op, err := testDB.CreateOperator(ctx, model.Operator{OperatorID: id, Name: "On Call", Role: model.RoleOperator})
	require.NoError(t, err)

	got, err := testDB.GetOperator(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, model.RoleOperator, got.Role)

	n, err := testDB.CountOperators(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	_, err = testDB.GetOperator(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
