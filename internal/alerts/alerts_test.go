package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensa/internal/model"
)

var testNow = time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)

type fakeCron struct {
	snap model.CronSnapshot
	err  error
}

func (f fakeCron) RecordCronRun(_ context.Context, r model.CronRun) (model.CronRun, error) {
	return r, nil
}

func (f fakeCron) CronSnapshot(_ context.Context, job string) (model.CronSnapshot, error) {
	s := f.snap
	s.JobName = job
	return s, f.err
}

type fakeFallbacks struct{ stats model.FallbackStats }

func (f fakeFallbacks) RecordFallback(context.Context, model.FallbackEvent) error { return nil }

func (f fakeFallbacks) IdentityFallbackStats(context.Context, time.Time) (model.FallbackStats, error) {
	return f.stats, nil
}

type fakePayments struct{ stats model.PaymentStats }

func (f fakePayments) RecordPaymentEvent(context.Context, model.PaymentEvent) error { return nil }

func (f fakePayments) PaymentStats(context.Context, time.Time) (model.PaymentStats, error) {
	return f.stats, nil
}

type fakeLatency map[model.LatencyArea]*model.LatencySummary

func (f fakeLatency) Summarize(_ context.Context, area model.LatencyArea, _ time.Duration) *model.LatencySummary {
	return f[area]
}

type fakeOverrides map[string]model.Override

func (f fakeOverrides) ActiveAll(context.Context) (map[string]model.Override, error) {
	return f, nil
}

func healthyCron() fakeCron {
	last := testNow.Add(-5 * time.Minute)
	return fakeCron{snap: model.CronSnapshot{LastSuccessAt: &last}}
}

func p95(ms int) *model.LatencySummary {
	return &model.LatencySummary{Count: 50, AvgMs: ms / 2, P95Ms: ms, SuccessRate: 1}
}

func newTestEvaluator(src Sources) *Evaluator {
	return NewEvaluator(src, DefaultThresholds(), nil, WithClock(func() time.Time { return testNow }))
}

func ids(alerts []model.Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.ID
	}
	return out
}

func TestSnapshot_Quiet(t *testing.T) {
	e := newTestEvaluator(Sources{
		Cron:      healthyCron(),
		Fallbacks: fakeFallbacks{},
		Payments:  fakePayments{},
		Latency:   fakeLatency{model.AreaSearchTriage: p95(900)},
	})
	snap := e.Snapshot(context.Background())
	assert.Empty(t, snap.Alerts)
	assert.Equal(t, testNow, snap.GeneratedAt)
}

func TestSnapshot_CronStaleAndMissing(t *testing.T) {
	last := testNow.Add(-45 * time.Minute)
	snap := newTestEvaluator(Sources{Cron: fakeCron{snap: model.CronSnapshot{LastSuccessAt: &last}}}).
		Snapshot(context.Background())
	require.Len(t, snap.Alerts, 1)
	a := snap.Alerts[0]
	assert.Equal(t, RuleEmergencyCronStale, a.ID)
	assert.Equal(t, model.SeverityCritical, a.Severity)
	assert.Equal(t, "Emergency cron last success 45.0m ago", a.Message)
	assert.Equal(t, last, a.Meta["last_success"])

	snap = newTestEvaluator(Sources{Cron: fakeCron{}}).Snapshot(context.Background())
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, RuleEmergencyCronMissing, snap.Alerts[0].ID)
	assert.Equal(t, "Emergency cron has no recorded successes", snap.Alerts[0].Message)
}

func TestSnapshot_UnreadableSignalFiresNothing(t *testing.T) {
	snap := newTestEvaluator(Sources{Cron: fakeCron{err: errors.New("db down")}}).
		Snapshot(context.Background())
	assert.Empty(t, snap.Alerts)
}

func TestSnapshot_FallbackRateNeedsSample(t *testing.T) {
	small := model.FallbackStats{FallbackCount: 4, VerifiedCount: 1, SampleSize: 5, Rate: 0.8}
	snap := newTestEvaluator(Sources{Fallbacks: fakeFallbacks{small}}).Snapshot(context.Background())
	assert.Empty(t, snap.Alerts)

	big := model.FallbackStats{FallbackCount: 5, VerifiedCount: 7, SampleSize: 12, Rate: 5.0 / 12.0}
	snap = newTestEvaluator(Sources{Fallbacks: fakeFallbacks{big}}).Snapshot(context.Background())
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, RuleABNFallbackRate, snap.Alerts[0].ID)
	assert.Equal(t, "ABN fallback rate 41.7% over last 24h", snap.Alerts[0].Message)
}

func TestSnapshot_HealthSuccessRates(t *testing.T) {
	snap := newTestEvaluator(Sources{Latency: fakeLatency{
		model.AreaAIHealthEndpoint:    {Count: 10, SuccessRate: 0.7},
		model.AreaAdminHealthEndpoint: {Count: 10, SuccessRate: 0.8},
	}}).Snapshot(context.Background())
	require.Len(t, snap.Alerts, 1, "0.8 is not below the 0.8 limit")
	assert.Equal(t, RuleAIHealthDegraded, snap.Alerts[0].ID)
	assert.Equal(t, "AI health success rate 70%", snap.Alerts[0].Message)
}

func TestSnapshot_LatencyRules(t *testing.T) {
	snap := newTestEvaluator(Sources{Latency: fakeLatency{
		model.AreaSearchTriage:       p95(3001),
		model.AreaEmergencyTriageAPI: p95(3500),
		model.AreaEmergencyVerifyAPI: p95(5000),
		model.AreaABNVerifyAPI:       p95(3600),
		model.AreaOnboardingAPI:      p95(4000),
		model.AreaTrainerProfilePage: p95(9000),
	}}).Snapshot(context.Background())

	assert.Equal(t, []string{
		RuleSearchLatency,
		RuleEmergencyTriageLatency,
		RuleABNVerifyLatency,
		RuleOnboardingLatency,
	}, ids(snap.Alerts), "verify at the limit does not fire; trainer profile is masked by search")
	assert.Equal(t, "Search P95 3001ms", snap.Alerts[0].Message)
	assert.Equal(t, "ABN verify P95 3600ms", snap.Alerts[2].Message)
}

func TestSnapshot_TrainerProfileWhenSearchHealthy(t *testing.T) {
	snap := newTestEvaluator(Sources{Latency: fakeLatency{
		model.AreaSearchTriage:       p95(1000),
		model.AreaTrainerProfilePage: p95(3200),
	}}).Snapshot(context.Background())
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, "Trainer profile SSR P95 3200ms", snap.Alerts[0].Message)
}

func TestSnapshot_Payments(t *testing.T) {
	tests := []struct {
		name     string
		stats    model.PaymentStats
		want     []string
		severity model.Severity
		message  string
	}{
		{"below limit", model.PaymentStats{Total: 20, Failures: 3, FailureRate: 0.15}, nil, "", ""},
		{"warning", model.PaymentStats{Total: 10, Failures: 2, FailureRate: 0.2},
			[]string{RulePaymentFailures}, model.SeverityWarning, "Payment failures 20.0% (2/10)"},
		{"critical", model.PaymentStats{Total: 10, Failures: 4, FailureRate: 0.4},
			[]string{RulePaymentFailures}, model.SeverityCritical, "Payment failures 40.0% (4/10)"},
		{"sync errors", model.PaymentStats{Total: 5, SyncErrors: 3},
			[]string{RuleMonetizationSyncErrors}, model.SeverityCritical, "Subscription sync errors: 3 / 24h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := newTestEvaluator(Sources{Payments: fakePayments{tt.stats}}).Snapshot(context.Background())
			if tt.want == nil {
				assert.Empty(t, snap.Alerts)
				return
			}
			assert.Equal(t, tt.want, ids(snap.Alerts))
			assert.Equal(t, tt.severity, snap.Alerts[0].Severity)
			assert.Equal(t, tt.message, snap.Alerts[0].Message)
		})
	}
}

func TestSnapshot_SortsCriticalFirstAndStable(t *testing.T) {
	snap := newTestEvaluator(Sources{
		Cron:     fakeCron{},
		Payments: fakePayments{model.PaymentStats{Total: 10, Failures: 2, FailureRate: 0.2, SyncErrors: 4}},
		Latency:  fakeLatency{model.AreaSearchTriage: p95(4000), model.AreaOnboardingAPI: p95(4000)},
	}).Snapshot(context.Background())
	assert.Equal(t, []string{
		RuleEmergencyCronMissing,
		RuleMonetizationSyncErrors,
		RuleSearchLatency,
		RuleOnboardingLatency,
		RulePaymentFailures,
	}, ids(snap.Alerts))
}

func TestSnapshot_OverrideSuppresses(t *testing.T) {
	reason := "stripe incident"
	o := model.Override{
		Service:   ServiceMonetization,
		Status:    model.OverrideInvestigating,
		Reason:    &reason,
		ExpiresAt: testNow.Add(time.Hour),
	}
	snap := newTestEvaluator(Sources{
		Payments:  fakePayments{model.PaymentStats{Total: 10, SyncErrors: 5}},
		Latency:   fakeLatency{model.AreaSearchTriage: p95(4000)},
		Overrides: fakeOverrides{ServiceMonetization: o},
	}).Snapshot(context.Background())

	require.Len(t, snap.Alerts, 2)
	syncAlert := snap.Alerts[0]
	assert.Equal(t, RuleMonetizationSyncErrors, syncAlert.ID)
	assert.True(t, syncAlert.Suppressed)
	require.NotNil(t, syncAlert.Override)
	assert.Equal(t, "stripe incident", *syncAlert.Override.Reason)

	assert.False(t, snap.Alerts[1].Suppressed, "search has no service and cannot be suppressed")
}

func TestSnapshot_ABNRecheckOverrideExpires(t *testing.T) {
	now := testNow
	o := model.Override{
		Service:   ServiceABNRecheck,
		Status:    model.OverrideTemporarilyDown,
		ExpiresAt: testNow.Add(30 * time.Minute),
	}
	e := NewEvaluator(Sources{
		Fallbacks: fakeFallbacks{model.FallbackStats{FallbackCount: 6, VerifiedCount: 4, SampleSize: 10, Rate: 0.6}},
		Overrides: fakeOverrides{ServiceABNRecheck: o},
	}, DefaultThresholds(), nil, WithClock(func() time.Time { return now }))

	snap := e.Snapshot(context.Background())
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, RuleABNFallbackRate, snap.Alerts[0].ID)
	assert.True(t, snap.Alerts[0].Suppressed)
	require.NotNil(t, snap.Alerts[0].Override)
	assert.Equal(t, ServiceABNRecheck, snap.Alerts[0].Override.Service)

	// An override read back after its expiry no longer suppresses.
	now = o.ExpiresAt.Add(time.Second)
	snap = e.Snapshot(context.Background())
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, RuleABNFallbackRate, snap.Alerts[0].ID)
	assert.False(t, snap.Alerts[0].Suppressed)
	assert.Nil(t, snap.Alerts[0].Override)
}

func TestParseThresholds(t *testing.T) {
	th, err := ParseThresholds([]byte("search_p95_ms: 2500\nfallback_min_sample: 20\n"))
	require.NoError(t, err)
	assert.Equal(t, 2500, th.SearchP95Ms)
	assert.Equal(t, 20, th.FallbackMinSample)
	assert.Equal(t, DefaultThresholds().OnboardingP95Ms, th.OnboardingP95Ms)

	th, err = ParseThresholds(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholds(), th)

	_, err = ParseThresholds([]byte("serch_p95_ms: 1\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = ParseThresholds([]byte("fallback_rate: 1.5\nsearch_p95_ms: -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback_rate")
	assert.Contains(t, err.Error(), "search_p95_ms")
}

func TestLoadThresholds_EmptyPathIsDefault(t *testing.T) {
	th, err := LoadThresholds("")
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholds(), th)

	_, err = LoadThresholds("/nonexistent/thresholds.yaml")
	assert.Error(t, err)
}

// scriptedSnapshots returns the queued snapshots in order, repeating the last.
type scriptedSnapshots struct {
	mu    sync.Mutex
	snaps []model.AlertSnapshot
}

func (s *scriptedSnapshots) Snapshot(context.Context) model.AlertSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snaps[0]
	if len(s.snaps) > 1 {
		s.snaps = s.snaps[1:]
	}
	return snap
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  [][]model.Alert
	fails int
}

func (r *recordingNotifier) Notify(_ context.Context, alerts []model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return errors.New("unreachable")
	}
	r.sent = append(r.sent, alerts)
	return nil
}

func snapAt(at time.Time, alerts ...model.Alert) model.AlertSnapshot {
	return model.AlertSnapshot{GeneratedAt: at, Alerts: alerts}
}

func TestWatcher_NotifiesNewAndRenotifies(t *testing.T) {
	stale := model.Alert{ID: RuleEmergencyCronStale, Severity: model.SeverityCritical}
	quiet := model.Alert{ID: RuleSearchLatency, Severity: model.SeverityWarning, Suppressed: true}
	src := &scriptedSnapshots{snaps: []model.AlertSnapshot{
		snapAt(testNow, stale, quiet),
		snapAt(testNow.Add(time.Minute), stale),
		snapAt(testNow.Add(31*time.Minute), stale),
		snapAt(testNow.Add(32 * time.Minute)),
		snapAt(testNow.Add(33*time.Minute), stale),
	}}
	n := &recordingNotifier{}
	w := NewWatcher(src, n, time.Minute, 30*time.Minute, nil)
	ctx := context.Background()

	assert.Equal(t, []string{RuleEmergencyCronStale}, ids(w.Tick(ctx)), "suppressed alerts are not sent")
	assert.Empty(t, w.Tick(ctx), "still firing within renotify window")
	assert.Len(t, w.Tick(ctx), 1, "renotify after the window")
	assert.Empty(t, w.Tick(ctx))
	assert.Len(t, w.Tick(ctx), 1, "cleared then fired again")
	assert.Len(t, n.sent, 3)
}

func TestWatcher_RetriesAfterNotifyFailure(t *testing.T) {
	a := model.Alert{ID: RuleMonetizationSyncErrors, Severity: model.SeverityCritical}
	src := &scriptedSnapshots{snaps: []model.AlertSnapshot{snapAt(testNow, a), snapAt(testNow.Add(time.Minute), a)}}
	n := &recordingNotifier{fails: 1}
	w := NewWatcher(src, n, time.Minute, time.Hour, nil)

	assert.Empty(t, w.Tick(context.Background()))
	assert.Len(t, w.Tick(context.Background()), 1)
}

func TestWatcher_StartStop(t *testing.T) {
	src := &scriptedSnapshots{snaps: []model.AlertSnapshot{snapAt(testNow, model.Alert{ID: "x"})}}
	n := &recordingNotifier{}
	w := NewWatcher(src, n, 5*time.Millisecond, time.Hour, nil)
	w.Start(context.Background())
	w.Start(context.Background())

	require.Eventually(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return len(n.sent) == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
}

func TestMultiNotifierJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{fails: 1}
	err := MultiNotifier{bad, LogNotifier{}, ok}.Notify(context.Background(), []model.Alert{{ID: "x"}})
	require.Error(t, err)
	assert.Len(t, ok.sent, 1, "one failing notifier does not block the rest")
}
