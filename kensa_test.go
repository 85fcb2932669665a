package kensa

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/testutil"
)

type captureNotifier struct {
	got []Alert
}

func (c *captureNotifier) Notify(_ context.Context, alerts []Alert) error {
	c.got = append(c.got, alerts...)
	return nil
}

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KENSA_ADMIN_API_KEY", "root-test-admin")
	t.Setenv("KENSA_LLM_PROVIDER", "disabled")
	t.Setenv("KENSA_AI_MODE", "disabled")
	t.Setenv("KENSA_ALERT_WATCH", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

func TestNew_SQLiteWithMiddleware(t *testing.T) {
	setTestEnv(t)

	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	app, err := New(
		WithSQLitePath("file:kensa_root_test?mode=memory&cache=shared"),
		WithLogger(testutil.TestLogger()),
		WithVersion("test"),
		WithMiddleware(mw("first")),
		WithMiddleware(mw("second")),
	)
	require.NoError(t, err)
	assert.Nil(t, app.watcher, "watcher disabled by config")
	assert.Equal(t, "test", app.version)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"first", "second"}, order)

	require.NoError(t, app.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	setTestEnv(t)
	t.Setenv("KENSA_AI_MAX_RETRIES", "5")

	_, err := New(WithSQLitePath("file:kensa_root_bad?mode=memory&cache=shared"), WithLogger(testutil.TestLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KENSA_AI_MAX_RETRIES")
}

func TestOptions(t *testing.T) {
	var o resolvedOptions
	for _, fn := range []Option{
		WithPort(9090),
		WithDatabaseURL("postgres://x"),
		WithAlertNotifier(&captureNotifier{}),
	} {
		fn(&o)
	}
	assert.Equal(t, 9090, o.port)
	assert.Equal(t, "postgres", o.storeDriver)
	assert.Equal(t, "postgres://x", o.databaseURL)
	assert.Len(t, o.notifiers, 1)

	WithSQLitePath("kensa.db")(&o)
	assert.Equal(t, "sqlite", o.storeDriver)
	assert.Equal(t, "kensa.db", o.sqlitePath)
}

func TestNotifierAdapter(t *testing.T) {
	c := &captureNotifier{}
	adapter := &notifierAdapter{n: c}
	now := time.Now().UTC()
	reason := "known"

	err := adapter.Notify(context.Background(), []model.Alert{{
		ID:          "emergency-cron-missing",
		Area:        "emergency_cron",
		Severity:    model.SeverityCritical,
		Message:     "no emergency verification run recorded",
		TriggeredAt: now,
		Suppressed:  true,
		Override:    &model.Override{Service: "emergency_cron", Reason: &reason},
		Meta:        map[string]any{"job": "emergency-verify"},
	}})
	require.NoError(t, err)
	require.Len(t, c.got, 1)
	got := c.got[0]
	assert.Equal(t, "emergency-cron-missing", got.ID)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.True(t, got.Suppressed)
	assert.Equal(t, now, got.TriggeredAt)
	assert.Equal(t, "emergency-verify", got.Meta["job"])
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("info").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("error").Enabled(ctx, slog.LevelWarn))
}
