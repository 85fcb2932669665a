package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kensa/internal/model"
)

// GetDigest returns the digest for date (YYYY-MM-DD).
func (db *DB) GetDigest(ctx context.Context, date string) (model.Digest, error) {
	key, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return model.Digest{}, fmt.Errorf("storage: get digest: %w", err)
	}
	var d model.Digest
	var source, mode string
	var day time.Time
	err = db.pool.QueryRow(ctx,
		`SELECT digest_date, summary, metrics, source, mode, model, created_at FROM ops_digests WHERE digest_date = $1`, key,
	).Scan(&day, &d.Summary, &d.Metrics, &source, &mode, &d.Model, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Digest{}, ErrNotFound
	}
	if err != nil {
		return model.Digest{}, fmt.Errorf("storage: get digest: %w", err)
	}
	d.Date = day.Format(time.DateOnly)
	d.Source = model.Source(source)
	d.Mode = model.Mode(mode)
	return d, nil
}

// UpsertDigest writes the digest for d.Date, replacing any existing one.
func (db *DB) UpsertDigest(ctx context.Context, d model.Digest) error {
	key, err := time.Parse(time.DateOnly, d.Date)
	if err != nil {
		return fmt.Errorf("storage: upsert digest: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO ops_digests (digest_date, summary, metrics, source, mode, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (digest_date) DO UPDATE
		 SET summary = EXCLUDED.summary, metrics = EXCLUDED.metrics, source = EXCLUDED.source,
		     mode = EXCLUDED.mode, model = EXCLUDED.model, created_at = now()`,
		key, d.Summary, d.Metrics, string(d.Source), string(d.Mode), d.Model,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert digest: %w", err)
	}
	return nil
}

// OpsMetrics gathers the digest's daily counters since the given time.
func (db *DB) OpsMetrics(ctx context.Context, since time.Time) (model.OpsMetrics, error) {
	var m model.OpsMetrics
	var agreed, shadowed int
	err := db.pool.QueryRow(ctx, `
		SELECT
		    (SELECT COUNT(*)::int FROM latency_samples
		      WHERE area = $2 AND occurred_at >= $1 AND success IS DISTINCT FROM false),
		    (SELECT COUNT(*)::int FROM identity_verifications WHERE NOT verified),
		    (SELECT COUNT(*)::int FROM decision_ledger WHERE domain = $3 AND updated_at >= $1),
		    (SELECT COUNT(*)::int FROM decision_ledger
		      WHERE domain = $3 AND updated_at >= $1 AND shadow_action <> '' AND shadow_action = action),
		    (SELECT COUNT(*)::int FROM decision_ledger
		      WHERE domain = $3 AND updated_at >= $1 AND shadow_action <> ''),
		    (SELECT COUNT(*)::int FROM cron_job_runs
		      WHERE job_name = $4 AND status = 'failed' AND started_at >= $1),
		    (SELECT COUNT(*)::int FROM latency_samples WHERE occurred_at >= $1 AND success = false)`,
		since, string(model.AreaOnboardingAPI), model.DomainTriage, EmergencyVerifyJob,
	).Scan(&m.OnboardingToday, &m.PendingIdentityManual, &m.EmergencyLogsToday,
		&agreed, &shadowed, &m.EmergencyPendingVerifications, &m.ErrorsLast24h)
	if err != nil {
		return model.OpsMetrics{}, fmt.Errorf("storage: ops metrics: %w", err)
	}
	m.EmergencyAccuracyPct = AccuracyPct(agreed, shadowed)
	return m, nil
}

// EmergencyVerifyJob is the heartbeat name of the emergency verification job.
const EmergencyVerifyJob = "emergency/verify"

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
