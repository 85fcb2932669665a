package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
)

// RecordCronRun appends one job run. Missing StartedAt defaults to now and
// DurationMs is derived when both timestamps are present.
func (db *DB) RecordCronRun(ctx context.Context, run model.CronRun) (model.CronRun, error) {
	run = normalizeCronRun(run)
	err := db.pool.QueryRow(ctx,
		`INSERT INTO cron_job_runs (job_name, status, started_at, completed_at, duration_ms, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		run.JobName, run.Status, run.StartedAt, run.CompletedAt, run.DurationMs, run.ErrorMessage,
	).Scan(&run.ID)
	if err != nil {
		return model.CronRun{}, fmt.Errorf("storage: record cron run: %w", err)
	}
	return run, nil
}

// CronSnapshot returns the most recent success and failure times for job.
func (db *DB) CronSnapshot(ctx context.Context, job string) (model.CronSnapshot, error) {
	snap := model.CronSnapshot{JobName: job}
	err := db.pool.QueryRow(ctx,
		`SELECT
		    MAX(COALESCE(completed_at, started_at)) FILTER (WHERE status = 'success'),
		    MAX(COALESCE(completed_at, started_at)) FILTER (WHERE status = 'failed')
		 FROM cron_job_runs WHERE job_name = $1`, job,
	).Scan(&snap.LastSuccessAt, &snap.LastFailureAt)
	if err != nil {
		return model.CronSnapshot{}, fmt.Errorf("storage: cron snapshot: %w", err)
	}
	return snap, nil
}

func normalizeCronRun(run model.CronRun) model.CronRun {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.CompletedAt != nil && run.DurationMs == nil {
		d := int(run.CompletedAt.Sub(run.StartedAt).Milliseconds())
		if d < 0 {
			d = 0
		}
		run.DurationMs = &d
	}
	return run
}
