package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/storage"
)

// RecordFallback appends one fallback event.
func (s *Store) RecordFallback(ctx context.Context, ev model.FallbackEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fallback_events (domain, subject_id, reason, occurred_at) VALUES (?, ?, ?, ?)`,
		ev.Domain, ev.SubjectID, string(ev.Reason), ms(s.orNow(ev.OccurredAt)),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record fallback: %w", err)
	}
	return nil
}

// IdentityFallbackStats mirrors storage.DB.IdentityFallbackStats.
func (s *Store) IdentityFallbackStats(ctx context.Context, since time.Time) (model.FallbackStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reason, COUNT(*) FROM fallback_events
		 WHERE domain = ? AND occurred_at >= ?
		 GROUP BY reason ORDER BY COUNT(*) DESC, reason`,
		model.DomainIdentity, ms(since),
	)
	if err != nil {
		return model.FallbackStats{}, fmt.Errorf("sqlite: fallback stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var byReason []model.ReasonCount
	fallback := 0
	for rows.Next() {
		var rc model.ReasonCount
		var reason string
		if err := rows.Scan(&reason, &rc.Count); err != nil {
			return model.FallbackStats{}, fmt.Errorf("sqlite: scan fallback stats: %w", err)
		}
		rc.Reason = model.FallbackReason(reason)
		fallback += rc.Count
		byReason = append(byReason, rc)
	}
	if err := rows.Err(); err != nil {
		return model.FallbackStats{}, fmt.Errorf("sqlite: fallback stats: %w", err)
	}

	var verified int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM identity_checks WHERE verified = 1 AND checked_at >= ?`, ms(since),
	).Scan(&verified); err != nil {
		return model.FallbackStats{}, fmt.Errorf("sqlite: verified count: %w", err)
	}
	return storage.NewFallbackStats(fallback, verified, byReason, since), nil
}

// InsertLatencySamples inserts samples in one transaction.
func (s *Store) InsertLatencySamples(ctx context.Context, samples []model.LatencySample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin latency insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO latency_samples (area, route, duration_ms, success, status_code, metadata, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare latency insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, sm := range samples {
		meta, err := marshalMap(sm.Metadata)
		if err != nil {
			return 0, fmt.Errorf("sqlite: marshal latency metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, string(sm.Area), sm.Route, sm.DurationMs, sm.Success, sm.StatusCode,
			meta, ms(s.orNow(sm.OccurredAt))); err != nil {
			return 0, fmt.Errorf("sqlite: insert latency sample: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit latency insert: %w", err)
	}
	return int64(len(samples)), nil
}

// RecentLatency returns up to limit samples for area since the given time,
// newest first.
func (s *Store) RecentLatency(ctx context.Context, area model.LatencyArea, since time.Time, limit int) ([]model.LatencySample, error) {
	if limit <= 0 || limit > storage.MaxLatencyLimit {
		limit = storage.MaxLatencyLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, area, route, duration_ms, success, status_code, metadata, occurred_at
		 FROM latency_samples WHERE area = ? AND occurred_at >= ?
		 ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		string(area), ms(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent latency: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.LatencySample
	for rows.Next() {
		var (
			sm       model.LatencySample
			a, meta  string
			success  sql.NullBool
			status   sql.NullInt64
			occurred int64
		)
		if err := rows.Scan(&sm.ID, &a, &sm.Route, &sm.DurationMs, &success, &status, &meta, &occurred); err != nil {
			return nil, fmt.Errorf("sqlite: scan latency: %w", err)
		}
		sm.Area = model.LatencyArea(a)
		if success.Valid {
			v := success.Bool
			sm.Success = &v
		}
		if status.Valid {
			v := int(status.Int64)
			sm.StatusCode = &v
		}
		if sm.Metadata, err = unmarshalMap(meta); err != nil {
			return nil, fmt.Errorf("sqlite: decode latency metadata: %w", err)
		}
		sm.OccurredAt = fromMs(occurred)
		out = append(out, sm)
	}
	return out, rows.Err()
}

// RecordCronRun appends one job run.
func (s *Store) RecordCronRun(ctx context.Context, run model.CronRun) (model.CronRun, error) {
	run.StartedAt = s.orNow(run.StartedAt)
	var completed *int64
	if run.CompletedAt != nil {
		v := ms(*run.CompletedAt)
		completed = &v
		if run.DurationMs == nil {
			d := max(int(run.CompletedAt.Sub(run.StartedAt).Milliseconds()), 0)
			run.DurationMs = &d
		}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_job_runs (job_name, status, started_at, completed_at, duration_ms, error_message)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.JobName, run.Status, ms(run.StartedAt), completed, run.DurationMs, run.ErrorMessage,
	)
	if err != nil {
		return model.CronRun{}, fmt.Errorf("sqlite: record cron run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return model.CronRun{}, fmt.Errorf("sqlite: cron run id: %w", err)
	}
	return run, nil
}

// CronSnapshot returns the most recent success and failure times for job.
func (s *Store) CronSnapshot(ctx context.Context, job string) (model.CronSnapshot, error) {
	var success, failure sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT
		    MAX(CASE WHEN status = 'success' THEN COALESCE(completed_at, started_at) END),
		    MAX(CASE WHEN status = 'failed' THEN COALESCE(completed_at, started_at) END)
		 FROM cron_job_runs WHERE job_name = ?`, job,
	).Scan(&success, &failure)
	if err != nil {
		return model.CronSnapshot{}, fmt.Errorf("sqlite: cron snapshot: %w", err)
	}
	return model.CronSnapshot{JobName: job, LastSuccessAt: nullMs(success), LastFailureAt: nullMs(failure)}, nil
}

// RecordPaymentEvent appends one payment audit event.
func (s *Store) RecordPaymentEvent(ctx context.Context, e model.PaymentEvent) error {
	meta, err := marshalMap(e.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal payment metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO payment_audit (event_type, status, business_id, metadata, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		e.EventType, e.Status, e.BusinessID, meta, ms(s.orNow(e.OccurredAt)),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record payment event: %w", err)
	}
	return nil
}

// PaymentStats counts failures and sync errors since the given time.
func (s *Store) PaymentStats(ctx context.Context, since time.Time) (model.PaymentStats, error) {
	var st model.PaymentStats
	var failures, syncErrors sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT
		    COUNT(*),
		    SUM(CASE WHEN status = ? OR event_type IN (?, ?) THEN 1 ELSE 0 END),
		    SUM(CASE WHEN status = ? OR event_type = ? THEN 1 ELSE 0 END)
		 FROM payment_audit WHERE occurred_at >= ?`,
		model.PaymentStatusFailed, model.PaymentEventInvoiceFailed, model.PaymentEventSubscriptionDeleted,
		model.PaymentStatusSyncError, model.PaymentEventSyncError, ms(since),
	).Scan(&st.Total, &failures, &syncErrors)
	if err != nil {
		return model.PaymentStats{}, fmt.Errorf("sqlite: payment stats: %w", err)
	}
	st.Failures = int(failures.Int64)
	st.SyncErrors = int(syncErrors.Int64)
	if st.Total > 0 {
		st.FailureRate = float64(st.Failures) / float64(st.Total)
	}
	return st, nil
}
