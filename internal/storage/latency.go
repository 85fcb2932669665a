package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kensa/internal/model"
)

// InsertLatencySamples inserts samples using the COPY protocol.
func (db *DB) InsertLatencySamples(ctx context.Context, samples []model.LatencySample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	columns := []string{"area", "route", "duration_ms", "success", "status_code", "metadata", "occurred_at"}
	rows := make([][]any, len(samples))
	for i, s := range samples {
		meta := s.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		occurred := s.OccurredAt
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}
		rows[i] = []any{string(s.Area), s.Route, s.DurationMs, s.Success, s.StatusCode, meta, occurred}
	}

	// A hung Postgres must not block the recorder's flush loop indefinitely.
	copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := db.pool.CopyFrom(copyCtx, pgx.Identifier{"latency_samples"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("storage: copy latency samples: %w", err)
	}
	return n, nil
}

// RecentLatency returns up to limit samples for area since the given time,
// newest first.
func (db *DB) RecentLatency(ctx context.Context, area model.LatencyArea, since time.Time, limit int) ([]model.LatencySample, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, area, route, duration_ms, success, status_code, metadata, occurred_at
		 FROM latency_samples
		 WHERE area = $1 AND occurred_at >= $2
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $3`,
		string(area), since, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent latency: %w", err)
	}
	defer rows.Close()

	var out []model.LatencySample
	for rows.Next() {
		var s model.LatencySample
		var a string
		if err := rows.Scan(&s.ID, &a, &s.Route, &s.DurationMs, &s.Success, &s.StatusCode, &s.Metadata, &s.OccurredAt); err != nil {
			return nil, fmt.Errorf("storage: scan latency: %w", err)
		}
		s.Area = model.LatencyArea(a)
		out = append(out, s)
	}
	return out, rows.Err()
}
