package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
)

// RecordFallback appends one fallback event.
func (db *DB) RecordFallback(ctx context.Context, ev model.FallbackEvent) error {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO fallback_events (domain, subject_id, reason, occurred_at) VALUES ($1, $2, $3, $4)`,
		ev.Domain, ev.SubjectID, string(ev.Reason), occurred,
	)
	if err != nil {
		return fmt.Errorf("storage: record fallback: %w", err)
	}
	return nil
}

// IdentityFallbackStats returns fallback and verified counts for identity
// checks since the given time.
func (db *DB) IdentityFallbackStats(ctx context.Context, since time.Time) (model.FallbackStats, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT reason, COUNT(*)::int FROM fallback_events
		 WHERE domain = $1 AND occurred_at >= $2
		 GROUP BY reason ORDER BY COUNT(*) DESC, reason`,
		model.DomainIdentity, since,
	)
	if err != nil {
		return model.FallbackStats{}, fmt.Errorf("storage: fallback stats: %w", err)
	}
	defer rows.Close()

	var byReason []model.ReasonCount
	fallback := 0
	for rows.Next() {
		var rc model.ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return model.FallbackStats{}, fmt.Errorf("storage: scan fallback stats: %w", err)
		}
		fallback += rc.Count
		byReason = append(byReason, rc)
	}
	if err := rows.Err(); err != nil {
		return model.FallbackStats{}, fmt.Errorf("storage: fallback stats: %w", err)
	}

	var verified int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*)::int FROM identity_checks WHERE verified AND checked_at >= $1`, since,
	).Scan(&verified); err != nil {
		return model.FallbackStats{}, fmt.Errorf("storage: verified count: %w", err)
	}

	return NewFallbackStats(fallback, verified, byReason, since), nil
}
