package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
)

// RecordPaymentEvent appends one payment audit event.
func (db *DB) RecordPaymentEvent(ctx context.Context, e model.PaymentEvent) error {
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO payment_audit (event_type, status, business_id, metadata, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		e.EventType, e.Status, e.BusinessID, meta, occurred,
	)
	if err != nil {
		return fmt.Errorf("storage: record payment event: %w", err)
	}
	return nil
}

// PaymentStats counts failures and sync errors since the given time.
func (db *DB) PaymentStats(ctx context.Context, since time.Time) (model.PaymentStats, error) {
	var s model.PaymentStats
	err := db.pool.QueryRow(ctx,
		`SELECT
		    COUNT(*)::int,
		    COUNT(*) FILTER (WHERE status = $2 OR event_type IN ($3, $4))::int,
		    COUNT(*) FILTER (WHERE status = $5 OR event_type = $6)::int
		 FROM payment_audit WHERE occurred_at >= $1`,
		since,
		model.PaymentStatusFailed, model.PaymentEventInvoiceFailed, model.PaymentEventSubscriptionDeleted,
		model.PaymentStatusSyncError, model.PaymentEventSyncError,
	).Scan(&s.Total, &s.Failures, &s.SyncErrors)
	if err != nil {
		return model.PaymentStats{}, fmt.Errorf("storage: payment stats: %w", err)
	}
	if s.Total > 0 {
		s.FailureRate = float64(s.Failures) / float64(s.Total)
	}
	return s, nil
}
