package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kensa/internal/model"
)

// UpsertLedgerEntry writes the entry for (domain, subject_id), replacing any
// previous outcome. created_at is preserved across updates.
func (db *DB) UpsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	return WithRetry(ctx, upsertRetry, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO decision_ledger
			   (domain, subject_id, action, confidence, reason, source, mode, provider, model, shadow_action, raw_response, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
			 ON CONFLICT (domain, subject_id) DO UPDATE
			 SET action = EXCLUDED.action, confidence = EXCLUDED.confidence, reason = EXCLUDED.reason,
			     source = EXCLUDED.source, mode = EXCLUDED.mode, provider = EXCLUDED.provider,
			     model = EXCLUDED.model, shadow_action = EXCLUDED.shadow_action,
			     raw_response = EXCLUDED.raw_response, updated_at = now()`,
			e.Domain, e.SubjectID, e.Action, model.ClampConfidence(e.Confidence), e.Reason,
			string(e.Source), string(e.Mode), e.Provider, e.Model, e.ShadowAction, e.RawResponse,
		)
		if err != nil {
			return fmt.Errorf("storage: upsert ledger entry: %w", err)
		}
		return nil
	})
}

// GetLedgerEntry returns the entry for (domain, subjectID).
func (db *DB) GetLedgerEntry(ctx context.Context, domain string, subjectID int64) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	var source, mode string
	err := db.pool.QueryRow(ctx,
		`SELECT domain, subject_id, action, confidence, reason, source, mode, provider, model, shadow_action,
		        raw_response, created_at, updated_at
		 FROM decision_ledger WHERE domain = $1 AND subject_id = $2`,
		domain, subjectID,
	).Scan(&e.Domain, &e.SubjectID, &e.Action, &e.Confidence, &e.Reason, &source, &mode,
		&e.Provider, &e.Model, &e.ShadowAction, &e.RawResponse, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LedgerEntry{}, ErrNotFound
	}
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("storage: get ledger entry: %w", err)
	}
	e.Source = model.Source(source)
	e.Mode = model.Mode(mode)
	return e, nil
}

// DecidedSubjects returns the subset of ids that already have a ledger row
// in domain.
func (db *DB) DecidedSubjects(ctx context.Context, domain string, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT subject_id FROM decision_ledger WHERE domain = $1 AND subject_id = ANY($2)`, domain, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: decided subjects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan decided subject: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}
