package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
)

// RecordIdentityCheck appends one identity check.
func (db *DB) RecordIdentityCheck(ctx context.Context, c model.IdentityCheck) error {
	checked := c.CheckedAt
	if checked.IsZero() {
		checked = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO identity_checks (business_id, identifier, verified, reason, checked_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.BusinessID, c.Identifier, c.Verified, string(c.Reason), checked,
	)
	if err != nil {
		return fmt.Errorf("storage: record identity check: %w", err)
	}
	return nil
}

// UpsertIdentityVerification records the latest outcome for
// (business_id, identifier).
func (db *DB) UpsertIdentityVerification(ctx context.Context, v model.IdentityVerification) error {
	if v.BusinessID == nil {
		return fmt.Errorf("storage: identity verification requires business_id")
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO identity_verifications
		   (business_id, identifier, business_name, matched_name, similarity, status, verified, reason, raw)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (business_id, identifier) DO UPDATE
		 SET business_name = EXCLUDED.business_name, matched_name = EXCLUDED.matched_name,
		     similarity = EXCLUDED.similarity, status = EXCLUDED.status, verified = EXCLUDED.verified,
		     reason = EXCLUDED.reason, raw = EXCLUDED.raw, updated_at = now()`,
		*v.BusinessID, v.Identifier, v.BusinessName, v.MatchedName, v.Similarity, v.Status,
		v.Verified, string(v.Reason), v.Raw,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert identity verification: %w", err)
	}
	return nil
}
