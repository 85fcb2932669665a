package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kensa/internal/model"
)

// UpsertOverride creates or replaces the override for o.Service.
func (db *DB) UpsertOverride(ctx context.Context, o model.Override) (model.Override, error) {
	var out model.Override
	var status string
	err := WithRetry(ctx, upsertRetry, func() error {
		return db.pool.QueryRow(ctx,
			`INSERT INTO ops_overrides (service, status, reason, expires_at, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (service) DO UPDATE
			 SET status = EXCLUDED.status, reason = EXCLUDED.reason,
			     expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
			 RETURNING service, status, reason, expires_at, created_at`,
			o.Service, string(o.Status), o.Reason, o.ExpiresAt, o.CreatedAt,
		).Scan(&out.Service, &status, &out.Reason, &out.ExpiresAt, &out.CreatedAt)
	})
	if err != nil {
		return model.Override{}, fmt.Errorf("storage: upsert override: %w", err)
	}
	out.Status = model.OverrideStatus(status)
	return out, nil
}

// DeleteOverride removes the override for service. Deleting a missing
// override is not an error.
func (db *DB) DeleteOverride(ctx context.Context, service string) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM ops_overrides WHERE service = $1`, service); err != nil {
		return fmt.Errorf("storage: delete override: %w", err)
	}
	return nil
}

// GetOverride returns the stored override for service, expired or not.
func (db *DB) GetOverride(ctx context.Context, service string) (model.Override, error) {
	var o model.Override
	var status string
	err := db.pool.QueryRow(ctx,
		`SELECT service, status, reason, expires_at, created_at FROM ops_overrides WHERE service = $1`, service,
	).Scan(&o.Service, &status, &o.Reason, &o.ExpiresAt, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Override{}, ErrNotFound
	}
	if err != nil {
		return model.Override{}, fmt.Errorf("storage: get override: %w", err)
	}
	o.Status = model.OverrideStatus(status)
	return o, nil
}

// ListOverrides returns all stored overrides, expired or not.
func (db *DB) ListOverrides(ctx context.Context) ([]model.Override, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT service, status, reason, expires_at, created_at FROM ops_overrides ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("storage: list overrides: %w", err)
	}
	defer rows.Close()

	var out []model.Override
	for rows.Next() {
		var o model.Override
		var status string
		if err := rows.Scan(&o.Service, &status, &o.Reason, &o.ExpiresAt, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan override: %w", err)
		}
		o.Status = model.OverrideStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}
