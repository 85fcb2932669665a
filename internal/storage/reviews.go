package storage

import (
	"context"
	"fmt"

	"github.com/ashita-ai/kensa/internal/model"
)

// CreateReview inserts a review into the moderation queue.
func (db *DB) CreateReview(ctx context.Context, r model.Review) (model.Review, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO reviews (business_id, rating, title, content, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, now()))
		 RETURNING id, created_at`,
		r.BusinessID, r.Rating, r.Title, r.Content, nullTime(r.CreatedAt),
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return model.Review{}, fmt.Errorf("storage: create review: %w", err)
	}
	return r, nil
}

// PendingReviews returns undecided reviews, oldest first.
func (db *DB) PendingReviews(ctx context.Context, limit int) ([]model.Review, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, business_id, rating, title, content, is_approved, is_rejected, created_at
		 FROM reviews WHERE NOT is_approved AND NOT is_rejected
		 ORDER BY created_at ASC, id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: pending reviews: %w", err)
	}
	defer rows.Close()

	var out []model.Review
	for rows.Next() {
		var r model.Review
		if err := rows.Scan(&r.ID, &r.BusinessID, &r.Rating, &r.Title, &r.Content, &r.Approved, &r.Rejected, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApproveReview marks a review approved.
func (db *DB) ApproveReview(ctx context.Context, id int64) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE reviews SET is_approved = true, is_rejected = false, rejection_reason = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: approve review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RejectReview marks a review rejected with reason.
func (db *DB) RejectReview(ctx context.Context, id int64, reason string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE reviews SET is_rejected = true, rejection_reason = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("storage: reject review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
