package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/storage"
)

// UpsertLedgerEntry writes the entry for (domain, subject_id), keeping the
// original created_at.
func (s *Store) UpsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	now := ms(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_ledger
		   (domain, subject_id, action, confidence, reason, source, mode, provider, model, shadow_action, raw_response, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (domain, subject_id) DO UPDATE
		 SET action = excluded.action, confidence = excluded.confidence, reason = excluded.reason,
		     source = excluded.source, mode = excluded.mode, provider = excluded.provider,
		     model = excluded.model, shadow_action = excluded.shadow_action,
		     raw_response = excluded.raw_response, updated_at = excluded.updated_at`,
		e.Domain, e.SubjectID, e.Action, model.ClampConfidence(e.Confidence), e.Reason,
		string(e.Source), string(e.Mode), e.Provider, e.Model, e.ShadowAction, e.RawResponse, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert ledger entry: %w", err)
	}
	return nil
}

// GetLedgerEntry returns the entry for (domain, subjectID).
func (s *Store) GetLedgerEntry(ctx context.Context, domain string, subjectID int64) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	var source, mode string
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT domain, subject_id, action, confidence, reason, source, mode, provider, model, shadow_action,
		        raw_response, created_at, updated_at
		 FROM decision_ledger WHERE domain = ? AND subject_id = ?`, domain, subjectID,
	).Scan(&e.Domain, &e.SubjectID, &e.Action, &e.Confidence, &e.Reason, &source, &mode,
		&e.Provider, &e.Model, &e.ShadowAction, &e.RawResponse, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LedgerEntry{}, storage.ErrNotFound
	}
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("sqlite: get ledger entry: %w", err)
	}
	e.Source = model.Source(source)
	e.Mode = model.Mode(mode)
	e.CreatedAt = fromMs(created)
	e.UpdatedAt = fromMs(updated)
	return e, nil
}

// DecidedSubjects returns the subset of ids that already have a ledger row
// in domain.
func (s *Store) DecidedSubjects(ctx context.Context, domain string, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, domain)
	for _, id := range ids {
		args = append(args, id)
	}
	q := `SELECT subject_id FROM decision_ledger WHERE domain = ? AND subject_id IN (?` +
		strings.Repeat(", ?", len(ids)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: decided subjects: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan decided subject: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// UpsertOverride creates or replaces the override for o.Service.
func (s *Store) UpsertOverride(ctx context.Context, o model.Override) (model.Override, error) {
	o.CreatedAt = s.orNow(o.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ops_overrides (service, status, reason, expires_at, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (service) DO UPDATE
		 SET status = excluded.status, reason = excluded.reason,
		     expires_at = excluded.expires_at, created_at = excluded.created_at`,
		o.Service, string(o.Status), o.Reason, ms(o.ExpiresAt), ms(o.CreatedAt),
	)
	if err != nil {
		return model.Override{}, fmt.Errorf("sqlite: upsert override: %w", err)
	}
	return s.GetOverride(ctx, o.Service)
}

// DeleteOverride removes the override for service. Missing rows are ignored.
func (s *Store) DeleteOverride(ctx context.Context, service string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ops_overrides WHERE service = ?`, service); err != nil {
		return fmt.Errorf("sqlite: delete override: %w", err)
	}
	return nil
}

// GetOverride returns the stored override for service, expired or not.
func (s *Store) GetOverride(ctx context.Context, service string) (model.Override, error) {
	o, err := scanOverride(s.db.QueryRowContext(ctx,
		`SELECT service, status, reason, expires_at, created_at FROM ops_overrides WHERE service = ?`, service))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Override{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Override{}, fmt.Errorf("sqlite: get override: %w", err)
	}
	return o, nil
}

// ListOverrides returns all stored overrides ordered by service.
func (s *Store) ListOverrides(ctx context.Context) ([]model.Override, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service, status, reason, expires_at, created_at FROM ops_overrides ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list overrides: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []model.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOverride(row scanner) (model.Override, error) {
	var o model.Override
	var status string
	var reason sql.NullString
	var expires, created int64
	if err := row.Scan(&o.Service, &status, &reason, &expires, &created); err != nil {
		return model.Override{}, err
	}
	o.Status = model.OverrideStatus(status)
	if reason.Valid {
		o.Reason = &reason.String
	}
	o.ExpiresAt = fromMs(expires)
	o.CreatedAt = fromMs(created)
	return o, nil
}

// RecordIdentityCheck appends one identity check.
func (s *Store) RecordIdentityCheck(ctx context.Context, c model.IdentityCheck) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_checks (business_id, identifier, verified, reason, checked_at) VALUES (?, ?, ?, ?, ?)`,
		c.BusinessID, c.Identifier, c.Verified, string(c.Reason), ms(s.orNow(c.CheckedAt)),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record identity check: %w", err)
	}
	return nil
}

// UpsertIdentityVerification records the latest outcome for
// (business_id, identifier).
func (s *Store) UpsertIdentityVerification(ctx context.Context, v model.IdentityVerification) error {
	if v.BusinessID == nil {
		return fmt.Errorf("sqlite: identity verification requires business_id")
	}
	now := ms(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_verifications
		   (business_id, identifier, business_name, matched_name, similarity, status, verified, reason, raw, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (business_id, identifier) DO UPDATE
		 SET business_name = excluded.business_name, matched_name = excluded.matched_name,
		     similarity = excluded.similarity, status = excluded.status, verified = excluded.verified,
		     reason = excluded.reason, raw = excluded.raw, updated_at = excluded.updated_at`,
		*v.BusinessID, v.Identifier, v.BusinessName, v.MatchedName, v.Similarity, v.Status,
		v.Verified, string(v.Reason), v.Raw, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert identity verification: %w", err)
	}
	return nil
}

// CreateReview inserts a review into the moderation queue.
func (s *Store) CreateReview(ctx context.Context, r model.Review) (model.Review, error) {
	r.CreatedAt = s.orNow(r.CreatedAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (business_id, rating, title, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.BusinessID, r.Rating, r.Title, r.Content, ms(r.CreatedAt),
	)
	if err != nil {
		return model.Review{}, fmt.Errorf("sqlite: create review: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return model.Review{}, fmt.Errorf("sqlite: review id: %w", err)
	}
	r.CreatedAt = fromMs(ms(r.CreatedAt))
	return r, nil
}

// PendingReviews returns undecided reviews, oldest first.
func (s *Store) PendingReviews(ctx context.Context, limit int) ([]model.Review, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, business_id, rating, title, content, is_approved, is_rejected, created_at
		 FROM reviews WHERE is_approved = 0 AND is_rejected = 0
		 ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pending reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []model.Review
	for rows.Next() {
		var r model.Review
		var created int64
		if err := rows.Scan(&r.ID, &r.BusinessID, &r.Rating, &r.Title, &r.Content, &r.Approved, &r.Rejected, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan review: %w", err)
		}
		r.CreatedAt = fromMs(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApproveReview marks a review approved.
func (s *Store) ApproveReview(ctx context.Context, id int64) error {
	if err := rowsAffected(s.db.ExecContext(ctx,
		`UPDATE reviews SET is_approved = 1, is_rejected = 0, rejection_reason = NULL WHERE id = ?`, id)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("sqlite: approve review: %w", err)
	}
	return nil
}

// RejectReview marks a review rejected with reason.
func (s *Store) RejectReview(ctx context.Context, id int64, reason string) error {
	if err := rowsAffected(s.db.ExecContext(ctx,
		`UPDATE reviews SET is_rejected = 1, rejection_reason = ? WHERE id = ?`, reason, id)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("sqlite: reject review: %w", err)
	}
	return nil
}

// GetDigest returns the digest for date (YYYY-MM-DD).
func (s *Store) GetDigest(ctx context.Context, date string) (model.Digest, error) {
	var d model.Digest
	var metrics, source, mode string
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT digest_date, summary, metrics, source, mode, model, created_at FROM ops_digests WHERE digest_date = ?`, date,
	).Scan(&d.Date, &d.Summary, &metrics, &source, &mode, &d.Model, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Digest{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Digest{}, fmt.Errorf("sqlite: get digest: %w", err)
	}
	if err := json.Unmarshal([]byte(metrics), &d.Metrics); err != nil {
		return model.Digest{}, fmt.Errorf("sqlite: decode digest metrics: %w", err)
	}
	d.Source = model.Source(source)
	d.Mode = model.Mode(mode)
	d.CreatedAt = fromMs(created)
	return d, nil
}

// UpsertDigest writes the digest for d.Date, replacing any existing one.
func (s *Store) UpsertDigest(ctx context.Context, d model.Digest) error {
	if _, err := time.Parse(time.DateOnly, d.Date); err != nil {
		return fmt.Errorf("sqlite: upsert digest: %w", err)
	}
	metrics, err := json.Marshal(d.Metrics)
	if err != nil {
		return fmt.Errorf("sqlite: marshal digest metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ops_digests (digest_date, summary, metrics, source, mode, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (digest_date) DO UPDATE
		 SET summary = excluded.summary, metrics = excluded.metrics, source = excluded.source,
		     mode = excluded.mode, model = excluded.model, created_at = excluded.created_at`,
		d.Date, d.Summary, string(metrics), string(d.Source), string(d.Mode), d.Model, ms(s.now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert digest: %w", err)
	}
	return nil
}

// OpsMetrics gathers the digest's daily counters since the given time.
func (s *Store) OpsMetrics(ctx context.Context, since time.Time) (model.OpsMetrics, error) {
	var m model.OpsMetrics
	var agreed, shadowed int
	t := ms(since)
	err := s.db.QueryRowContext(ctx, `
		SELECT
		    (SELECT COUNT(*) FROM latency_samples
		      WHERE area = ? AND occurred_at >= ? AND (success IS NULL OR success = 1)),
		    (SELECT COUNT(*) FROM identity_verifications WHERE verified = 0),
		    (SELECT COUNT(*) FROM decision_ledger WHERE domain = ? AND updated_at >= ?),
		    (SELECT COUNT(*) FROM decision_ledger
		      WHERE domain = ? AND updated_at >= ? AND shadow_action <> '' AND shadow_action = action),
		    (SELECT COUNT(*) FROM decision_ledger
		      WHERE domain = ? AND updated_at >= ? AND shadow_action <> ''),
		    (SELECT COUNT(*) FROM cron_job_runs
		      WHERE job_name = ? AND status = 'failed' AND started_at >= ?),
		    (SELECT COUNT(*) FROM latency_samples WHERE occurred_at >= ? AND success = 0)`,
		string(model.AreaOnboardingAPI), t,
		model.DomainTriage, t,
		model.DomainTriage, t,
		model.DomainTriage, t,
		storage.EmergencyVerifyJob, t,
		t,
	).Scan(&m.OnboardingToday, &m.PendingIdentityManual, &m.EmergencyLogsToday,
		&agreed, &shadowed, &m.EmergencyPendingVerifications, &m.ErrorsLast24h)
	if err != nil {
		return model.OpsMetrics{}, fmt.Errorf("sqlite: ops metrics: %w", err)
	}
	m.EmergencyAccuracyPct = storage.AccuracyPct(agreed, shadowed)
	return m, nil
}

// CreateOperator inserts an operator. A zero ID is generated.
func (s *Store) CreateOperator(ctx context.Context, op model.Operator) (model.Operator, error) {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	op.CreatedAt = fromMs(ms(s.now()))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operators (id, operator_id, name, role, api_key_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID.String(), op.OperatorID, op.Name, string(op.Role), op.APIKeyHash, ms(op.CreatedAt),
	)
	if err != nil {
		return model.Operator{}, fmt.Errorf("sqlite: create operator: %w", err)
	}
	return op, nil
}

// GetOperator returns the operator with operatorID.
func (s *Store) GetOperator(ctx context.Context, operatorID string) (model.Operator, error) {
	var op model.Operator
	var id, role string
	var hash sql.NullString
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, operator_id, name, role, api_key_hash, created_at FROM operators WHERE operator_id = ?`, operatorID,
	).Scan(&id, &op.OperatorID, &op.Name, &role, &hash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Operator{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Operator{}, fmt.Errorf("sqlite: get operator: %w", err)
	}
	if op.ID, err = uuid.Parse(id); err != nil {
		return model.Operator{}, fmt.Errorf("sqlite: parse operator id: %w", err)
	}
	op.Role = model.OperatorRole(role)
	if hash.Valid {
		op.APIKeyHash = &hash.String
	}
	op.CreatedAt = fromMs(created)
	return op, nil
}

// CountOperators returns the number of operators.
func (s *Store) CountOperators(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count operators: %w", err)
	}
	return n, nil
}
