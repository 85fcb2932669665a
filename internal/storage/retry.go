package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// RetryPolicy bounds how often a write is re-attempted after a transient
// Postgres failure.
type RetryPolicy struct {
	Attempts  int // total tries, including the first
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// upsertRetry covers the contended upserts: ledger entries and overrides.
var upsertRetry = RetryPolicy{Attempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 200 * time.Millisecond}

// transientCodes are SQLSTATEs that a plain re-run can clear.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown (failover)
}

// IsTransient reports whether err is worth retrying: a transient SQLSTATE,
// or a connection failure before anything reached the server.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientCodes[pgErr.Code]
	}
	return pgconn.SafeToRetry(err)
}

// WithRetry runs fn until it succeeds, fails with a non-transient error, or
// the policy's attempts are spent. Delays double from BaseDelay up to
// MaxDelay with up to 50% jitter.
func WithRetry(ctx context.Context, p RetryPolicy, fn func() error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay
	var err error
	for i := range attempts {
		if err = fn(); err == nil || !IsTransient(err) || i == attempts-1 {
			return err
		}
		wait := delay
		if delay > 0 {
			wait += time.Duration(rand.Int64N(int64(delay)/2 + 1)) //nolint:gosec // jitter only
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, max(p.MaxDelay, p.BaseDelay))
	}
	return err
}
