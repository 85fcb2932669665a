// Package overrides lets operators mark a service as known-bad for a bounded
// window. Alerts for an overridden service are still reported but flagged as
// suppressed. Expiry is evaluated on every read; nothing sweeps old rows.
package overrides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/storage"
)

// DefaultTTL is how long an override stays active.
const DefaultTTL = 2 * time.Hour

// ErrInvalid wraps validation failures from Set.
var ErrInvalid = errors.New("overrides: invalid override")

// Registry reads and writes overrides through an OverrideStore.
type Registry struct {
	store  storage.OverrideStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets the override lifetime.
func WithTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry.
func New(store storage.OverrideStore, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{store: store, ttl: DefaultTTL, logger: logger, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// TTL returns the configured override lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Set creates or replaces the override for service, expiring TTL from now.
func (r *Registry) Set(ctx context.Context, service string, status model.OverrideStatus, reason string) (model.Override, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return model.Override{}, fmt.Errorf("%w: service is required", ErrInvalid)
	}
	if err := model.ValidateOverrideStatus(status); err != nil {
		return model.Override{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	now := r.now().UTC()
	o := model.Override{
		Service:   service,
		Status:    status,
		ExpiresAt: now.Add(r.ttl),
		CreatedAt: now,
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		o.Reason = &reason
	}
	saved, err := r.store.UpsertOverride(ctx, o)
	if err != nil {
		return model.Override{}, fmt.Errorf("overrides: set %s: %w", service, err)
	}
	r.logger.Info("override set", "service", service, "status", status, "expires_at", saved.ExpiresAt)
	return saved, nil
}

// Clear removes the override for service. Clearing a missing override is
// not an error.
func (r *Registry) Clear(ctx context.Context, service string) error {
	if err := r.store.DeleteOverride(ctx, strings.TrimSpace(service)); err != nil {
		return fmt.Errorf("overrides: clear %s: %w", service, err)
	}
	r.logger.Info("override cleared", "service", service)
	return nil
}

// Active returns the unexpired override for service, or nil. Read failures
// are logged and treated as no override.
func (r *Registry) Active(ctx context.Context, service string) *model.Override {
	o, err := r.store.GetOverride(ctx, service)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		r.logger.Warn("overrides: read failed", "service", service, "error", err)
		return nil
	}
	if !o.ActiveAt(r.now()) {
		return nil
	}
	return &o
}

// ActiveAll returns every unexpired override keyed by service.
func (r *Registry) ActiveAll(ctx context.Context) (map[string]model.Override, error) {
	all, err := r.store.ListOverrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("overrides: list: %w", err)
	}
	now := r.now()
	out := make(map[string]model.Override, len(all))
	for _, o := range all {
		if o.ActiveAt(now) {
			out[o.Service] = o
		}
	}
	return out, nil
}

// List returns the unexpired overrides ordered by service.
func (r *Registry) List(ctx context.Context) ([]model.Override, error) {
	all, err := r.store.ListOverrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("overrides: list: %w", err)
	}
	now := r.now()
	out := make([]model.Override, 0, len(all))
	for _, o := range all {
		if o.ActiveAt(now) {
			out = append(out, o)
		}
	}
	return out, nil
}
