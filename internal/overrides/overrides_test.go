package overrides_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/overrides"
	"github.com/ashita-ai/kensa/internal/testutil"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newRegistry(t *testing.T, opts ...overrides.Option) (*overrides.Registry, *clock) {
	t.Helper()
	store := testutil.NewSQLiteStore(t)

	c := &clock{t: time.Date(2026, 7, 4, 9, 0, 0, 0, time.UTC)}
	opts = append([]overrides.Option{overrides.WithClock(c.Now)}, opts...)
	return overrides.New(store, nil, opts...), c
}

func TestSetIsIdempotentPerService(t *testing.T) {
	reg, c := newRegistry(t)
	ctx := context.Background()

	first, err := reg.Set(ctx, "monetization", model.OverrideInvestigating, "looking")
	require.NoError(t, err)
	assert.Equal(t, c.Now().Add(overrides.DefaultTTL), first.ExpiresAt)

	c.Advance(10 * time.Minute)
	second, err := reg.Set(ctx, "monetization", model.OverrideTemporarilyDown, "")
	require.NoError(t, err)
	assert.Nil(t, second.Reason)

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.OverrideTemporarilyDown, list[0].Status)
	assert.Equal(t, c.Now().Add(overrides.DefaultTTL), list[0].ExpiresAt)
}

func TestActiveExpiresAtReadTime(t *testing.T) {
	reg, c := newRegistry(t, overrides.WithTTL(30*time.Minute))
	ctx := context.Background()

	_, err := reg.Set(ctx, "emergency_cron", model.OverrideInvestigating, "deploy in progress")
	require.NoError(t, err)

	o := reg.Active(ctx, "emergency_cron")
	require.NotNil(t, o)
	assert.Equal(t, "deploy in progress", *o.Reason)

	c.Advance(30 * time.Minute)
	assert.Nil(t, reg.Active(ctx, "emergency_cron"), "expiry equal to now is expired")

	all, err := reg.ActiveAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClear(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Set(ctx, "abn_recheck", model.OverrideInvestigating, "")
	require.NoError(t, err)
	require.NoError(t, reg.Clear(ctx, "abn_recheck"))
	assert.Nil(t, reg.Active(ctx, "abn_recheck"))
	require.NoError(t, reg.Clear(ctx, "abn_recheck"))
}

func TestSetValidation(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Set(ctx, " ", model.OverrideInvestigating, "")
	assert.ErrorIs(t, err, overrides.ErrInvalid)

	_, err = reg.Set(ctx, "telemetry", "resolved", "")
	assert.ErrorIs(t, err, overrides.ErrInvalid)
}
