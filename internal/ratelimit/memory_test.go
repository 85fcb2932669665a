package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func allowN(t *testing.T, m *MemoryLimiter, key string, n int) int {
	t.Helper()
	granted := 0
	for range n {
		ok, err := m.Allow(context.Background(), key)
		require.NoError(t, err)
		if ok {
			granted++
		}
	}
	return granted
}

func TestMemoryLimiter_Burst(t *testing.T) {
	clk := newFakeClock()
	m := NewMemoryLimiter(1, 3, WithClock(clk.Now))

	assert.Equal(t, 3, allowN(t, m, "op:ops-bot", 5), "only the burst is granted without elapsed time")
}

func TestMemoryLimiter_Refill(t *testing.T) {
	clk := newFakeClock()
	m := NewMemoryLimiter(2, 2, WithClock(clk.Now))

	require.Equal(t, 2, allowN(t, m, "k", 2))
	assert.Equal(t, 0, allowN(t, m, "k", 1))

	clk.Advance(500 * time.Millisecond) // one token at 2/s
	assert.Equal(t, 1, allowN(t, m, "k", 2))

	clk.Advance(time.Hour) // refill caps at burst
	assert.Equal(t, 2, allowN(t, m, "k", 5))
}

func TestMemoryLimiter_IndependentKeys(t *testing.T) {
	m := NewMemoryLimiter(10, 1, WithClock(newFakeClock().Now))

	assert.Equal(t, 1, allowN(t, m, "op:a", 2))
	assert.Equal(t, 1, allowN(t, m, "op:b", 2))
	assert.Equal(t, 2, m.Len())
}

func TestMemoryLimiter_EvictsIdleKeys(t *testing.T) {
	clk := newFakeClock()
	m := NewMemoryLimiter(1, 1, WithClock(clk.Now), WithIdleTTL(5*time.Minute))

	allowN(t, m, "ip:10.0.0.1", 1)
	allowN(t, m, "ip:10.0.0.2", 1)
	require.Equal(t, 2, m.Len())

	clk.Advance(6 * time.Minute)
	allowN(t, m, "ip:10.0.0.3", 1) // triggers the sweep
	assert.Equal(t, 1, m.Len())
}

func TestMemoryLimiter_BurstFloor(t *testing.T) {
	m := NewMemoryLimiter(1, 0, WithClock(newFakeClock().Now))
	assert.Equal(t, 1, allowN(t, m, "k", 3))
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	m := NewMemoryLimiter(1, 50, WithClock(newFakeClock().Now))

	var granted atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if ok, _ := m.Allow(context.Background(), "shared"); ok {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), granted.Load())
}

func TestNoopLimiter(t *testing.T) {
	var l Limiter = NoopLimiter{}
	ok, err := l.Allow(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.Close())
}

func TestMemoryLimiter_RetryAfter(t *testing.T) {
	clk := newFakeClock()
	m := NewMemoryLimiter(0.5, 1, WithClock(clk.Now))

	assert.Zero(t, m.RetryAfter("unseen"))
	require.Equal(t, 1, allowN(t, m, "k", 1))
	assert.Equal(t, 2*time.Second, m.RetryAfter("k"))

	clk.Advance(1500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, m.RetryAfter("k"))

	clk.Advance(time.Second)
	assert.Zero(t, m.RetryAfter("k"))
}
