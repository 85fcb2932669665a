package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Eviction defaults. Buckets idle longer than idleTTL are dropped during a
// sweep, which runs at most once per sweepEvery inside Allow.
const (
	defaultIdleTTL    = 10 * time.Minute
	defaultSweepEvery = time.Minute
)

type bucket struct {
	tokens float64
	seen   time.Time
}

// MemoryLimiter is a per-key token bucket held in process memory. Every key
// starts full at burst tokens and refills at rate tokens per second.
// Idle keys are evicted lazily, so the limiter owns no goroutine.
type MemoryLimiter struct {
	rate  float64
	burst float64

	idleTTL    time.Duration
	sweepEvery time.Duration
	now        func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) { m.now = now }
}

// WithIdleTTL sets how long an untouched key keeps its bucket.
func WithIdleTTL(d time.Duration) MemoryOption {
	return func(m *MemoryLimiter) {
		if d > 0 {
			m.idleTTL = d
		}
	}
}

// NewMemoryLimiter creates a limiter allowing rate requests per second per
// key with bursts of up to burst requests.
func NewMemoryLimiter(rate float64, burst int, opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:       rate,
		burst:      float64(max(burst, 1)),
		idleTTL:    defaultIdleTTL,
		sweepEvery: defaultSweepEvery,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
	for _, o := range opts {
		o(m)
	}
	m.lastSweep = m.now()
	return m
}

// Allow takes one token from key's bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= m.sweepEvery {
		m.sweep(now)
	}

	b := m.buckets[key]
	if b == nil {
		b = &bucket{tokens: m.burst, seen: now}
		m.buckets[key] = b
	} else {
		b.tokens = min(m.burst, b.tokens+now.Sub(b.seen).Seconds()*m.rate)
		b.seen = now
	}

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// RetryAfter reports how long until key's bucket holds a whole token.
func (m *MemoryLimiter) RetryAfter(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.buckets[key]
	if b == nil || m.rate <= 0 {
		return 0
	}
	have := min(m.burst, b.tokens+m.now().Sub(b.seen).Seconds()*m.rate)
	if have >= 1 {
		return 0
	}
	return time.Duration((1 - have) / m.rate * float64(time.Second))
}

// Len reports how many keys currently hold a bucket.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Close implements Limiter. The limiter holds no background resources.
func (m *MemoryLimiter) Close() error { return nil }

// sweep must be called with mu held.
func (m *MemoryLimiter) sweep(now time.Time) {
	cutoff := now.Add(-m.idleTTL)
	for key, b := range m.buckets {
		if b.seen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
	m.lastSweep = now
}
