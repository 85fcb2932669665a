// Package ratelimit throttles API callers by key: operator identity for
// authenticated routes, client address for the token endpoint.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request identified by key may proceed. Keys are
// opaque and built by the caller ("op:<operator_id>", "ip:<addr>").
// An error means the limiter itself failed; Middleware lets such requests
// through.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// RetryAdvisor is implemented by limiters that can tell a rejected caller
// how long to wait.
type RetryAdvisor interface {
	RetryAfter(key string) time.Duration
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoopLimiter) Close() error { return nil }
