package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// KeyFunc returns the bucket key for r. An empty key exempts the request.
type KeyFunc func(r *http.Request) string

// RejectFunc writes the response for a throttled request. The server owns
// the error envelope, so it supplies this.
type RejectFunc func(w http.ResponseWriter, r *http.Request)

var rejected, _ = otel.Meter("kensa/ratelimit").Int64Counter("kensa.ratelimit.rejected",
	metric.WithDescription("Requests rejected by the rate limiter"))

// Middleware enforces limiter per key. A nil limiter disables it. Limiter
// errors are logged and the request proceeds.
func Middleware(limiter Limiter, keyFunc KeyFunc, reject RejectFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	advisor, _ := limiter.(RetryAdvisor)

	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := limiter.Allow(r.Context(), key)
			switch {
			case err != nil:
				logger.Warn("ratelimit: limiter error, allowing request", "key", key, "error", err)
			case !ok:
				if rejected != nil {
					rejected.Add(r.Context(), 1, metric.WithAttributes(attribute.String("route", r.Pattern)))
				}
				w.Header().Set("Retry-After", retryAfterHeader(advisor, key))
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterHeader renders whole seconds, at least 1.
func retryAfterHeader(advisor RetryAdvisor, key string) string {
	secs := 1
	if advisor != nil {
		if d := advisor.RetryAfter(key); d > time.Second {
			secs = int(math.Ceil(d.Seconds()))
		}
	}
	return strconv.Itoa(secs)
}

// IPKeyFunc keys on the connection's remote address. Forwarding headers are
// ignored since any client can set them.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		host = addr.Unmap().String()
	}
	return "ip:" + host
}
