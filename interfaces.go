package kensa

import (
	"context"
	"net/http"
)

// AlertNotifier receives alerts the watcher decides are due: newly firing,
// or still firing after the re-notify interval. Suppressed alerts are never
// forwarded. Multiple notifiers may be registered via WithAlertNotifier.
// A failing notifier is logged and does not stop the others.
type AlertNotifier interface {
	Notify(ctx context.Context, alerts []Alert) error
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
