package kensa

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported. Callers use the With* functions.
type resolvedOptions struct {
	port            int
	storeDriver     string
	databaseURL     string
	sqlitePath      string
	logger          *slog.Logger
	version         string
	notifiers       []AlertNotifier
	middlewares     []Middleware
	extraMigrations []fs.FS
}

// WithPort overrides the TCP port from config (KENSA_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL selects the Postgres store with the given connection
// string, overriding KENSA_STORE and DATABASE_URL.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) {
		o.storeDriver = "postgres"
		o.databaseURL = url
	}
}

// WithSQLitePath selects the embedded SQLite store at path, overriding
// KENSA_STORE and KENSA_SQLITE_PATH.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) {
		o.storeDriver = "sqlite"
		o.sqlitePath = path
	}
}

// WithLogger sets the structured logger for the App.
// If not set, a JSON logger at KENSA_LOG_LEVEL is installed as the default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithAlertNotifier registers an additional destination for due alerts.
// Registered notifiers run after the built-in log, SSE and Pub/Sub
// notifiers. Has no effect when the alert watcher is disabled.
func WithAlertNotifier(n AlertNotifier) Option {
	return func(o *resolvedOptions) { o.notifiers = append(o.notifiers, n) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run
// after the embedded migrations. Only applies to the Postgres store.
// Multiple filesystems may be registered; they are applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
