// Package storage provides the PostgreSQL storage layer for kensa.
//
// It manages connection pooling via pgxpool, COPY-based batch ingestion for
// latency samples, and query methods for every table the arbiter, telemetry
// recorder, override registry and alert evaluator read or write.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// DB wraps a pgxpool.Pool. It implements Store.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	reg    metric.Registration
}

var _ Store = (*DB)(nil)

// New opens a pool for dsn and pings it. Pool sizing stays controllable
// from the DSN (pool_max_conns and friends); kensa only fills in defaults
// the DSN leaves unset.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = "kensa"
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	db := &DB{pool: pool, logger: logger}
	db.registerMetrics()
	logger.Info("storage: connected", "max_conns", cfg.MaxConns)
	return db, nil
}

// registerMetrics exports pool saturation so slow judgments can be told
// apart from connection starvation.
func (db *DB) registerMetrics() {
	meter := otel.Meter("kensa/storage")
	acquired, err1 := meter.Int64ObservableGauge("kensa.db.pool.acquired",
		metric.WithDescription("Connections checked out of the pool"))
	idle, err2 := meter.Int64ObservableGauge("kensa.db.pool.idle",
		metric.WithDescription("Idle connections held by the pool"))
	waits, err3 := meter.Int64ObservableCounter("kensa.db.pool.empty_acquires",
		metric.WithDescription("Acquires that had to wait for a connection"))
	if err1 != nil || err2 != nil || err3 != nil {
		return
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := db.pool.Stat()
		o.ObserveInt64(acquired, int64(st.AcquiredConns()))
		o.ObserveInt64(idle, int64(st.IdleConns()))
		o.ObserveInt64(waits, st.EmptyAcquireCount())
		return nil
	}, acquired, idle, waits)
	if err != nil {
		db.logger.Warn("storage: pool metrics disabled", "error", err)
		return
	}
	db.reg = reg
}

// Pool exposes the pool for tests and ad-hoc queries.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close unregisters pool metrics and closes every connection.
func (db *DB) Close(_ context.Context) error {
	if db.reg != nil {
		_ = db.reg.Unregister()
	}
	db.pool.Close()
	return nil
}
