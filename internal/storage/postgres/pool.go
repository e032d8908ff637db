// Package postgres is the PostgreSQL storage.Store backend.
//
// Documents live in one JSONB table keyed by document key. Writes are
// single-row upserts retried on transient failures.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dytto-app/dytto/internal/telemetry"
)

// DB is a document store on a pgx pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	retry  retryPolicy
}

// Option adjusts the pool before it connects.
type Option func(*pgxpool.Config)

// WithMaxConns caps the pool size. Values <= 0 keep the pgx default.
func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// New connects to dsn and pings once before returning.
func New(ctx context.Context, dsn string, logger *slog.Logger, opts ...Option) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	logger.Debug("postgres: connected", "max_conns", cfg.MaxConns)
	return &DB{pool: pool, logger: logger, retry: defaultRetry}, nil
}

// RegisterPoolMetrics exports pool occupancy gauges. Call it after
// telemetry.Init so the gauges land on the real meter provider.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("dytto/postgres")

	_, _ = meter.Int64ObservableGauge("dytto.postgres.pool.connections",
		metric.WithDescription("Connections in the pool by state"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s := db.pool.Stat()
			o.Observe(int64(s.AcquiredConns()), metric.WithAttributes(stateAttr("acquired")))
			o.Observe(int64(s.IdleConns()), metric.WithAttributes(stateAttr("idle")))
			o.Observe(int64(s.ConstructingConns()), metric.WithAttributes(stateAttr("constructing")))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("dytto.postgres.pool.max_connections",
		metric.WithDescription("Configured pool size"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().MaxConns()))
			return nil
		}),
	)
}

func stateAttr(s string) attribute.KeyValue { return attribute.String("state", s) }

// Pool exposes the pool for integration tests.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

// Close shuts the pool down.
func (db *DB) Close(context.Context) error {
	db.pool.Close()
	return nil
}
