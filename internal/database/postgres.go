package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/dnogares/web-sub001/internal/config"
	"github.com/dnogares/web-sub001/internal/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	connectTimeout    = 5 * time.Second
	maxConnIdleTime   = 30 * time.Second
	maxConnLifetime   = time.Hour
	healthCheckPeriod = time.Minute
)

// schema is applied on startup and is safe to run repeatedly.
const schema = `
CREATE TABLE IF NOT EXISTS affection_reports (
	parcel_id    TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	report       JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Database is the Postgres-backed report store connection.
type Database struct {
	Pool *pgxpool.Pool
}

// DSN builds the connection string, escaping credentials.
func DSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// NewPostgresPool opens the report store pool and pings it once so a bad
// configuration fails at startup rather than on the first saved report.
func NewPostgresPool(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	pc, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	pc.MinConns = int32(cfg.PoolMin)
	pc.MaxConns = int32(cfg.PoolMax)
	pc.ConnConfig.ConnectTimeout = connectTimeout
	pc.MaxConnIdleTime = maxConnIdleTime
	pc.MaxConnLifetime = maxConnLifetime
	pc.HealthCheckPeriod = healthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Database{Pool: pool}, nil
}

// EnsureSchema creates the affection_reports table if missing.
func (db *Database) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping backs the readiness check.
func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Stats returns the pool statistics, or nil once the pool is gone.
func (db *Database) Stats() *pgxpool.Stat {
	if db.Pool == nil {
		return nil
	}
	return db.Pool.Stat()
}

// PoolCounts snapshots connection usage for the report store gauges.
func (db *Database) PoolCounts() metrics.PoolCounts {
	s := db.Stats()
	if s == nil {
		return metrics.PoolCounts{}
	}
	return metrics.PoolCounts{
		Acquired: s.AcquiredConns(),
		Idle:     s.IdleConns(),
		Total:    s.TotalConns(),
	}
}
