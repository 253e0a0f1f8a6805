// Package database is the Postgres persistence layer: devices,
// sessions, the signals time series, techniques, parameter sets, and
// the feedback rule table. All queries go through one pgx pool.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrActiveSessionExists is returned when a session is created for a
// device that already has one running.
var ErrActiveSessionExists = errors.New("device already has an active session")

// Pool sizing. Ingest is write-heavy but batched, so a small pool
// suffices.
const (
	poolMaxConns = 10
	poolMinConns = 2
)

// DB wraps the connection pool with the store methods the handlers and
// the ingest pipeline use.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect opens the pool and verifies the server is reachable.
func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = poolMaxConns
	cfg.MinConns = poolMinConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Msg("database connected")
	return &DB{Pool: pool, log: log}, nil
}

// HealthCheck pings the pool with a short deadline.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

// Close releases the pool.
func (db *DB) Close() {
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}

// maskDSN hides the password so connection strings can be logged.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

// pqString converts an empty string to nil so the
// ($1::text IS NULL OR ...) filter pattern skips the clause.
func pqString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// pqTime converts a zero time to nil for the same pattern on
// timestamptz bounds.
func pqTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// pqInt64 converts a zero to nil for the same pattern on timestamps.
func pqInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
