// Package db opens the Postgres connection pool used by the SQL stores.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Pool defaults.
const (
	DefaultMaxOpenConns    = 20
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 30 * time.Minute
	DefaultPingTimeout     = 5 * time.Second
)

// RequiredTables are created by the migrations and checked by Verify.
var RequiredTables = []string{"sightings", "sighting_reviews", "sighting_feedback", "audit_logs"}

// ErrMissingTable is returned by Verify when a migration has not been applied.
var ErrMissingTable = errors.New("required table missing; run migrations")

// Open connects to url, applies pool defaults and pings within DefaultPingTimeout.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("database url is required")
	}
	conn, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(DefaultMaxOpenConns)
	conn.SetMaxIdleConns(DefaultMaxIdleConns)
	conn.SetConnMaxLifetime(DefaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// Verify checks that every RequiredTables entry exists in the public schema.
func Verify(ctx context.Context, conn *sql.DB) error {
	for _, table := range RequiredTables {
		var exists bool
		err := conn.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
			table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrMissingTable, table)
		}
	}
	return nil
}
