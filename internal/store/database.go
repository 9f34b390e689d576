// Package store provides PostgreSQL-backed persistence for every VulnDash
// domain record (raw entries, curated vulnerabilities, the review queue,
// the product inventory, and the config/alert tables) on top of a single
// connection pool.
package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vulndash/vulndash/internal/config"
	"github.com/vulndash/vulndash/internal/events"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps a PostgreSQL connection pool. Events is the lifecycle bus the
// Curated Store publishes KEV-transition and EPSS-threshold-crossing events
// to; callers that don't need alerting (migrations, one-off scripts) may
// leave it nil, in which case publish calls are no-ops.
type DB struct {
	Pool   *pgxpool.Pool
	Events *events.Bus
}

// New creates a new database connection pool.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool, Events: events.NewBus()}, nil
}

// publish fans an event out once db.Pool has confirmed the write that
// produced it committed; callers pass a commit error so a rollback never
// results in a published event. A nil Events bus (zero-value DB used in
// tests that don't care about alerting) makes this a no-op.
func (db *DB) publish(commitErr error, evts ...events.Event) {
	if commitErr != nil || db.Events == nil {
		return
	}
	for _, e := range evts {
		db.Events.Publish(e)
	}
}

// Migrate applies the embedded schema. Every statement in schema.sql is an
// idempotent CREATE/ADD IF NOT EXISTS, so running Migrate against an
// already-current database is a no-op.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health checks the database connection health.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// Stats returns connection pool statistics.
func (db *DB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}

// Exec executes a query without returning any rows.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("exec failed: %w", err)
	}
	return nil
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.Pool.QueryRow(ctx, sql, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

// BeginTx starts a transaction.
func (db *DB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// WithTx executes a function within a transaction. If the function returns
// an error, the transaction is rolled back; otherwise it is committed.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// =============================================================================
// Per-CVE advisory lock
// =============================================================================
//
// The curated-record write path must be serialized per CVE id: two raw
// entries resolving to the same CVE, or a reviewer approval racing an
// in-flight extraction, must not interleave their writes to the curated
// vulnerability row. WithCVELock acquires a dedicated connection, takes a
// Postgres transaction-scoped advisory lock keyed on the CVE id, and runs fn
// inside that locked transaction, releasing the lock when the transaction
// ends (commit, rollback, or panic).

// WithCVELock acquires pg_advisory_xact_lock(hashtext(cveID)) and runs fn
// inside the resulting transaction. The lock is held for the lifetime of
// the transaction and is released automatically on commit or rollback.
func (db *DB) WithCVELock(ctx context.Context, cveID string, fn func(tx pgx.Tx) error) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", cveID); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to acquire cve lock for %s: %w", cveID, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
