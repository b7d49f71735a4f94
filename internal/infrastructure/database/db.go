package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/trailstack/ledgertrail/internal/config"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB wraps the sqlx connection to the record store. The store runs on
// embedded SQLite by default and on PostgreSQL when configured; all repo
// queries are written with ? placeholders and rebound per driver.
type DB struct {
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

// NewDB opens the record store, configures the connection pool and creates
// the schema if it does not exist yet.
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	if cfg.Driver == DriverSQLite {
		if dir := filepath.Dir(cfg.DSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// A single writer connection avoids SQLITE_BUSY under concurrent
		// body upserts; WAL keeps readers unblocked meanwhile.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Connected to record store",
		zap.String("driver", cfg.Driver),
		zap.String("dsn", cfg.DSN),
	)

	return &DB{
		db:     db,
		driver: cfg.Driver,
		logger: logger,
	}, nil
}

// initSchema creates the three store tables. All timestamps persist as
// unix seconds and snapshots as JSON text, so the DDL is portable across
// SQLite and PostgreSQL.
func initSchema(ctx context.Context, db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS record_refs (
			account       TEXT   NOT NULL,
			record_id     TEXT   NOT NULL,
			sequence_hint BIGINT NOT NULL DEFAULT 0,
			observed_time BIGINT,
			error_marker  TEXT,
			fetched_at    BIGINT NOT NULL,
			PRIMARY KEY (account, record_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_record_refs_account_seq
			ON record_refs (account, sequence_hint DESC)`,
		`CREATE TABLE IF NOT EXISTS record_bodies (
			record_id     TEXT   NOT NULL PRIMARY KEY,
			sequence_hint BIGINT NOT NULL DEFAULT 0,
			observed_time BIGINT,
			error_marker  TEXT,
			payload       TEXT   NOT NULL,
			fetched_at    BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS account_sync_state (
			account                  TEXT   NOT NULL PRIMARY KEY,
			total_known_record_count BIGINT NOT NULL DEFAULT 0,
			most_recent_record_id    TEXT,
			last_snapshot            TEXT,
			last_sync_time           BIGINT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// DB returns the underlying sqlx.DB
func (d *DB) DB() *sqlx.DB {
	return d.db
}

// Driver returns the configured driver name
func (d *DB) Driver() string {
	return d.driver
}

// HealthCheck performs a health check on the database
func (d *DB) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
