package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/tally/pkg/audit"
)

// Dialect maps the configured database driver to the audit SQL dialect
func (c Config) Dialect() (audit.Dialect, error) {
	switch c.DatabaseDriver {
	case "", "postgres", "postgresql":
		return audit.DialectPostgres, nil
	case "sqlite", "sqlite3":
		return audit.DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
}

// OpenDB opens and pings the audit database
func OpenDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if dialect == audit.DialectSQLite {
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MinConns)
		db.SetConnMaxLifetime(cfg.MaxLifetime)
		db.SetConnMaxIdleTime(cfg.MaxIdleTime)
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
