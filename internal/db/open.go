package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Config struct {
	Path string // e.g. "./data/portunus.db"
}

// pragmas applied to every connection through the modernc DSN.
const pragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

// DSN builds a modernc.org/sqlite DSN for a file database.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?%s", path, pragmas)
}

// MemoryDSN builds a DSN for a named shared-cache in-memory database.
// The name keeps separate tests isolated from each other.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", name, pragmas)
}

// Open creates the database directory if needed, opens a single-connection
// pool, and applies migrations.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/portunus.db"
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	return OpenDSN(ctx, DSN(cfg.Path), logger)
}

// OpenDSN opens and migrates the database behind dsn.
func OpenDSN(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// SQLite serializes writers anyway; one connection keeps the
	// in-memory shared cache alive and avoids SQLITE_BUSY churn.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if _, err := Migrate(ctx, conn, logger); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
