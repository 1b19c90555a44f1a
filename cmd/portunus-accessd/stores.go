package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/PRsofteng/start-control-access/internal/config"
	"github.com/PRsofteng/start-control-access/internal/db"
	"github.com/PRsofteng/start-control-access/internal/portunus/store"
	"github.com/PRsofteng/start-control-access/internal/portunus/store/memory"
	"github.com/PRsofteng/start-control-access/internal/portunus/store/sqlite"
)

type stores struct {
	directory store.DirectoryStore
	events    store.AccessEventStore

	conn   *sql.DB
	writer *db.Worker
}

// openStores builds the stores cfg.Store selects. The sqlite database is
// migrated on open.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Store == "memory" {
		logger.Warn("using in-memory stores; access events will not survive a restart")
		return &stores{
			directory: memory.NewDirectoryStore(),
			events:    memory.NewAccessEventStore(),
		}, nil
	}

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	writer := db.NewWorker(conn)
	return &stores{
		directory: sqlite.NewDirectoryStore(conn, writer),
		events:    sqlite.NewAccessEventStore(conn, writer),
		conn:      conn,
		writer:    writer,
	}, nil
}

// Close drains pending writes before closing the database.
func (s *stores) Close() error {
	if s.writer != nil {
		s.writer.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
