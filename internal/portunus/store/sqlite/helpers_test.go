package sqlite_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PRsofteng/start-control-access/internal/db"
	"github.com/PRsofteng/start-control-access/internal/logging"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production. Each test gets its own database, named after
// the test.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	name := "test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.OpenDSN(context.Background(), db.MemoryDSN(name), logging.Discard())
	require.NoError(t, err)

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn. The worker is closed
// automatically when the test finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}
