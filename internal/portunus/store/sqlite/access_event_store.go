package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/PRsofteng/start-control-access/internal/db"
	"github.com/PRsofteng/start-control-access/internal/portunus/store"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

const eventColumns = `event_id, person_id, person_name, tag_uid, operator,
  entry_at_ms, exit_at_ms, outcome, reason`

// AppendEvent inserts the event. A row with the same event_id is left
// untouched, which makes retries with a pre-generated id safe.
func (s *AccessEventStore) AppendEvent(ctx context.Context, ev types.AccessEvent) error {
	if ev.ID == "" {
		return errors.New("AppendEvent: event id is required")
	}
	if ev.Outcome == types.OutcomeDenied && ev.ExitAt != nil {
		return errors.New("AppendEvent: denied events never carry an exit time")
	}

	var tagUID any
	if ev.TagUID != nil {
		tagUID = int64(*ev.TagUID)
	}
	var exitMs any
	if ev.ExitAt != nil {
		exitMs = ev.ExitAt.UTC().UnixMilli()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(`+eventColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO NOTHING;
`,
			ev.ID, nullString(ev.PersonID), nullString(ev.PersonName), tagUID, nullString(ev.Operator),
			ev.EntryAt.UTC().UnixMilli(), exitMs, string(ev.Outcome), nullString(ev.Reason),
		); err != nil {
			return fmt.Errorf("AppendEvent insert: %w", err)
		}
		return nil
	})
}

func (s *AccessEventStore) GetEvent(ctx context.Context, id string) (types.AccessEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM access_events WHERE event_id = ?;`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AccessEvent{}, store.ErrNotFound
	}
	if err != nil {
		return types.AccessEvent{}, fmt.Errorf("GetEvent: %w", err)
	}
	return ev, nil
}

// CloseEvent stamps the exit time. The check and the update run in the
// same write transaction, so two closers cannot both succeed.
func (s *AccessEventStore) CloseEvent(ctx context.Context, id string, exitAt time.Time) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ev, err := scanEvent(tx.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM access_events WHERE event_id = ?;`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("CloseEvent lookup: %w", err)
		}
		if !ev.Occupies() {
			return store.ErrNotClosable
		}
		if ev.ExitAt != nil {
			return store.ErrAlreadyClosed
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE access_events SET exit_at_ms = ?
WHERE event_id = ? AND exit_at_ms IS NULL;
`, exitAt.UTC().UnixMilli(), id); err != nil {
			return fmt.Errorf("CloseEvent update: %w", err)
		}
		return nil
	})
}

func (s *AccessEventStore) ListEvents(ctx context.Context, f store.EventFilter) ([]types.AccessEvent, error) {
	var (
		where []string
		args  []any
	)
	if !f.From.IsZero() {
		where = append(where, "entry_at_ms >= ?")
		args = append(args, f.From.UTC().UnixMilli())
	}
	if !f.To.IsZero() {
		where = append(where, "entry_at_ms < ?")
		args = append(args, f.To.UTC().UnixMilli())
	}
	if f.PersonID != "" {
		where = append(where, "person_id = ?")
		args = append(args, f.PersonID)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}

	q := `SELECT ` + eventColumns + ` FROM access_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY entry_at_ms DESC, seq DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return s.query(ctx, "ListEvents", q, args...)
}

func (s *AccessEventStore) OpenEntries(ctx context.Context) ([]types.AccessEvent, error) {
	return s.query(ctx, "OpenEntries", `
SELECT `+eventColumns+` FROM access_events
WHERE outcome = 'allowed' AND exit_at_ms IS NULL AND person_id IS NOT NULL
  AND (reason IS NULL OR reason <> ?)
ORDER BY seq ASC;
`, types.ReasonDoorBusy)
}

func (s *AccessEventStore) query(ctx context.Context, op, q string, args ...any) ([]types.AccessEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	var out []types.AccessEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (types.AccessEvent, error) {
	var (
		ev         types.AccessEvent
		personID   sql.NullString
		personName sql.NullString
		tagUID     sql.NullInt64
		operator   sql.NullString
		entryMs    int64
		exitMs     sql.NullInt64
		outcome    string
		reason     sql.NullString
	)
	if err := sc.Scan(&ev.ID, &personID, &personName, &tagUID, &operator,
		&entryMs, &exitMs, &outcome, &reason); err != nil {
		return types.AccessEvent{}, err
	}

	ev.PersonID = personID.String
	ev.PersonName = personName.String
	ev.Operator = operator.String
	ev.Reason = reason.String
	ev.Outcome = types.Outcome(outcome)
	ev.EntryAt = time.UnixMilli(entryMs).UTC()
	if tagUID.Valid {
		uid := uint64(tagUID.Int64)
		ev.TagUID = &uid
	}
	if exitMs.Valid {
		t := time.UnixMilli(exitMs.Int64).UTC()
		ev.ExitAt = &t
	}
	return ev, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
