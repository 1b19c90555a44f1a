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

// DirectoryStore persists persons and tags. Reads go straight to the
// pool; writes are serialized through the worker.
type DirectoryStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDirectoryStore(db *sql.DB, writer *dbpkg.Worker) *DirectoryStore {
	return &DirectoryStore{db: db, writer: writer}
}

const personColumns = `person_id, category, display_name, active, valid_until_ms, created_at_ms`

const tagColumns = `tag_uid, person_id, label, blocked, created_at_ms, assigned_at_ms`

func (s *DirectoryStore) GetPerson(ctx context.Context, id string) (types.Person, error) {
	p, err := scanPerson(s.db.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE person_id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Person{}, store.ErrNotFound
	}
	if err != nil {
		return types.Person{}, fmt.Errorf("GetPerson: %w", err)
	}
	return p, nil
}

func (s *DirectoryStore) ListPersons(ctx context.Context) ([]types.Person, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personColumns+` FROM persons ORDER BY display_name ASC, person_id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("ListPersons query: %w", err)
	}
	defer rows.Close()

	var out []types.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("ListPersons scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *DirectoryStore) InsertPerson(ctx context.Context, p types.Person) error {
	nowMs := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO persons(`+personColumns+`, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, p.ID, string(p.Category), p.DisplayName, boolInt(p.Active), timeMs(p.ValidUntil),
			p.CreatedAt.UTC().UnixMilli(), nowMs)
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("InsertPerson: %w", err)
		}
		return nil
	})
}

func (s *DirectoryStore) UpdatePerson(ctx context.Context, p types.Person) error {
	nowMs := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE persons
SET category = ?, display_name = ?, active = ?, valid_until_ms = ?, updated_at_ms = ?
WHERE person_id = ?;
`, string(p.Category), p.DisplayName, boolInt(p.Active), timeMs(p.ValidUntil), nowMs, p.ID)
		if err != nil {
			return fmt.Errorf("UpdatePerson: %w", err)
		}
		return requireOneRow(res)
	})
}

func (s *DirectoryStore) GetTag(ctx context.Context, uid uint64) (types.Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE tag_uid = ?;`, int64(uid)))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Tag{}, store.ErrNotFound
	}
	if err != nil {
		return types.Tag{}, fmt.Errorf("GetTag: %w", err)
	}
	return t, nil
}

func (s *DirectoryStore) ListTags(ctx context.Context) ([]types.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY tag_uid ASC;`)
	if err != nil {
		return nil, fmt.Errorf("ListTags query: %w", err)
	}
	defer rows.Close()

	var out []types.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("ListTags scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *DirectoryStore) InsertTag(ctx context.Context, t types.Tag) error {
	nowMs := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO tags(`+tagColumns+`, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, int64(t.UID), nullString(t.OwnerID), nullString(t.Label), boolInt(t.Blocked),
			t.CreatedAt.UTC().UnixMilli(), timeMs(t.AssignedAt), nowMs)
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("InsertTag: %w", err)
		}
		return nil
	})
}

func (s *DirectoryStore) SetTagOwner(ctx context.Context, uid uint64, ownerID string, at time.Time) error {
	var assignedMs any
	if ownerID != "" {
		assignedMs = at.UTC().UnixMilli()
	}
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE tags SET person_id = ?, assigned_at_ms = ?, updated_at_ms = ?
WHERE tag_uid = ?;
`, nullString(ownerID), assignedMs, nowMs, int64(uid))
		if err != nil {
			return fmt.Errorf("SetTagOwner: %w", err)
		}
		return requireOneRow(res)
	})
}

func (s *DirectoryStore) SetTagBlocked(ctx context.Context, uid uint64, blocked bool) error {
	nowMs := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tags SET blocked = ?, updated_at_ms = ? WHERE tag_uid = ?;`,
			boolInt(blocked), nowMs, int64(uid))
		if err != nil {
			return fmt.Errorf("SetTagBlocked: %w", err)
		}
		return requireOneRow(res)
	})
}

func (s *DirectoryStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanPerson(sc scanner) (types.Person, error) {
	var (
		p          types.Person
		category   string
		active     int
		validUntil sql.NullInt64
		createdMs  int64
	)
	if err := sc.Scan(&p.ID, &category, &p.DisplayName, &active, &validUntil, &createdMs); err != nil {
		return types.Person{}, err
	}
	p.Category = types.PersonCategory(category)
	p.Active = active == 1
	p.ValidUntil = msTime(validUntil)
	p.CreatedAt = time.UnixMilli(createdMs).UTC()
	return p, nil
}

func scanTag(sc scanner) (types.Tag, error) {
	var (
		t          types.Tag
		uid        int64
		owner      sql.NullString
		label      sql.NullString
		blocked    int
		createdMs  int64
		assignedMs sql.NullInt64
	)
	if err := sc.Scan(&uid, &owner, &label, &blocked, &createdMs, &assignedMs); err != nil {
		return types.Tag{}, err
	}
	t.UID = uint64(uid)
	t.OwnerID = owner.String
	t.Label = label.String
	t.Blocked = blocked == 1
	t.CreatedAt = time.UnixMilli(createdMs).UTC()
	t.AssignedAt = msTime(assignedMs)
	return t, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// isUniqueViolation matches on SQLite's constraint message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func msTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
