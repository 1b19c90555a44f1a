package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PRsofteng/start-control-access/internal/portunus/store"
	sqlitestore "github.com/PRsofteng/start-control-access/internal/portunus/store/sqlite"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

var t0 = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

func newEventStore(t *testing.T) *sqlitestore.AccessEventStore {
	t.Helper()
	conn := openTestDB(t)
	return sqlitestore.NewAccessEventStore(conn, newTestWriter(t, conn))
}

func allowed(id, person string, at time.Time) types.AccessEvent {
	uid := uint64(1234567890)
	return types.AccessEvent{
		ID:         id,
		PersonID:   person,
		PersonName: "João Silva",
		TagUID:     &uid,
		EntryAt:    at,
		Outcome:    types.OutcomeAllowed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// AppendEvent
// ═══════════════════════════════════════════════════════════════════════════

func TestAccessEventStore_AppendEvent_RoundTrip(t *testing.T) {
	s := newEventStore(t)
	ctx := context.Background()

	ev := allowed("ev-1", "p-1", t0)
	require.NoError(t, s.AppendEvent(ctx, ev))

	got, err := s.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "p-1", got.PersonID)
	assert.Equal(t, "João Silva", got.PersonName)
	require.NotNil(t, got.TagUID)
	assert.Equal(t, uint64(1234567890), *got.TagUID)
	assert.True(t, got.EntryAt.Equal(t0))
	assert.Nil(t, got.ExitAt)
	assert.Equal(t, types.OutcomeAllowed, got.Outcome)
}

func TestAccessEventStore_AppendEvent_SameIDIsNoop(t *testing.T) {
	s := newEventStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, allowed("ev-1", "p-1", t0)))

	retry := allowed("ev-1", "p-2", t0.Add(time.Minute))
	require.NoError(t, s.AppendEvent(ctx, retry))

	all, err := s.ListEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "p-1", all[0].PersonID, "first write wins")
}

func TestAccessEventStore_AppendEvent_DeniedWithExitRejected(t *testing.T) {
	s := newEventStore(t)

	ev := types.AccessEvent{ID: "ev-1", EntryAt: t0, Outcome: types.OutcomeDenied, ExitAt: &t0}
	assert.Error(t, s.AppendEvent(context.Background(), ev))
}

func TestAccessEventStore_AppendEvent_ManualOpenHasNoTag(t *testing.T) {
	s := newEventStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, types.AccessEvent{
		ID: "ev-m", Operator: "guard", EntryAt: t0,
		Outcome: types.OutcomeAllowed, Reason: types.ReasonManual,
	}))

	got, err := s.GetEvent(ctx, "ev-m")
	require.NoError(t, err)
	assert.Nil(t, got.TagUID)
	assert.Empty(t, got.PersonID)
	assert.Equal(t, "guard", got.Operator)
}

func TestAccessEventStore_GetEvent_NotFound(t *testing.T) {
	s := newEventStore(t)
	_, err := s.GetEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// ═══════════════════════════════════════════════════════════════════════════
// CloseEvent
// ═══════════════════════════════════════════════════════════════════════════

func TestAccessEventStore_CloseEvent_SetsExitOnce(t *testing.T) {
	s := newEventStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendEvent(ctx, allowed("ev-1", "p-1", t0)))

	exit := t0.Add(2 * time.Hour)
	require.NoError(t, s.CloseEvent(ctx, "ev-1", exit))

	got, err := s.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, got.ExitAt)
	assert.True(t, got.ExitAt.Equal(exit))

	err = s.CloseEvent(ctx, "ev-1", exit.Add(time.Hour))
	assert.ErrorIs(t, err, store.ErrAlreadyClosed)
}

func TestAccessEventStore_CloseEvent_DeniedNotClosable(t *testing.T) {
	s := newEventStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, types.AccessEvent{
		ID: "ev-d", EntryAt: t0, Outcome: types.OutcomeDenied, Reason: types.ReasonUnknownTag,
	}))
	assert.ErrorIs(t, s.CloseEvent(ctx, "ev-d", t0.Add(time.Minute)), store.ErrNotClosable)
	assert.ErrorIs(t, s.CloseEvent(ctx, "nope", t0), store.ErrNotFound)
}

// ═══════════════════════════════════════════════════════════════════════════
// ListEvents / OpenEntries
// ═══════════════════════════════════════════════════════════════════════════

func TestAccessEventStore_ListEvents_FiltersAndOrder(t *testing.T) {
	s := newEventStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, allowed("a", "p-1", t0)))
	require.NoError(t, s.AppendEvent(ctx, allowed("b", "p-2", t0.Add(time.Hour))))
	require.NoError(t, s.AppendEvent(ctx, types.AccessEvent{
		ID: "c", EntryAt: t0.Add(2 * time.Hour), Outcome: types.OutcomeDenied, Reason: types.ReasonUnknownTag,
	}))

	all, err := s.ListEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, ids(all))

	denied, err := s.ListEvents(ctx, store.EventFilter{Outcome: types.OutcomeDenied})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(denied))

	window, err := s.ListEvents(ctx, store.EventFilter{From: t0, To: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(window))

	person, err := s.ListEvents(ctx, store.EventFilter{PersonID: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(person))

	limited, err := s.ListEvents(ctx, store.EventFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(limited))
}

func TestAccessEventStore_OpenEntries_SkipsClosedAndBusy(t *testing.T) {
	s := newEventStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, allowed("open", "p-1", t0)))
	require.NoError(t, s.AppendEvent(ctx, allowed("closed", "p-2", t0)))
	require.NoError(t, s.CloseEvent(ctx, "closed", t0.Add(time.Minute)))

	busy := allowed("busy", "p-3", t0)
	busy.Reason = types.ReasonDoorBusy
	require.NoError(t, s.AppendEvent(ctx, busy))

	require.NoError(t, s.AppendEvent(ctx, types.AccessEvent{
		ID: "manual", Operator: "guard", EntryAt: t0, Outcome: types.OutcomeAllowed, Reason: types.ReasonManual,
	}))

	open, err := s.OpenEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"open"}, ids(open))
}

func TestAccessEventStore_RowsCannotBeDeleted(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewAccessEventStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, allowed("ev-1", "p-1", t0)))
	_, err := conn.ExecContext(ctx, `DELETE FROM access_events WHERE event_id = 'ev-1';`)
	assert.Error(t, err)
}

func ids(evs []types.AccessEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.ID)
	}
	return out
}
