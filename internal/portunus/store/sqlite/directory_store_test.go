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

func newDirectoryStore(t *testing.T) *sqlitestore.DirectoryStore {
	t.Helper()
	conn := openTestDB(t)
	return sqlitestore.NewDirectoryStore(conn, newTestWriter(t, conn))
}

func TestDirectoryStore_PersonRoundTrip(t *testing.T) {
	s := newDirectoryStore(t)
	ctx := context.Background()

	until := t0.Add(24 * time.Hour)
	visitor := types.Person{
		ID: "v-1", Category: types.CategoryVisitor, DisplayName: "Carlos Oliveira",
		Active: true, ValidUntil: &until, CreatedAt: t0,
	}
	require.NoError(t, s.InsertPerson(ctx, visitor))

	got, err := s.GetPerson(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, types.CategoryVisitor, got.Category)
	assert.True(t, got.Active)
	require.NotNil(t, got.ValidUntil)
	assert.True(t, got.ValidUntil.Equal(until))

	assert.ErrorIs(t, s.InsertPerson(ctx, visitor), store.ErrConflict)

	got.Active = false
	require.NoError(t, s.UpdatePerson(ctx, got))
	got, err = s.GetPerson(ctx, "v-1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = s.GetPerson(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdatePerson(ctx, types.Person{ID: "missing", Category: types.CategoryEmployee}), store.ErrNotFound)
}

func TestDirectoryStore_EmployeeCannotCarryValidity(t *testing.T) {
	s := newDirectoryStore(t)
	until := t0
	err := s.InsertPerson(context.Background(), types.Person{
		ID: "e-1", Category: types.CategoryEmployee, DisplayName: "x", Active: true,
		ValidUntil: &until, CreatedAt: t0,
	})
	assert.Error(t, err)
}

func TestDirectoryStore_ListPersonsSortedByName(t *testing.T) {
	s := newDirectoryStore(t)
	ctx := context.Background()

	for _, p := range []types.Person{
		{ID: "2", Category: types.CategoryEmployee, DisplayName: "Maria Souza", Active: true, CreatedAt: t0},
		{ID: "1", Category: types.CategoryEmployee, DisplayName: "João Silva", Active: true, CreatedAt: t0},
	} {
		require.NoError(t, s.InsertPerson(ctx, p))
	}

	all, err := s.ListPersons(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "João Silva", all[0].DisplayName)
}

func TestDirectoryStore_TagLifecycle(t *testing.T) {
	s := newDirectoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertPerson(ctx, types.Person{
		ID: "p-1", Category: types.CategoryEmployee, DisplayName: "João Silva", Active: true, CreatedAt: t0,
	}))
	require.NoError(t, s.InsertTag(ctx, types.Tag{UID: 1234567890, Label: "blue fob", CreatedAt: t0}))
	assert.ErrorIs(t, s.InsertTag(ctx, types.Tag{UID: 1234567890, CreatedAt: t0}), store.ErrConflict)

	tag, err := s.GetTag(ctx, 1234567890)
	require.NoError(t, err)
	assert.Empty(t, tag.OwnerID)
	assert.Nil(t, tag.AssignedAt)
	assert.Equal(t, "blue fob", tag.Label)

	at := t0.Add(time.Minute)
	require.NoError(t, s.SetTagOwner(ctx, 1234567890, "p-1", at))
	tag, err = s.GetTag(ctx, 1234567890)
	require.NoError(t, err)
	assert.Equal(t, "p-1", tag.OwnerID)
	require.NotNil(t, tag.AssignedAt)
	assert.True(t, tag.AssignedAt.Equal(at))

	require.NoError(t, s.SetTagBlocked(ctx, 1234567890, true))
	tag, err = s.GetTag(ctx, 1234567890)
	require.NoError(t, err)
	assert.True(t, tag.Blocked)

	require.NoError(t, s.SetTagOwner(ctx, 1234567890, "", at))
	tag, err = s.GetTag(ctx, 1234567890)
	require.NoError(t, err)
	assert.Empty(t, tag.OwnerID)
	assert.Nil(t, tag.AssignedAt)

	assert.ErrorIs(t, s.SetTagBlocked(ctx, 42, true), store.ErrNotFound)
	assert.ErrorIs(t, s.SetTagOwner(ctx, 42, "p-1", at), store.ErrNotFound)
}

func TestDirectoryStore_TagOwnerMustExist(t *testing.T) {
	s := newDirectoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertTag(ctx, types.Tag{UID: 7, CreatedAt: t0}))
	assert.Error(t, s.SetTagOwner(ctx, 7, "ghost", t0))
}

func TestDirectoryStore_Ping(t *testing.T) {
	assert.NoError(t, newDirectoryStore(t).Ping(context.Background()))
}
