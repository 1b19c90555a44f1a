package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PRsofteng/start-control-access/internal/portunus/service"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

func entry(id, person string, at time.Time) types.AccessEvent {
	return types.AccessEvent{ID: id, PersonID: person, EntryAt: at, Outcome: types.OutcomeAllowed}
}

func TestLedger_EnterExit(t *testing.T) {
	l := service.NewLedger()

	l.Enter(entry("a", "joao", epoch))
	l.Enter(entry("b", "maria", epoch))
	assert.Equal(t, 2, l.CurrentCount())
	assert.True(t, l.IsInside("joao"))

	ev, ok := l.Exit("joao")
	require.True(t, ok)
	assert.Equal(t, "a", ev.ID)
	assert.Equal(t, 1, l.CurrentCount())

	_, ok = l.Exit("joao")
	assert.False(t, ok)
	assert.Equal(t, 1, l.CurrentCount(), "count never goes negative")
}

func TestLedger_IgnoresNonOccupyingEvents(t *testing.T) {
	l := service.NewLedger()

	busy := entry("busy", "joao", epoch)
	busy.Reason = types.ReasonDoorBusy
	l.Enter(busy)

	l.Enter(types.AccessEvent{ID: "d", PersonID: "maria", Outcome: types.OutcomeDenied})
	l.Enter(types.AccessEvent{ID: "m", Operator: "guard", Outcome: types.OutcomeAllowed, Reason: types.ReasonManual})

	assert.Zero(t, l.CurrentCount())
}

func TestLedger_SamePersonCountsOnce(t *testing.T) {
	l := service.NewLedger()
	l.Enter(entry("a", "joao", epoch))
	l.Enter(entry("b", "joao", epoch.Add(time.Minute)))
	assert.Equal(t, 1, l.CurrentCount())
}

func TestLedger_RebuildKeepsNewestPerPerson(t *testing.T) {
	l := service.NewLedger()
	l.Enter(entry("gone", "ana", epoch))

	exit := epoch
	closed := entry("closed", "maria", epoch)
	closed.ExitAt = &exit

	stale := l.Rebuild([]types.AccessEvent{
		entry("j2", "joao", epoch.Add(time.Hour)),
		entry("j1", "joao", epoch),
		entry("j3", "joao", epoch.Add(2*time.Hour)),
		closed,
		entry("c", "carlos", epoch),
	})

	assert.Equal(t, 2, l.CurrentCount())
	assert.False(t, l.IsInside("ana"), "rebuild replaces previous state")
	open, _ := l.OpenEvent("joao")
	assert.Equal(t, "j3", open.ID)
	assert.ElementsMatch(t, []string{"j1", "j2"}, []string{stale[0].ID, stale[1].ID})
}

func TestLedger_OccupantsOldestFirst(t *testing.T) {
	l := service.NewLedger()
	l.Enter(entry("late", "maria", epoch.Add(time.Hour)))
	l.Enter(entry("early", "joao", epoch))

	occ := l.Occupants()
	require.Len(t, occ, 2)
	assert.Equal(t, "early", occ[0].ID)
	assert.Equal(t, "late", occ[1].ID)
}
