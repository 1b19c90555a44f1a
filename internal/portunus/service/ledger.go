package service

import (
	"sort"
	"sync"

	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

// Ledger tracks who is inside: one open entry event per person. It is
// updated incrementally by the coordinator and rebuilt from the event
// log on start.
type Ledger struct {
	mu   sync.RWMutex
	open map[string]types.AccessEvent
}

func NewLedger() *Ledger {
	return &Ledger{open: make(map[string]types.AccessEvent)}
}

// Rebuild replaces the ledger with the given open entries. When a person
// has more than one, the newest is kept and the older ones are returned
// as stale so the caller can close them.
func (l *Ledger) Rebuild(entries []types.AccessEvent) (stale []types.AccessEvent) {
	open := make(map[string]types.AccessEvent, len(entries))
	for _, ev := range entries {
		if !ev.Open() {
			continue
		}
		prev, ok := open[ev.PersonID]
		switch {
		case !ok:
			open[ev.PersonID] = ev
		case ev.EntryAt.Before(prev.EntryAt):
			stale = append(stale, ev)
		default:
			stale = append(stale, prev)
			open[ev.PersonID] = ev
		}
	}

	l.mu.Lock()
	l.open = open
	l.mu.Unlock()
	return stale
}

// Enter records ev as its person's open entry, replacing any previous one.
func (l *Ledger) Enter(ev types.AccessEvent) {
	if !ev.Open() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open[ev.PersonID] = ev
}

// Exit removes the person's open entry, if any.
func (l *Ledger) Exit(personID string) (types.AccessEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.open[personID]
	if ok {
		delete(l.open, personID)
	}
	return ev, ok
}

func (l *Ledger) OpenEvent(personID string) (types.AccessEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ev, ok := l.open[personID]
	return ev, ok
}

func (l *Ledger) IsInside(personID string) bool {
	_, ok := l.OpenEvent(personID)
	return ok
}

func (l *Ledger) CurrentCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.open)
}

// Occupants returns the open entries, oldest first.
func (l *Ledger) Occupants() []types.AccessEvent {
	l.mu.RLock()
	out := make([]types.AccessEvent, 0, len(l.open))
	for _, ev := range l.open {
		out = append(out, ev)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryAt.Equal(out[j].EntryAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryAt.Before(out[j].EntryAt)
	})
	return out
}
