package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/PRsofteng/start-control-access/internal/portunus/store"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

// AccessEventStore is an in-memory append-only log of access events.
// It is intended for use in tests and dev environments.
type AccessEventStore struct {
	mu     sync.RWMutex
	events []types.AccessEvent
	byID   map[string]int
}

func NewAccessEventStore() *AccessEventStore {
	return &AccessEventStore{byID: make(map[string]int)}
}

func (s *AccessEventStore) AppendEvent(_ context.Context, ev types.AccessEvent) error {
	if ev.ID == "" {
		return errors.New("AppendEvent: event id is required")
	}
	if ev.Outcome == types.OutcomeDenied && ev.ExitAt != nil {
		return errors.New("AppendEvent: denied events never carry an exit time")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[ev.ID]; ok {
		return nil
	}
	s.byID[ev.ID] = len(s.events)
	s.events = append(s.events, cloneEvent(ev))
	return nil
}

func (s *AccessEventStore) GetEvent(_ context.Context, id string) (types.AccessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return types.AccessEvent{}, store.ErrNotFound
	}
	return cloneEvent(s.events[i]), nil
}

func (s *AccessEventStore) CloseEvent(_ context.Context, id string, exitAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	ev := &s.events[i]
	if !ev.Occupies() {
		return store.ErrNotClosable
	}
	if ev.ExitAt != nil {
		return store.ErrAlreadyClosed
	}
	t := exitAt.UTC()
	ev.ExitAt = &t
	return nil
}

func (s *AccessEventStore) ListEvents(_ context.Context, f store.EventFilter) ([]types.AccessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.AccessEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if f.Match(s.events[i]) {
			out = append(out, cloneEvent(s.events[i]))
		}
	}
	// Append order tracks entry order for live traffic; imported history
	// may not, so sort explicitly before applying the limit.
	sort.SliceStable(out, func(a, b int) bool { return out[a].EntryAt.After(out[b].EntryAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *AccessEventStore) OpenEntries(_ context.Context) ([]types.AccessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.AccessEvent
	for _, ev := range s.events {
		if ev.Open() {
			out = append(out, cloneEvent(ev))
		}
	}
	return out, nil
}

// Events returns a copy of all recorded events in append order.  Test-only helper.
func (s *AccessEventStore) Events() []types.AccessEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.AccessEvent, len(s.events))
	for i, ev := range s.events {
		out[i] = cloneEvent(ev)
	}
	return out
}

func cloneEvent(ev types.AccessEvent) types.AccessEvent {
	if ev.TagUID != nil {
		uid := *ev.TagUID
		ev.TagUID = &uid
	}
	if ev.ExitAt != nil {
		t := *ev.ExitAt
		ev.ExitAt = &t
	}
	return ev
}
