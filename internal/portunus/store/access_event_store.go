package store

import (
	"context"
	"time"

	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

// EventFilter narrows ListEvents. Zero values mean "no constraint".
// From is inclusive, To is exclusive, both on the entry time.
type EventFilter struct {
	From     time.Time
	To       time.Time
	PersonID string
	Outcome  types.Outcome
	Limit    int
}

// Match applies the filter to a single event.
func (f EventFilter) Match(ev types.AccessEvent) bool {
	if !f.From.IsZero() && ev.EntryAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !ev.EntryAt.Before(f.To) {
		return false
	}
	if f.PersonID != "" && ev.PersonID != f.PersonID {
		return false
	}
	if f.Outcome != "" && ev.Outcome != f.Outcome {
		return false
	}
	return true
}

// AccessEventStore persists access events as an append-only audit log.
//
// AppendEvent is idempotent on the event id: appending an id that is
// already stored is a no-op, so callers may retry with the same event.
// CloseEvent sets the exit time exactly once.
type AccessEventStore interface {
	AppendEvent(ctx context.Context, ev types.AccessEvent) error
	GetEvent(ctx context.Context, id string) (types.AccessEvent, error)
	CloseEvent(ctx context.Context, id string, exitAt time.Time) error

	// ListEvents returns matching events, newest first.
	ListEvents(ctx context.Context, f EventFilter) ([]types.AccessEvent, error)

	// OpenEntries returns every event that still counts toward
	// occupancy, oldest first.
	OpenEntries(ctx context.Context) ([]types.AccessEvent, error)
}
