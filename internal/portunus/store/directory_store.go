package store

import (
	"context"
	"time"

	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

// DirectoryStore backs the credential directory. Writes come from
// directory management only; the access path only reads.
type DirectoryStore interface {
	GetPerson(ctx context.Context, id string) (types.Person, error)
	ListPersons(ctx context.Context) ([]types.Person, error)
	InsertPerson(ctx context.Context, p types.Person) error
	UpdatePerson(ctx context.Context, p types.Person) error

	GetTag(ctx context.Context, uid uint64) (types.Tag, error)
	ListTags(ctx context.Context) ([]types.Tag, error)
	InsertTag(ctx context.Context, t types.Tag) error

	// SetTagOwner overwrites the owner link. An empty ownerID unassigns.
	SetTagOwner(ctx context.Context, uid uint64, ownerID string, at time.Time) error
	SetTagBlocked(ctx context.Context, uid uint64, blocked bool) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
