package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PRsofteng/start-control-access/internal/portunus/store"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

// DirectoryStore keeps persons and tags in maps guarded by a RWMutex so
// the access path can read while directory management writes.
type DirectoryStore struct {
	mu      sync.RWMutex
	persons map[string]types.Person
	tags    map[uint64]types.Tag
}

func NewDirectoryStore() *DirectoryStore {
	return &DirectoryStore{
		persons: make(map[string]types.Person),
		tags:    make(map[uint64]types.Tag),
	}
}

func (s *DirectoryStore) GetPerson(_ context.Context, id string) (types.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[id]
	if !ok {
		return types.Person{}, store.ErrNotFound
	}
	return clonePerson(p), nil
}

func (s *DirectoryStore) ListPersons(_ context.Context) ([]types.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Person, 0, len(s.persons))
	for _, p := range s.persons {
		out = append(out, clonePerson(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (s *DirectoryStore) InsertPerson(_ context.Context, p types.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persons[p.ID]; ok {
		return store.ErrConflict
	}
	s.persons[p.ID] = clonePerson(p)
	return nil
}

func (s *DirectoryStore) UpdatePerson(_ context.Context, p types.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persons[p.ID]; !ok {
		return store.ErrNotFound
	}
	s.persons[p.ID] = clonePerson(p)
	return nil
}

func (s *DirectoryStore) GetTag(_ context.Context, uid uint64) (types.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags[uid]
	if !ok {
		return types.Tag{}, store.ErrNotFound
	}
	return cloneTag(t), nil
}

func (s *DirectoryStore) ListTags(_ context.Context) ([]types.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Tag, 0, len(s.tags))
	for _, t := range s.tags {
		out = append(out, cloneTag(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (s *DirectoryStore) InsertTag(_ context.Context, t types.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tags[t.UID]; ok {
		return store.ErrConflict
	}
	s.tags[t.UID] = cloneTag(t)
	return nil
}

func (s *DirectoryStore) SetTagOwner(_ context.Context, uid uint64, ownerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[uid]
	if !ok {
		return store.ErrNotFound
	}
	t.OwnerID = ownerID
	if ownerID == "" {
		t.AssignedAt = nil
	} else {
		a := at.UTC()
		t.AssignedAt = &a
	}
	s.tags[uid] = t
	return nil
}

func (s *DirectoryStore) SetTagBlocked(_ context.Context, uid uint64, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[uid]
	if !ok {
		return store.ErrNotFound
	}
	t.Blocked = blocked
	s.tags[uid] = t
	return nil
}

func (s *DirectoryStore) Ping(context.Context) error { return nil }

func clonePerson(p types.Person) types.Person {
	if p.ValidUntil != nil {
		v := *p.ValidUntil
		p.ValidUntil = &v
	}
	return p
}

func cloneTag(t types.Tag) types.Tag {
	if t.AssignedAt != nil {
		a := *t.AssignedAt
		t.AssignedAt = &a
	}
	return t
}
