package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PRsofteng/start-control-access/internal/clock"
	"github.com/PRsofteng/start-control-access/internal/db"
	"github.com/PRsofteng/start-control-access/internal/portunus/store"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

// Directory is the credential directory: person and tag management plus
// the Resolve lookup used on the access path.
type Directory struct {
	store  store.DirectoryStore
	clk    clock.Clock
	logger *slog.Logger
}

func NewDirectory(st store.DirectoryStore, clk clock.Clock, logger *slog.Logger) *Directory {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{store: st, clk: clk, logger: logger}
}

type PersonInput struct {
	ID          string               `json:"id,omitempty"`
	Category    types.PersonCategory `json:"category"`
	DisplayName string               `json:"display_name"`
	Active      *bool                `json:"active,omitempty"`
	ValidUntil  *time.Time           `json:"valid_until,omitempty"`
}

type TagInput struct {
	UID     uint64 `json:"uid"`
	OwnerID string `json:"owner_id,omitempty"`
	Label   string `json:"label,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`
}

// Resolve returns the tag and its owner. store.ErrNotFound means the uid
// is unknown; any other error means the directory could not be read.
func (d *Directory) Resolve(ctx context.Context, uid uint64) (types.Credential, error) {
	tag, err := d.store.GetTag(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Credential{}, err
		}
		return types.Credential{}, fmt.Errorf("resolve tag %d: %w", uid, err)
	}

	cred := types.Credential{Tag: tag}
	if tag.OwnerID == "" {
		return cred, nil
	}

	p, err := d.store.GetPerson(ctx, tag.OwnerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		d.logger.Warn("tag owner missing", "tag_uid", uid, "person_id", tag.OwnerID)
	case err != nil:
		return types.Credential{}, fmt.Errorf("resolve owner %s: %w", tag.OwnerID, err)
	default:
		cred.Owner = &p
	}
	return cred, nil
}

func (d *Directory) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}

func (d *Directory) CreatePerson(ctx context.Context, in PersonInput) (types.Person, error) {
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		return types.Person{}, fmt.Errorf("%w: display_name is required", ErrInvalidPerson)
	}
	if !in.Category.Valid() {
		return types.Person{}, fmt.Errorf("%w: category must be employee or visitor", ErrInvalidPerson)
	}
	if in.ValidUntil != nil && in.Category != types.CategoryVisitor {
		return types.Person{}, fmt.Errorf("%w: only visitors carry a validity end", ErrInvalidPerson)
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = newID()
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	p := types.Person{
		ID:          id,
		Category:    in.Category,
		DisplayName: name,
		Active:      active,
		CreatedAt:   d.clk.Now(),
	}
	if in.ValidUntil != nil {
		v := in.ValidUntil.UTC()
		p.ValidUntil = &v
	}

	if err := d.store.InsertPerson(ctx, p); err != nil {
		return types.Person{}, err
	}
	d.logger.Info("person created", "person_id", p.ID, "category", p.Category)
	return p, nil
}

func (d *Directory) GetPerson(ctx context.Context, id string) (types.Person, error) {
	return d.store.GetPerson(ctx, strings.TrimSpace(id))
}

func (d *Directory) ListPersons(ctx context.Context) ([]types.Person, error) {
	return d.store.ListPersons(ctx)
}

func (d *Directory) SetPersonActive(ctx context.Context, id string, active bool) (types.Person, error) {
	p, err := d.store.GetPerson(ctx, id)
	if err != nil {
		return types.Person{}, err
	}
	p.Active = active
	if err := d.store.UpdatePerson(ctx, p); err != nil {
		return types.Person{}, err
	}
	d.logger.Info("person active changed", "person_id", id, "active", active)
	return p, nil
}

// ExtendValidity moves a visitor's validity end. It does not reactivate
// a visitor that was deactivated by hand.
func (d *Directory) ExtendValidity(ctx context.Context, id string, until time.Time) (types.Person, error) {
	p, err := d.store.GetPerson(ctx, id)
	if err != nil {
		return types.Person{}, err
	}
	if p.Category != types.CategoryVisitor {
		return types.Person{}, fmt.Errorf("%w: only visitors carry a validity end", ErrInvalidPerson)
	}
	u := until.UTC()
	p.ValidUntil = &u
	if err := d.store.UpdatePerson(ctx, p); err != nil {
		return types.Person{}, err
	}
	d.logger.Info("visitor validity extended", "person_id", id, "valid_until", u)
	return p, nil
}

func (d *Directory) CreateTag(ctx context.Context, in TagInput) (types.Tag, error) {
	if in.UID == 0 {
		return types.Tag{}, ErrInvalidTagUID
	}
	now := d.clk.Now()
	t := types.Tag{
		UID:       in.UID,
		Label:     strings.TrimSpace(in.Label),
		Blocked:   in.Blocked,
		CreatedAt: now,
	}
	if owner := strings.TrimSpace(in.OwnerID); owner != "" {
		if err := d.requirePerson(ctx, owner); err != nil {
			return types.Tag{}, err
		}
		t.OwnerID = owner
		t.AssignedAt = &now
	}

	if err := d.store.InsertTag(ctx, t); err != nil {
		return types.Tag{}, err
	}
	d.logger.Info("tag created", "tag_uid", t.UID, "person_id", t.OwnerID)
	return t, nil
}

func (d *Directory) GetTag(ctx context.Context, uid uint64) (types.Tag, error) {
	return d.store.GetTag(ctx, uid)
}

func (d *Directory) ListTags(ctx context.Context) ([]types.Tag, error) {
	return d.store.ListTags(ctx)
}

// AssignTag overwrites whatever owner the tag had. The previous holder
// survives only in the access log.
func (d *Directory) AssignTag(ctx context.Context, uid uint64, personID string) (types.Tag, error) {
	personID = strings.TrimSpace(personID)
	if personID == "" {
		return types.Tag{}, fmt.Errorf("%w: person id is required", ErrInvalidPerson)
	}
	if err := d.requirePerson(ctx, personID); err != nil {
		return types.Tag{}, err
	}
	if err := d.store.SetTagOwner(ctx, uid, personID, d.clk.Now()); err != nil {
		return types.Tag{}, err
	}
	d.logger.Info("tag assigned", "tag_uid", uid, "person_id", personID)
	return d.store.GetTag(ctx, uid)
}

func (d *Directory) UnassignTag(ctx context.Context, uid uint64) (types.Tag, error) {
	if err := d.store.SetTagOwner(ctx, uid, "", d.clk.Now()); err != nil {
		return types.Tag{}, err
	}
	d.logger.Info("tag unassigned", "tag_uid", uid)
	return d.store.GetTag(ctx, uid)
}

func (d *Directory) SetTagBlocked(ctx context.Context, uid uint64, blocked bool) (types.Tag, error) {
	if err := d.store.SetTagBlocked(ctx, uid, blocked); err != nil {
		return types.Tag{}, err
	}
	d.logger.Info("tag blocked changed", "tag_uid", uid, "blocked", blocked)
	return d.store.GetTag(ctx, uid)
}

// RosterResult counts what ImportRoster changed.
type RosterResult struct {
	PersonsCreated int `json:"persons_created"`
	TagsCreated    int `json:"tags_created"`
	TagsUpdated    int `json:"tags_updated"`
}

// ImportRoster creates missing persons and tags. Existing persons are
// left alone; existing tags are brought in line with the roster's owner
// and blocked flag. Running the same roster twice changes nothing.
func (d *Directory) ImportRoster(ctx context.Context, r db.Roster) (RosterResult, error) {
	var res RosterResult

	for _, rp := range r.Persons {
		_, err := d.CreatePerson(ctx, PersonInput{
			ID:          rp.ID,
			Category:    types.PersonCategory(rp.Category),
			DisplayName: rp.Name,
			Active:      rp.Active,
			ValidUntil:  rp.ValidUntil,
		})
		switch {
		case err == nil:
			res.PersonsCreated++
		case errors.Is(err, store.ErrConflict):
		default:
			return res, fmt.Errorf("roster person %q: %w", rp.ID, err)
		}
	}

	for _, rt := range r.Tags {
		existing, err := d.store.GetTag(ctx, rt.UID)
		if errors.Is(err, store.ErrNotFound) {
			if _, err := d.CreateTag(ctx, TagInput{UID: rt.UID, OwnerID: rt.Owner, Label: rt.Label, Blocked: rt.Blocked}); err != nil {
				return res, fmt.Errorf("roster tag %d: %w", rt.UID, err)
			}
			res.TagsCreated++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("roster tag %d: %w", rt.UID, err)
		}

		changed := false
		if existing.OwnerID != rt.Owner {
			if rt.Owner == "" {
				_, err = d.UnassignTag(ctx, rt.UID)
			} else {
				_, err = d.AssignTag(ctx, rt.UID, rt.Owner)
			}
			if err != nil {
				return res, fmt.Errorf("roster tag %d: %w", rt.UID, err)
			}
			changed = true
		}
		if existing.Blocked != rt.Blocked {
			if _, err := d.SetTagBlocked(ctx, rt.UID, rt.Blocked); err != nil {
				return res, fmt.Errorf("roster tag %d: %w", rt.UID, err)
			}
			changed = true
		}
		if changed {
			res.TagsUpdated++
		}
	}

	d.logger.Info("roster imported",
		"persons_created", res.PersonsCreated,
		"tags_created", res.TagsCreated,
		"tags_updated", res.TagsUpdated)
	return res, nil
}

func (d *Directory) requirePerson(ctx context.Context, id string) error {
	_, err := d.store.GetPerson(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: unknown person %q", ErrInvalidPerson, id)
	}
	return err
}

// newID returns a time-ordered UUIDv7, falling back to v4 if the clock
// source fails.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
