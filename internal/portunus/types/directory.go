package types

import "time"

type PersonCategory string

const (
	CategoryEmployee PersonCategory = "employee"
	CategoryVisitor  PersonCategory = "visitor"
)

func (c PersonCategory) Valid() bool {
	return c == CategoryEmployee || c == CategoryVisitor
}

// Person is never deleted, only deactivated, so that audit records
// keep resolving.
type Person struct {
	ID          string         `json:"id"`
	Category    PersonCategory `json:"category"`
	DisplayName string         `json:"display_name"`
	Active      bool           `json:"active"`
	ValidUntil  *time.Time     `json:"valid_until,omitempty"` // visitors only
	CreatedAt   time.Time      `json:"created_at"`
}

// EffectivelyActive folds visitor expiry into the active flag: a visitor
// whose validity ended before now is inactive whatever Active says.
func (p Person) EffectivelyActive(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.Category == CategoryVisitor && p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return false
	}
	return true
}

// Tag is an RFID credential. OwnerID is empty for unassigned tags.
type Tag struct {
	UID        uint64     `json:"uid"`
	OwnerID    string     `json:"owner_id,omitempty"`
	Label      string     `json:"label,omitempty"`
	Blocked    bool       `json:"blocked"`
	CreatedAt  time.Time  `json:"created_at"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
}

// Credential is what the directory resolves a presented uid to. Owner
// is nil when the tag is unassigned or its owner record is missing.
type Credential struct {
	Tag   Tag
	Owner *Person
}
