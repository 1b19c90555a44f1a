package types

import "time"

type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
)

// Reasons recorded on access events. Deny reasons are consumed by the
// audit UI, so the strings are part of the contract.
const (
	ReasonUnknownTag           = "unknown tag"
	ReasonTagBlocked           = "tag blocked"
	ReasonTagUnassigned        = "tag unassigned"
	ReasonPersonInactive       = "person inactive"
	ReasonVisitorExpired       = "visitor validity expired"
	ReasonDirectoryUnavailable = "directory unavailable"
	ReasonDoorBusy             = "door busy"
	ReasonManual               = "manual"
	ReasonReEntry              = "re-entry"
)

// AccessEvent is the immutable audit fact. PersonName is copied at
// write time and never follows later edits to the person record.
// ExitAt is set at most once, and never on a denied event.
type AccessEvent struct {
	ID         string     `json:"id"`
	PersonID   string     `json:"person_id,omitempty"`
	PersonName string     `json:"person_name,omitempty"`
	TagUID     *uint64    `json:"tag_uid,omitempty"`
	Operator   string     `json:"operator,omitempty"`
	EntryAt    time.Time  `json:"entry_at"`
	ExitAt     *time.Time `json:"exit_at,omitempty"`
	Outcome    Outcome    `json:"outcome"`
	Reason     string     `json:"reason,omitempty"`
}

// Occupies reports whether the event puts its person inside: an allowed
// entry for a known person where the door actually opened.
func (e AccessEvent) Occupies() bool {
	return e.Outcome == OutcomeAllowed && e.PersonID != "" && e.Reason != ReasonDoorBusy
}

// Open reports whether the event still counts toward occupancy.
func (e AccessEvent) Open() bool {
	return e.Occupies() && e.ExitAt == nil
}

// Decision is the verifier's verdict for one presented tag.
type Decision struct {
	Allowed    bool
	PersonID   string
	PersonName string
	Reason     string
}

type ResultStatus string

const (
	StatusAllowed  ResultStatus = "allowed"
	StatusDenied   ResultStatus = "denied"
	StatusDoorBusy ResultStatus = "door_busy"
)

// AccessRequest is one tag presentation from the entry reader.
// EventID is optional; readers that retry after an error resend the
// same id so the audit record is written exactly once.
type AccessRequest struct {
	TagUID      uint64 `json:"tag_uid"`
	PresentedAt string `json:"presented_at,omitempty"`
	EventID     string `json:"event_id,omitempty"`
}

type AccessResponse struct {
	Status     ResultStatus `json:"status"`
	Allowed    bool         `json:"allowed"`
	DoorOpened bool         `json:"door_opened"`
	Reason     string       `json:"reason,omitempty"`
	PersonID   string       `json:"person_id,omitempty"`
	EventID    string       `json:"event_id"`
	Replayed   bool         `json:"replayed,omitempty"`
	ServerTime string       `json:"server_time"`
}

type ExitRequest struct {
	TagUID uint64 `json:"tag_uid"`
}

type ManualOpenRequest struct {
	Operator string `json:"operator"`
	EventID  string `json:"event_id,omitempty"`
}

type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

type Stats struct {
	Period           Period `json:"period"`
	Total            int    `json:"total"`
	Allowed          int    `json:"allowed"`
	Denied           int    `json:"denied"`
	CurrentOccupancy int    `json:"current_occupancy"`
}
