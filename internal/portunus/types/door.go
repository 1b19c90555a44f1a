package types

import "time"

type DoorState string

const (
	DoorClosed  DoorState = "closed"
	DoorOpening DoorState = "opening"
	DoorOpen    DoorState = "open"
	DoorClosing DoorState = "closing"
)

// DoorTransition is published on every door state change.
type DoorTransition struct {
	From  DoorState `json:"from"`
	To    DoorState `json:"to"`
	At    time.Time `json:"at"`
	Cycle uint64    `json:"cycle"`
}
