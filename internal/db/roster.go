package db

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Roster is the YAML bootstrap file for the credential directory:
//
//	persons:
//	  - id: joao
//	    category: employee
//	    name: João Silva
//	tags:
//	  - uid: 1234567890
//	    owner: joao
type Roster struct {
	Persons []RosterPerson `yaml:"persons"`
	Tags    []RosterTag    `yaml:"tags"`
}

type RosterPerson struct {
	ID         string     `yaml:"id"`
	Category   string     `yaml:"category"`
	Name       string     `yaml:"name"`
	Active     *bool      `yaml:"active,omitempty"`
	ValidUntil *time.Time `yaml:"valid_until,omitempty"`
}

type RosterTag struct {
	UID     uint64 `yaml:"uid"`
	Owner   string `yaml:"owner,omitempty"`
	Label   string `yaml:"label,omitempty"`
	Blocked bool   `yaml:"blocked,omitempty"`
}

func LoadRoster(path string) (Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return Roster{}, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()
	return ParseRoster(f)
}

// ParseRoster decodes a roster, rejecting unknown keys so that typos in
// hand-written files fail loudly.
func ParseRoster(r io.Reader) (Roster, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var roster Roster
	if err := dec.Decode(&roster); err != nil {
		if errors.Is(err, io.EOF) {
			return Roster{}, nil
		}
		return Roster{}, fmt.Errorf("decode roster: %w", err)
	}
	return roster, nil
}

// DevRoster is the fixture loaded in dev environments: one active
// employee with a tag, one unassigned tag, and one expired visitor.
func DevRoster(now time.Time) Roster {
	expired := now.Add(-24 * time.Hour)
	return Roster{
		Persons: []RosterPerson{
			{ID: "dev-joao-silva", Category: "employee", Name: "João Silva"},
			{ID: "dev-maria-souza", Category: "employee", Name: "Maria Souza"},
			{ID: "dev-carlos-oliveira", Category: "visitor", Name: "Carlos Oliveira", ValidUntil: &expired},
		},
		Tags: []RosterTag{
			{UID: 1234567890, Owner: "dev-joao-silva", Label: "João badge"},
			{UID: 987654321, Owner: "dev-maria-souza", Label: "Maria badge"},
			{UID: 567890123, Label: "spare"},
			{UID: 456789012, Owner: "dev-carlos-oliveira", Label: "visitor badge"},
		},
	}
}
