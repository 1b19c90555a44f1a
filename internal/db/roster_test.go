package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRoster = `
persons:
  - id: joao
    category: employee
    name: João Silva
  - id: carlos
    category: visitor
    name: Carlos Oliveira
    active: false
    valid_until: 2026-01-01T00:00:00Z
tags:
  - uid: 1234567890
    owner: joao
  - uid: 567890123
    label: spare
    blocked: true
`

func TestParseRoster(t *testing.T) {
	r, err := ParseRoster(strings.NewReader(sampleRoster))
	require.NoError(t, err)

	require.Len(t, r.Persons, 2)
	assert.Equal(t, "João Silva", r.Persons[0].Name)
	assert.Nil(t, r.Persons[0].Active)

	carlos := r.Persons[1]
	require.NotNil(t, carlos.Active)
	assert.False(t, *carlos.Active)
	require.NotNil(t, carlos.ValidUntil)
	assert.True(t, carlos.ValidUntil.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	require.Len(t, r.Tags, 2)
	assert.Equal(t, uint64(1234567890), r.Tags[0].UID)
	assert.Equal(t, "joao", r.Tags[0].Owner)
	assert.True(t, r.Tags[1].Blocked)
}

func TestParseRoster_UnknownFieldRejected(t *testing.T) {
	_, err := ParseRoster(strings.NewReader("persons:\n  - id: x\n    nmae: typo\n"))
	assert.Error(t, err)
}

func TestParseRoster_Empty(t *testing.T) {
	r, err := ParseRoster(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, r.Persons)
}

func TestLoadRoster_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRoster), 0o600))

	r, err := LoadRoster(path)
	require.NoError(t, err)
	assert.Len(t, r.Tags, 2)

	_, err = LoadRoster(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDevRoster_VisitorExpired(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := DevRoster(now)

	var found bool
	for _, p := range r.Persons {
		if p.Category == "visitor" {
			found = true
			require.NotNil(t, p.ValidUntil)
			assert.True(t, p.ValidUntil.Before(now))
		}
	}
	assert.True(t, found)
}
