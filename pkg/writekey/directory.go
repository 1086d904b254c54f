// Package writekey resolves opaque write keys to the project/environment
// identity they authenticate. The directory is read-only here: key
// management belongs to the project service.
package writekey

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a write key matches no environment. It is a
// normal lookup result; the ingestion endpoint maps it to an
// authentication failure.
var ErrNotFound = errors.New("write key not found")

// Identity is the project/environment pair a write key authenticates.
type Identity struct {
	ProjectID     string
	EnvironmentID string
}

// Directory resolves write keys to identities.
type Directory interface {
	Resolve(writeKey string) (Identity, error)
}

// Mapping declares one write key binding, typically loaded from
// configuration. A project carries one key per environment.
type Mapping struct {
	WriteKey      string
	ProjectID     string
	EnvironmentID string
}

// StaticDirectory is an immutable in-memory directory with O(1) lookup.
type StaticDirectory struct {
	byKey map[string]Identity
}

// NewStaticDirectory builds a directory from mappings. Blank keys and keys
// bound to more than one environment are rejected: a key must never
// resolve ambiguously.
func NewStaticDirectory(mappings []Mapping) (*StaticDirectory, error) {
	byKey := make(map[string]Identity, len(mappings))
	for _, m := range mappings {
		key := strings.TrimSpace(m.WriteKey)
		if key == "" {
			return nil, fmt.Errorf("write key for %s/%s is empty", m.ProjectID, m.EnvironmentID)
		}
		if m.ProjectID == "" || m.EnvironmentID == "" {
			return nil, fmt.Errorf("write key %s has no project/environment binding", Truncate(key))
		}
		if existing, ok := byKey[key]; ok {
			return nil, fmt.Errorf("write key %s is ambiguous: bound to %s/%s and %s/%s",
				Truncate(key), existing.ProjectID, existing.EnvironmentID, m.ProjectID, m.EnvironmentID)
		}
		byKey[key] = Identity{ProjectID: m.ProjectID, EnvironmentID: m.EnvironmentID}
	}
	return &StaticDirectory{byKey: byKey}, nil
}

// Resolve returns the identity for writeKey, or ErrNotFound.
func (d *StaticDirectory) Resolve(writeKey string) (Identity, error) {
	id, ok := d.byKey[writeKey]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return id, nil
}

// Truncate returns the loggable prefix of a write key. Full keys must
// never reach logs.
func Truncate(writeKey string) string {
	const visible = 12
	if len(writeKey) > visible {
		writeKey = writeKey[:visible]
	}
	return writeKey + "..."
}
