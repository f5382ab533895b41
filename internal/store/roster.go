package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tableturn.gg/internal/encounter"
)

// Roster lists the entity ids a server will resolve, keyed by kind. Anything
// not on the roster cannot be placed in an interaction or on a map.
type Roster map[encounter.EntityKind][]string

func LoadRoster(path string) (Roster, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Roster
	if err := yaml.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	for kind := range r {
		if !kind.Valid() {
			return nil, fmt.Errorf("roster %s: unknown entity kind %q", path, kind)
		}
	}
	return r, nil
}

// RegisterRoster makes every roster entry resolvable.
func (m *Memory) RegisterRoster(r Roster) {
	for kind, ids := range r {
		for _, id := range ids {
			m.RegisterEntity(kind, id)
		}
	}
}
