package store

import (
	"sort"

	"tableturn.gg/internal/encounter"
	"tableturn.gg/internal/grid"
)

// Export is a deep copy of everything the store holds, in deterministic
// order. It is the unit of state handed to the snapshot writer.
type Export struct {
	Entities     map[encounter.EntityKind][]string
	Interactions []*encounter.Interaction
	Turns        []*encounter.Turn
	Maps         []*grid.MapInstance
}

func (m *Memory) Export() Export {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ex := Export{Entities: make(map[encounter.EntityKind][]string, len(m.entities))}
	for kind, bucket := range m.entities {
		ids := make([]string, 0, len(bucket))
		for id := range bucket {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		ex.Entities[kind] = ids
	}
	for _, in := range m.interactions {
		ex.Interactions = append(ex.Interactions, in.Clone())
	}
	for _, t := range m.turns {
		ex.Turns = append(ex.Turns, t.Clone())
	}
	for _, mi := range m.maps {
		ex.Maps = append(ex.Maps, mi.Clone())
	}
	sort.Slice(ex.Interactions, func(i, j int) bool { return ex.Interactions[i].ID < ex.Interactions[j].ID })
	sort.Slice(ex.Turns, func(i, j int) bool { return ex.Turns[i].ID < ex.Turns[j].ID })
	sort.Slice(ex.Maps, func(i, j int) bool { return ex.Maps[i].ID < ex.Maps[j].ID })
	return ex
}

// Import replaces the store contents wholesale. It is meant for startup
// restore, before any client connects, and does not notify subscribers.
func (m *Memory) Import(ex Export) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entities = make(map[encounter.EntityKind]map[string]struct{}, len(ex.Entities))
	for kind, ids := range ex.Entities {
		bucket := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			bucket[id] = struct{}{}
		}
		m.entities[kind] = bucket
	}
	m.interactions = make(map[string]*encounter.Interaction, len(ex.Interactions))
	for _, in := range ex.Interactions {
		m.interactions[in.ID] = in.Clone()
	}
	m.turns = make(map[string]*encounter.Turn, len(ex.Turns))
	for _, t := range ex.Turns {
		m.turns[t.ID] = t.Clone()
	}
	m.maps = make(map[string]*grid.MapInstance, len(ex.Maps))
	for _, mi := range ex.Maps {
		m.maps[mi.ID] = mi.Clone()
	}
}
