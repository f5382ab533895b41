// Package store holds the authoritative in-memory state shared by every
// connected client, plus its change feed. It implements the consumer-side
// interfaces declared by internal/encounter and internal/grid.
package store

import (
	"context"
	"fmt"
	"log"
	"sync"

	"tableturn.gg/internal/encounter"
	"tableturn.gg/internal/grid"
)

// Memory is the single logical store. All reads hand out deep copies;
// conditional writes compare the stored logical clock before committing.
type Memory struct {
	mu sync.RWMutex

	entities     map[encounter.EntityKind]map[string]struct{}
	interactions map[string]*encounter.Interaction
	turns        map[string]*encounter.Turn
	maps         map[string]*grid.MapInstance

	subMu sync.Mutex
	subs  map[string]map[*Subscription]struct{}

	log *log.Logger
}

func NewMemory(logger *log.Logger) *Memory {
	if logger == nil {
		logger = log.Default()
	}
	return &Memory{
		entities:     make(map[encounter.EntityKind]map[string]struct{}),
		interactions: make(map[string]*encounter.Interaction),
		turns:        make(map[string]*encounter.Turn),
		maps:         make(map[string]*grid.MapInstance),
		subs:         make(map[string]map[*Subscription]struct{}),
		log:          logger,
	}
}

// RegisterEntity makes an entity id resolvable under a kind namespace.
func (m *Memory) RegisterEntity(kind encounter.EntityKind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.entities[kind]
	if !ok {
		bucket = make(map[string]struct{})
		m.entities[kind] = bucket
	}
	bucket[id] = struct{}{}
}

// ResolveEntity implements encounter.EntityResolver.
func (m *Memory) ResolveEntity(_ context.Context, kind encounter.EntityKind, id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.entities[kind][id]; !ok {
		return fmt.Errorf("entity %s/%s: %w", kind, id, encounter.ErrNotFound)
	}
	return nil
}

func (m *Memory) GetInteraction(_ context.Context, id string) (*encounter.Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.interactions[id]
	if !ok {
		return nil, fmt.Errorf("interaction %s: %w", id, encounter.ErrNotFound)
	}
	return in.Clone(), nil
}

// PutInteraction commits in with UpdatedAt = expected+1 iff the stored clock
// still equals expected. expected 0 requires that the interaction not exist
// yet. Every successful commit is published to subscribers.
func (m *Memory) PutInteraction(_ context.Context, in *encounter.Interaction, expected int64) error {
	m.mu.Lock()
	cur, exists := m.interactions[in.ID]
	if expected == 0 {
		if exists {
			m.mu.Unlock()
			return fmt.Errorf("interaction %s already exists: %w", in.ID, encounter.ErrStale)
		}
	} else {
		if !exists {
			m.mu.Unlock()
			return fmt.Errorf("interaction %s: %w", in.ID, encounter.ErrNotFound)
		}
		if cur.UpdatedAt != expected {
			m.mu.Unlock()
			return fmt.Errorf("interaction %s at clock %d, caller expected %d: %w",
				in.ID, cur.UpdatedAt, expected, encounter.ErrStale)
		}
	}
	stored := in.Clone()
	stored.UpdatedAt = expected + 1
	m.interactions[in.ID] = stored
	snapshot := stored.Clone()
	m.mu.Unlock()

	m.publish(snapshot)
	return nil
}

func (m *Memory) DeleteInteraction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interactions[id]; !ok {
		return fmt.Errorf("interaction %s: %w", id, encounter.ErrNotFound)
	}
	for _, t := range m.turns {
		if t.InteractionID == id {
			return fmt.Errorf("interaction %s still referenced by turn %s: %w", id, t.ID, encounter.ErrInvalidTransition)
		}
	}
	delete(m.interactions, id)
	return nil
}

func (m *Memory) GetTurn(_ context.Context, id string) (*encounter.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.turns[id]
	if !ok {
		return nil, fmt.Errorf("turn %s: %w", id, encounter.ErrNotFound)
	}
	return t.Clone(), nil
}

func (m *Memory) AppendTurn(_ context.Context, t *encounter.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interactions[t.InteractionID]; !ok {
		return fmt.Errorf("interaction %s: %w", t.InteractionID, encounter.ErrNotFound)
	}
	if _, ok := m.turns[t.ID]; ok {
		return fmt.Errorf("turn %s already exists: %w", t.ID, encounter.ErrStale)
	}
	m.turns[t.ID] = t.Clone()
	return nil
}

func (m *Memory) UpdateTurn(_ context.Context, t *encounter.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.turns[t.ID]; !ok {
		return fmt.Errorf("turn %s: %w", t.ID, encounter.ErrNotFound)
	}
	m.turns[t.ID] = t.Clone()
	return nil
}

func (m *Memory) DeleteTurn(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.turns[id]; !ok {
		return fmt.Errorf("turn %s: %w", id, encounter.ErrNotFound)
	}
	delete(m.turns, id)
	return nil
}

func (m *Memory) ListTurns(_ context.Context, interactionID string) ([]*encounter.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*encounter.Turn
	for _, t := range m.turns {
		if t.InteractionID == interactionID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// GetMap implements grid.Store.
func (m *Memory) GetMap(_ context.Context, id string) (*grid.MapInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mi, ok := m.maps[id]
	if !ok {
		return nil, fmt.Errorf("map instance %s: %w", id, grid.ErrNotFound)
	}
	return mi.Clone(), nil
}

// PutMap implements grid.Store with the same clock discipline as
// PutInteraction.
func (m *Memory) PutMap(_ context.Context, mi *grid.MapInstance, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.maps[mi.ID]
	if expected == 0 {
		if exists {
			return fmt.Errorf("map instance %s already exists: %w", mi.ID, encounter.ErrStale)
		}
	} else {
		if !exists {
			return fmt.Errorf("map instance %s: %w", mi.ID, grid.ErrNotFound)
		}
		if cur.UpdatedAt != expected {
			return fmt.Errorf("map instance %s at clock %d, caller expected %d: %w",
				mi.ID, cur.UpdatedAt, expected, encounter.ErrStale)
		}
	}
	stored := mi.Clone()
	stored.UpdatedAt = expected + 1
	m.maps[mi.ID] = stored
	return nil
}
