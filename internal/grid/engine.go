package grid

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tableturn.gg/internal/encounter"
)

// DefaultUnitScale is the distance cost of one grid cell.
const DefaultUnitScale = 5

// Engine applies movement against map instances. Validation is pure; only an
// accepted move touches the store.
type Engine struct {
	store     Store
	unitScale int
	log       *log.Logger
}

func NewEngine(store Store, unitScale int, logger *log.Logger) *Engine {
	if unitScale <= 0 {
		unitScale = DefaultUnitScale
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{store: store, unitScale: unitScale, log: logger}
}

// UnitScale returns the per-cell distance cost in effect.
func (e *Engine) UnitScale() int { return e.unitScale }

// ValidateMove computes the scaled Manhattan distance of the move and checks
// it against the entity's speed. Terrain cost modifiers beyond the unit scale
// are not consulted. On success it returns the distance to record in history.
func (e *Engine) ValidateMove(pos Position, toX, toY int) (int, error) {
	distance := Manhattan(pos.X, pos.Y, toX, toY) * e.unitScale
	if distance > pos.Speed {
		return 0, &ExceedsSpeedError{Distance: distance, Speed: pos.Speed, Remaining: pos.Speed}
	}
	return distance, nil
}

// CreateInstance starts an empty grid snapshot bound to a map definition.
func (e *Engine) CreateInstance(ctx context.Context, mapID string) (*MapInstance, error) {
	mi := &MapInstance{
		ID:        uuid.NewString(),
		MapID:     mapID,
		Positions: make(map[string]Position),
	}
	if err := e.store.PutMap(ctx, mi, 0); err != nil {
		return nil, err
	}
	return e.store.GetMap(ctx, mi.ID)
}

// GetInstance returns a snapshot of the map instance.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*MapInstance, error) {
	return e.store.GetMap(ctx, instanceID)
}

// PlaceEntity sets an entity's starting cell. Placing an entity that is
// already on the map is rejected; movement goes through MoveEntity so it
// lands in the history.
func (e *Engine) PlaceEntity(ctx context.Context, instanceID string, pos Position) (*MapInstance, error) {
	mi, err := e.store.GetMap(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if _, ok := mi.Positions[pos.Entity.ID]; ok {
		return nil, fmt.Errorf("entity %s already placed on %s: %w", pos.Entity.ID, instanceID, ErrAlreadyPlaced)
	}
	mi.Positions[pos.Entity.ID] = pos
	if err := e.store.PutMap(ctx, mi, mi.UpdatedAt); err != nil {
		return nil, err
	}
	return e.store.GetMap(ctx, instanceID)
}

// MoveEntity validates and applies one move, appending it to the history.
func (e *Engine) MoveEntity(ctx context.Context, instanceID string, entity encounter.EntityRef, toX, toY int) (*MoveRecord, error) {
	mi, err := e.store.GetMap(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	pos, ok := mi.Positions[entity.ID]
	if !ok {
		return nil, fmt.Errorf("entity %s not on map %s: %w", entity.ID, instanceID, ErrNotFound)
	}
	distance, err := e.ValidateMove(pos, toX, toY)
	if err != nil {
		return nil, err
	}

	rec := MoveRecord{
		Entity:   entity,
		FromX:    pos.X,
		FromY:    pos.Y,
		ToX:      toX,
		ToY:      toY,
		Distance: distance,
		At:       time.Now().UTC(),
	}
	pos.X = toX
	pos.Y = toY
	mi.Positions[entity.ID] = pos
	mi.History = append(mi.History, rec)
	if err := e.store.PutMap(ctx, mi, mi.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UndoLastMove pops exactly the latest history entry and restores that
// entity's prior coordinates. Other entities' entries are untouched.
func (e *Engine) UndoLastMove(ctx context.Context, instanceID string) (*MoveRecord, error) {
	mi, err := e.store.GetMap(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if len(mi.History) == 0 {
		return nil, fmt.Errorf("map %s: %w", instanceID, ErrNoMovesToUndo)
	}
	last := mi.History[len(mi.History)-1]
	mi.History = mi.History[:len(mi.History)-1]
	if pos, ok := mi.Positions[last.Entity.ID]; ok {
		pos.X = last.FromX
		pos.Y = last.FromY
		mi.Positions[last.Entity.ID] = pos
	}
	if err := e.store.PutMap(ctx, mi, mi.UpdatedAt); err != nil {
		return nil, err
	}
	return &last, nil
}

// ResetToInitial restores every entity to the from-coordinates of its
// earliest recorded move and clears the whole history, including entries for
// entities no longer on the map.
func (e *Engine) ResetToInitial(ctx context.Context, instanceID string) (*MapInstance, error) {
	mi, err := e.store.GetMap(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	earliest := make(map[string]MoveRecord)
	for _, rec := range mi.History {
		cur, ok := earliest[rec.Entity.ID]
		if !ok || rec.At.Before(cur.At) {
			earliest[rec.Entity.ID] = rec
		}
	}
	for id, rec := range earliest {
		pos, ok := mi.Positions[id]
		if !ok {
			continue
		}
		pos.X = rec.FromX
		pos.Y = rec.FromY
		mi.Positions[id] = pos
	}
	mi.History = nil
	if err := e.store.PutMap(ctx, mi, mi.UpdatedAt); err != nil {
		return nil, err
	}
	return e.store.GetMap(ctx, instanceID)
}
