// Package grid validates spatial actions against per-entity speed limits and
// keeps a reversible movement history per map instance.
package grid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tableturn.gg/internal/encounter"
)

var (
	// ErrNotFound: the map instance, or an entity position on it, is missing.
	ErrNotFound = errors.New("map instance not found")

	// ErrNoMovesToUndo: undo requested against an empty movement history.
	ErrNoMovesToUndo = errors.New("no moves to undo")

	// ErrMovementExceedsSpeed is the sentinel matched by errors.Is for any
	// rejected move; the concrete error carries the distance diagnostic.
	ErrMovementExceedsSpeed = errors.New("movement exceeds speed")

	// ErrAlreadyPlaced: the entity already holds a cell on this instance.
	ErrAlreadyPlaced = errors.New("entity already placed")
)

// ExceedsSpeedError reports how far the requested move overshot the entity's
// speed. Remaining is the budget that was actually available.
type ExceedsSpeedError struct {
	Distance  int
	Speed     int
	Remaining int
}

func (e *ExceedsSpeedError) Error() string {
	return fmt.Sprintf("movement of %d exceeds speed %d (%d available)", e.Distance, e.Speed, e.Remaining)
}

func (e *ExceedsSpeedError) Is(target error) bool { return target == ErrMovementExceedsSpeed }

// Position is one entity's cell on a map instance, plus display metadata.
type Position struct {
	Entity encounter.EntityRef `json:"entity"`
	X      int                 `json:"x"`
	Y      int                 `json:"y"`
	Speed  int                 `json:"speed"`
	Label  string              `json:"label,omitempty"`
	Color  string              `json:"color,omitempty"`
}

// MoveRecord is one applied move. History is append-only; the only ways back
// are an explicit undo of the latest entry or a full reset.
type MoveRecord struct {
	Entity   encounter.EntityRef `json:"entity"`
	FromX    int                 `json:"from_x"`
	FromY    int                 `json:"from_y"`
	ToX      int                 `json:"to_x"`
	ToY      int                 `json:"to_y"`
	Distance int                 `json:"distance"`
	At       time.Time           `json:"at"`
}

// MapInstance is a grid snapshot bound to a map definition. Positions are
// keyed by entity id, which enforces the one-position-per-entity invariant.
type MapInstance struct {
	ID        string              `json:"id"`
	MapID     string              `json:"map_id"`
	Positions map[string]Position `json:"positions"`
	History   []MoveRecord        `json:"history"`
	UpdatedAt int64               `json:"updated_at"`
}

// Clone returns a deep copy.
func (m *MapInstance) Clone() *MapInstance {
	if m == nil {
		return nil
	}
	out := *m
	out.Positions = make(map[string]Position, len(m.Positions))
	for k, v := range m.Positions {
		out.Positions[k] = v
	}
	out.History = append([]MoveRecord(nil), m.History...)
	return &out
}

// Store persists map instances with the same conditional-put discipline as
// the interaction store.
type Store interface {
	GetMap(ctx context.Context, id string) (*MapInstance, error)
	PutMap(ctx context.Context, m *MapInstance, expected int64) error
}

// Manhattan is |dx| + |dy|, the grid's distance metric.
func Manhattan(x1, y1, x2, y2 int) int {
	dx := x1 - x2
	if dx < 0 {
		dx = -dx
	}
	dy := y1 - y2
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}
