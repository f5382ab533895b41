package encounter

import (
	"context"
	"sort"
)

// Ledger is the read side of the turn collection: pure aggregation, no
// lifecycle rules. Results are clones and may trail in-flight mutations.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// ListByInteraction returns every turn ordered by round then turn number.
func (l *Ledger) ListByInteraction(ctx context.Context, interactionID string) ([]*Turn, error) {
	turns, err := l.store.ListTurns(ctx, interactionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].RoundNumber != turns[j].RoundNumber {
			return turns[i].RoundNumber < turns[j].RoundNumber
		}
		return turns[i].TurnNumber < turns[j].TurnNumber
	})
	return turns, nil
}

// ListByRound returns the round's turns in turn-number order.
func (l *Ledger) ListByRound(ctx context.Context, interactionID string, round int) ([]*Turn, error) {
	turns, err := l.ListByInteraction(ctx, interactionID)
	if err != nil {
		return nil, err
	}
	out := turns[:0]
	for _, t := range turns {
		if t.RoundNumber == round {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListByOwner returns every turn the owner recorded, in round order.
func (l *Ledger) ListByOwner(ctx context.Context, interactionID string, owner EntityRef) ([]*Turn, error) {
	turns, err := l.ListByInteraction(ctx, interactionID)
	if err != nil {
		return nil, err
	}
	out := turns[:0]
	for _, t := range turns {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	return out, nil
}

// HasActed reports whether the owner already has a turn in the round.
func (l *Ledger) HasActed(ctx context.Context, interactionID string, round int, owner EntityRef) (bool, error) {
	turns, err := l.store.ListTurns(ctx, interactionID)
	if err != nil {
		return false, err
	}
	for _, t := range turns {
		if t.RoundNumber == round && t.Owner == owner {
			return true, nil
		}
	}
	return false, nil
}

// NextTurnNumber returns the 1-based number the round's next turn takes.
func (l *Ledger) NextTurnNumber(ctx context.Context, interactionID string, round int) (int, error) {
	turns, err := l.store.ListTurns(ctx, interactionID)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, t := range turns {
		if t.RoundNumber == round && t.TurnNumber > max {
			max = t.TurnNumber
		}
	}
	return max + 1, nil
}

// Stats is the aggregate view over an interaction's turn history.
type Stats struct {
	TotalTurns       int                `json:"total_turns"`
	TurnsByKind      map[EntityKind]int `json:"turns_by_kind"`
	RoundsCompleted  int                `json:"rounds_completed"`
	AvgTurnsPerRound float64            `json:"avg_turns_per_round"`
}

// Stats aggregates the turn history. RoundsCompleted is the highest round
// number with at least one recorded turn.
func (l *Ledger) Stats(ctx context.Context, interactionID string) (Stats, error) {
	turns, err := l.store.ListTurns(ctx, interactionID)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{TurnsByKind: make(map[EntityKind]int)}
	for _, t := range turns {
		s.TotalTurns++
		s.TurnsByKind[t.Owner.Kind]++
		if t.RoundNumber > s.RoundsCompleted {
			s.RoundsCompleted = t.RoundNumber
		}
	}
	if s.RoundsCompleted > 0 {
		s.AvgTurnsPerRound = float64(s.TotalTurns) / float64(s.RoundsCompleted)
	}
	return s, nil
}
