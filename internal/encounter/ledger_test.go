package encounter_test

import (
	"context"
	"testing"

	"tableturn.gg/internal/encounter"
)

// seedTurns records one turn per participant per round, advancing through
// rounds full laps at a time.
func seedTurns(t *testing.T, m *encounter.Machine, id string, rounds int, refs ...encounter.EntityRef) {
	t.Helper()
	ctx := context.Background()
	for r := 0; r < rounds; r++ {
		for _, ref := range refs {
			if _, err := m.RecordTurn(ctx, id, ref, "act", nil, 0); err != nil {
				t.Fatalf("record %s round %d: %v", ref.ID, r+1, err)
			}
			if _, err := m.AdvanceTurn(ctx, id); err != nil {
				t.Fatalf("advance: %v", err)
			}
		}
	}
}

func TestLedgerOrderingAndFilters(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	in := startRolled(t, m, pc("pc-1"), pc("pc-2"))
	seedTurns(t, m, in.ID, 2, pc("pc-1"), pc("pc-2"))

	all, err := m.Ledger().ListByInteraction(ctx, in.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("turns = %d, want 4", len(all))
	}
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if cur.RoundNumber < prev.RoundNumber ||
			(cur.RoundNumber == prev.RoundNumber && cur.TurnNumber < prev.TurnNumber) {
			t.Fatalf("out of order at %d: %d/%d after %d/%d", i, cur.RoundNumber, cur.TurnNumber, prev.RoundNumber, prev.TurnNumber)
		}
	}

	round1, err := m.Ledger().ListByRound(ctx, in.ID, 1)
	if err != nil {
		t.Fatalf("list round: %v", err)
	}
	if len(round1) != 2 || round1[0].Owner.ID != "pc-1" || round1[1].Owner.ID != "pc-2" {
		t.Fatalf("round 1 = %v", ownerIDs(round1))
	}

	mine, err := m.Ledger().ListByOwner(ctx, in.ID, pc("pc-1"))
	if err != nil {
		t.Fatalf("list owner: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("owner turns = %d, want 2", len(mine))
	}
	for _, turn := range mine {
		if turn.Owner.ID != "pc-1" {
			t.Fatalf("foreign turn %s in owner listing", turn.Owner.ID)
		}
	}
}

func TestLedgerHasActedPerRound(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	in := startRolled(t, m, pc("pc-1"), pc("pc-2"))

	if _, err := m.RecordTurn(ctx, in.ID, pc("pc-1"), "act", nil, 0); err != nil {
		t.Fatalf("record: %v", err)
	}

	acted, err := m.Ledger().HasActed(ctx, in.ID, 1, pc("pc-1"))
	if err != nil {
		t.Fatalf("has acted: %v", err)
	}
	if !acted {
		t.Fatal("pc-1 acted in round 1 but HasActed = false")
	}
	acted, err = m.Ledger().HasActed(ctx, in.ID, 2, pc("pc-1"))
	if err != nil {
		t.Fatalf("has acted: %v", err)
	}
	if acted {
		t.Fatal("HasActed = true for a round with no turns")
	}
}

func TestLedgerStats(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	in := startRolled(t, m, pc("pc-1"), mon("mon-1"))
	seedTurns(t, m, in.ID, 3, pc("pc-1"), mon("mon-1"))

	stats, err := m.Ledger().Stats(ctx, in.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalTurns != 6 {
		t.Fatalf("total = %d", stats.TotalTurns)
	}
	if stats.TurnsByKind[encounter.KindPlayerCharacter] != 3 || stats.TurnsByKind[encounter.KindMonster] != 3 {
		t.Fatalf("by kind = %v", stats.TurnsByKind)
	}
	if stats.RoundsCompleted != 3 {
		t.Fatalf("rounds = %d", stats.RoundsCompleted)
	}
	if stats.AvgTurnsPerRound != 2 {
		t.Fatalf("avg = %f", stats.AvgTurnsPerRound)
	}
}

func ownerIDs(turns []*encounter.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Owner.ID
	}
	return out
}
