package indexdb

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tableturn.gg/internal/encounter"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIndexTurnsAndCounts(t *testing.T) {
	s := openTestIndex(t)

	turns := []encounter.Turn{
		{ID: "t1", InteractionID: "I1", Owner: encounter.EntityRef{ID: "pc-1", Kind: encounter.KindPlayerCharacter}, RoundNumber: 1, TurnNumber: 1, Action: "attack", CreatedAt: time.Now()},
		{ID: "t2", InteractionID: "I1", Owner: encounter.EntityRef{ID: "npc-1", Kind: encounter.KindNPC}, RoundNumber: 1, TurnNumber: 2, Action: "dodge", CreatedAt: time.Now()},
		{ID: "t3", InteractionID: "I1", Owner: encounter.EntityRef{ID: "pc-1", Kind: encounter.KindPlayerCharacter}, RoundNumber: 2, TurnNumber: 1, Action: "attack", CreatedAt: time.Now()},
	}
	for _, turn := range turns {
		if err := s.WriteTurn(turn); err != nil {
			t.Fatalf("write turn: %v", err)
		}
	}
	s.Flush()

	counts, err := s.TurnCountsByKind("I1")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[string(encounter.KindPlayerCharacter)] != 2 || counts[string(encounter.KindNPC)] != 1 {
		t.Fatalf("counts mismatch: %v", counts)
	}
}

func TestIndexInteractionSnapshotAndAudit(t *testing.T) {
	s := openTestIndex(t)

	in := &encounter.Interaction{
		ID:                 "I2",
		Status:             encounter.StatusWaitingForPlayerTurn,
		RoundNumber:        3,
		UpdatedAt:          9,
		PlayerCharacterIDs: []string{"pc-1", "pc-2"},
		TurnIDs:            []string{"t1", "t2", "t3", "t4"},
	}
	s.RecordInteraction(in)
	if err := s.WriteAudit(encounter.AuditEntry{Clock: 9, Actor: "dm-1", Op: "ADVANCE_TURN", InteractionID: "I2", At: time.Now()}); err != nil {
		t.Fatalf("audit: %v", err)
	}
	s.Flush()

	rows, err := s.Interactions()
	if err != nil {
		t.Fatalf("interactions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	r := rows[0]
	if r.ID != "I2" || r.Status != string(encounter.StatusWaitingForPlayerTurn) || r.Round != 3 || r.Clock != 9 || r.Participants != 2 || r.Turns != 4 {
		t.Fatalf("row mismatch: %+v", r)
	}

	audits, err := s.RecentAudits("I2", 10)
	if err != nil {
		t.Fatalf("audits: %v", err)
	}
	if len(audits) != 1 || audits[0].Op != "ADVANCE_TURN" {
		t.Fatalf("audit mismatch: %+v", audits)
	}
}

func TestFlushSafeAgainstConcurrentClose(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.Flush()
				_ = s.WriteTurn(encounter.Turn{ID: "t", InteractionID: "I1"})
			}
		}()
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()

	// Everything after Close degrades to a no-op.
	s.Flush()
	if err := s.WriteTurn(encounter.Turn{ID: "t2", InteractionID: "I1"}); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
