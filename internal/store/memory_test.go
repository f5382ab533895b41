package store

import (
	"context"
	"errors"
	"log"
	"testing"

	"tableturn.gg/internal/encounter"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	return NewMemory(log.New(testLogWriter{t}, "[store-test] ", 0))
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestPutInteractionClockDiscipline(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	in := &encounter.Interaction{ID: "I1", Name: "ambush", Status: encounter.StatusPendingInitiative}
	if err := m.PutInteraction(ctx, in, 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := m.GetInteraction(ctx, "I1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UpdatedAt != 1 {
		t.Fatalf("clock = %d, want 1", got.UpdatedAt)
	}

	// Creating again at expected 0 is a stale write.
	if err := m.PutInteraction(ctx, in, 0); !errors.Is(err, encounter.ErrStale) {
		t.Fatalf("recreate: err = %v", err)
	}

	// Commit against the current clock succeeds and bumps it.
	got.Status = encounter.StatusInitiativeRolled
	if err := m.PutInteraction(ctx, got, got.UpdatedAt); err != nil {
		t.Fatalf("update: %v", err)
	}
	// The same expected clock a second time is stale.
	if err := m.PutInteraction(ctx, got, 1); !errors.Is(err, encounter.ErrStale) {
		t.Fatalf("stale update: err = %v", err)
	}

	got, _ = m.GetInteraction(ctx, "I1")
	if got.UpdatedAt != 2 || got.Status != encounter.StatusInitiativeRolled {
		t.Fatalf("state = clock %d status %s", got.UpdatedAt, got.Status)
	}

	if err := m.PutInteraction(ctx, &encounter.Interaction{ID: "ghost"}, 3); !errors.Is(err, encounter.ErrNotFound) {
		t.Fatalf("update missing: err = %v", err)
	}
}

func TestGetInteractionReturnsClone(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	in := &encounter.Interaction{
		ID:     "I1",
		Status: encounter.StatusInitiativeRolled,
		InitiativeOrder: []encounter.InitiativeEntry{
			{Entity: encounter.EntityRef{ID: "pc-1", Kind: encounter.KindPlayerCharacter}, Roll: 18},
		},
	}
	if err := m.PutInteraction(ctx, in, 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	a, _ := m.GetInteraction(ctx, "I1")
	a.InitiativeOrder[0].Roll = 1
	a.Status = encounter.StatusCancelled

	b, _ := m.GetInteraction(ctx, "I1")
	if b.InitiativeOrder[0].Roll != 18 || b.Status != encounter.StatusInitiativeRolled {
		t.Fatalf("stored state mutated through a read: %+v", b)
	}
}

func TestDeleteInteractionRefusesWhileTurnsRemain(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	if err := m.PutInteraction(ctx, &encounter.Interaction{ID: "I1"}, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	turn := &encounter.Turn{ID: "T1", InteractionID: "I1", RoundNumber: 1, TurnNumber: 1}
	if err := m.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := m.DeleteInteraction(ctx, "I1"); !errors.Is(err, encounter.ErrInvalidTransition) {
		t.Fatalf("delete with turns: err = %v", err)
	}
	if err := m.DeleteTurn(ctx, "T1"); err != nil {
		t.Fatalf("delete turn: %v", err)
	}
	if err := m.DeleteInteraction(ctx, "I1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.GetInteraction(ctx, "I1"); !errors.Is(err, encounter.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestAppendTurnRequiresParent(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	err := m.AppendTurn(ctx, &encounter.Turn{ID: "T1", InteractionID: "ghost"})
	if !errors.Is(err, encounter.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}

	if err := m.PutInteraction(ctx, &encounter.Interaction{ID: "I1"}, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	turn := &encounter.Turn{ID: "T1", InteractionID: "I1"}
	if err := m.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.AppendTurn(ctx, turn); !errors.Is(err, encounter.ErrStale) {
		t.Fatalf("re-append: err = %v", err)
	}
}

func TestSubscribeDeliversCommits(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	if err := m.PutInteraction(ctx, &encounter.Interaction{ID: "I1"}, 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	sub := m.Subscribe("I1")
	defer sub.Close()
	other := m.Subscribe("I2")
	defer other.Close()

	in, _ := m.GetInteraction(ctx, "I1")
	in.Status = encounter.StatusInitiativeRolled
	if err := m.PutInteraction(ctx, in, in.UpdatedAt); err != nil {
		t.Fatalf("update: %v", err)
	}

	select {
	case snap := <-sub.C:
		if snap.ID != "I1" || snap.UpdatedAt != 2 {
			t.Fatalf("snapshot = %s clock %d", snap.ID, snap.UpdatedAt)
		}
	default:
		t.Fatal("no snapshot delivered")
	}
	select {
	case snap := <-other.C:
		t.Fatalf("unrelated feed got %s", snap.ID)
	default:
	}
}

func TestSubscribeDropsOldestWhenSlow(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	if err := m.PutInteraction(ctx, &encounter.Interaction{ID: "I1"}, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	sub := m.Subscribe("I1")
	defer sub.Close()

	// Never read: overflow the buffer and then some.
	for i := 0; i < subscriptionBuffer+5; i++ {
		in, _ := m.GetInteraction(ctx, "I1")
		if err := m.PutInteraction(ctx, in, in.UpdatedAt); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	// The newest snapshot is always retained.
	var last *encounter.Interaction
	for {
		select {
		case snap := <-sub.C:
			last = snap
			continue
		default:
		}
		break
	}
	in, _ := m.GetInteraction(ctx, "I1")
	if last == nil || last.UpdatedAt != in.UpdatedAt {
		t.Fatalf("last delivered clock = %v, store at %d", last, in.UpdatedAt)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	m := newTestMemory(t)
	sub := m.Subscribe("I1")
	sub.Close()
	sub.Close()

	// Publishing after close must not panic or deliver.
	if err := m.PutInteraction(context.Background(), &encounter.Interaction{ID: "I1"}, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("closed subscription received a snapshot")
	}
}
