package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"testing"

	"tableturn.gg/internal/encounter"
	"tableturn.gg/internal/grid"
	"tableturn.gg/internal/protocol"
	"tableturn.gg/internal/rules"
	"tableturn.gg/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()
	logger := log.New(testWriter{t}, "[ws-test] ", 0)
	mem := store.NewMemory(logger)
	machine := encounter.NewMachine(encounter.MachineConfig{
		Store:    mem,
		Resolver: mem,
		Logger:   logger,
	})
	engine := grid.NewEngine(mem, grid.DefaultUnitScale, logger)
	return NewServer(machine, engine, mem, rules.Default(), logger), mem
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestSession() *session {
	return &session{
		id:          "S-test",
		clientID:    "C-test",
		resumeToken: "R-test",
		out:         make(chan []byte, 32),
		subs:        make(map[string]*store.Subscription),
	}
}

func act(cmd string) protocol.ActMsg {
	return protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		CmdID:           "K-" + cmd,
		Cmd:             cmd,
	}
}

func TestDispatchInteractionFlow(t *testing.T) {
	s, mem := newTestServer(t)
	sess := newTestSession()
	ctx := context.Background()

	mem.RegisterEntity(encounter.KindGameMaster, "dm-1")
	mem.RegisterEntity(encounter.KindPlayerCharacter, "pc-1")
	mem.RegisterEntity(encounter.KindMonster, "mon-1")

	create := act(protocol.CmdCreateInteraction)
	create.DMID = "dm-1"
	create.Name = "goblin ambush"
	create.Participants = []protocol.EntityRefMsg{
		{ID: "pc-1", Kind: "PLAYER_CHARACTER"},
		{ID: "mon-1", Kind: "MONSTER"},
	}
	ack := s.dispatch(ctx, sess, create)
	if !ack.Accepted {
		t.Fatalf("create rejected: %s %s", ack.Code, ack.Message)
	}
	id := ack.InteractionID
	if id == "" {
		t.Fatal("create returned empty interaction_id")
	}

	roll := act(protocol.CmdRollInitiative)
	roll.InteractionID = id
	roll.Rolls = []protocol.InitiativeEntryMsg{
		{Entity: protocol.EntityRefMsg{ID: "pc-1", Kind: "PLAYER_CHARACTER"}, Roll: 18},
		{Entity: protocol.EntityRefMsg{ID: "mon-1", Kind: "MONSTER"}, Roll: 12},
	}
	if ack := s.dispatch(ctx, sess, roll); !ack.Accepted {
		t.Fatalf("roll rejected: %s %s", ack.Code, ack.Message)
	}

	status := act(protocol.CmdSetStatus)
	status.InteractionID = id
	status.Status = string(encounter.StatusWaitingForPlayerTurn)
	if ack := s.dispatch(ctx, sess, status); !ack.Accepted {
		t.Fatalf("set status rejected: %s %s", ack.Code, ack.Message)
	}

	turn := act(protocol.CmdRecordTurn)
	turn.InteractionID = id
	turn.Owner = &protocol.EntityRefMsg{ID: "pc-1", Kind: "PLAYER_CHARACTER"}
	turn.Target = &protocol.EntityRefMsg{ID: "mon-1", Kind: "MONSTER"}
	turn.Action = "longsword attack"
	ack = s.dispatch(ctx, sess, turn)
	if !ack.Accepted {
		t.Fatalf("record turn rejected: %s %s", ack.Code, ack.Message)
	}
	if ack.TurnID == "" {
		t.Fatal("record turn returned empty turn_id")
	}

	// Same owner again in the same round must be refused.
	turn.CmdID = "K-dup"
	ack = s.dispatch(ctx, sess, turn)
	if ack.Accepted || ack.Code != protocol.ErrDuplicateTurn {
		t.Fatalf("duplicate turn: accepted=%v code=%s", ack.Accepted, ack.Code)
	}

	if ack := s.dispatch(ctx, sess, withID(act(protocol.CmdComplete), id)); !ack.Accepted {
		t.Fatalf("complete rejected: %s %s", ack.Code, ack.Message)
	}
	ack = s.dispatch(ctx, sess, withID(act(protocol.CmdComplete), id))
	if ack.Accepted || ack.Code != protocol.ErrInvalidTransition {
		t.Fatalf("second complete: accepted=%v code=%s", ack.Accepted, ack.Code)
	}
}

func withID(a protocol.ActMsg, id string) protocol.ActMsg {
	a.InteractionID = id
	return a
}

func TestDispatchMovementDiagnostics(t *testing.T) {
	s, _ := newTestServer(t)
	sess := newTestSession()
	ctx := context.Background()

	create := act(protocol.CmdCreateMap)
	create.MapID = "cave"
	ack := s.dispatch(ctx, sess, create)
	if !ack.Accepted {
		t.Fatalf("create map rejected: %s %s", ack.Code, ack.Message)
	}
	inst := ack.InstanceID

	place := act(protocol.CmdPlaceEntity)
	place.InstanceID = inst
	place.Entity = &protocol.EntityRefMsg{ID: "pc-1", Kind: "PLAYER_CHARACTER"}
	place.Speed = 10
	if ack := s.dispatch(ctx, sess, place); !ack.Accepted {
		t.Fatalf("place rejected: %s %s", ack.Code, ack.Message)
	}

	move := act(protocol.CmdMoveEntity)
	move.InstanceID = inst
	move.Entity = &protocol.EntityRefMsg{ID: "pc-1", Kind: "PLAYER_CHARACTER"}
	move.X, move.Y = 3, 0
	ack = s.dispatch(ctx, sess, move)
	if ack.Accepted {
		t.Fatal("move beyond speed was accepted")
	}
	if ack.Code != protocol.ErrMovementExceedsSpeed {
		t.Fatalf("code = %s", ack.Code)
	}
	if ack.Distance != 15 || ack.RemainingDistance != 10 {
		t.Fatalf("diagnostics = %d/%d, want 15/10", ack.Distance, ack.RemainingDistance)
	}

	undo := act(protocol.CmdUndoMove)
	undo.InstanceID = inst
	ack = s.dispatch(ctx, sess, undo)
	if ack.Accepted || ack.Code != protocol.ErrNoMovesToUndo {
		t.Fatalf("undo with empty history: accepted=%v code=%s", ack.Accepted, ack.Code)
	}
}

func TestDispatchUnknownCmd(t *testing.T) {
	s, _ := newTestServer(t)
	ack := s.dispatch(context.Background(), newTestSession(), act("SELF_DESTRUCT"))
	if ack.Accepted || ack.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("accepted=%v code=%s", ack.Accepted, ack.Code)
	}
}

func TestCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{encounter.ErrDuplicateTurn, protocol.ErrDuplicateTurn},
		{encounter.ErrInvalidTransition, protocol.ErrInvalidTransition},
		{encounter.ErrUnresolvedReference, protocol.ErrUnresolvedReference},
		{encounter.ErrStale, protocol.ErrStale},
		{encounter.ErrNotFound, protocol.ErrNotFound},
		{grid.ErrNotFound, protocol.ErrNotFound},
		{grid.ErrNoMovesToUndo, protocol.ErrNoMovesToUndo},
		{grid.ErrAlreadyPlaced, protocol.ErrInvalidTransition},
		{&grid.ExceedsSpeedError{Distance: 15, Speed: 10, Remaining: 10}, protocol.ErrMovementExceedsSpeed},
		{fmt.Errorf("wrapped: %w", encounter.ErrStale), protocol.ErrStale},
		{errors.New("disk on fire"), protocol.ErrInternal},
	}
	for _, c := range cases {
		if got := codeFor(c.err); got != c.want {
			t.Errorf("codeFor(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestSessionResumeKeepsSubscriptions(t *testing.T) {
	s, mem := newTestServer(t)
	sess := newTestSession()
	ctx := context.Background()

	mem.RegisterEntity(encounter.KindGameMaster, "dm-1")
	mem.RegisterEntity(encounter.KindPlayerCharacter, "pc-1")

	create := act(protocol.CmdCreateInteraction)
	create.DMID = "dm-1"
	create.Name = "skirmish"
	create.Participants = []protocol.EntityRefMsg{{ID: "pc-1", Kind: "PLAYER_CHARACTER"}}
	ack := s.dispatch(ctx, sess, create)
	if !ack.Accepted {
		t.Fatalf("create rejected: %s %s", ack.Code, ack.Message)
	}

	reg := newSessionRegistry(0)
	out := make(chan []byte, 8)
	live := reg.create("dm-console", out)
	if live.resumeToken == "" {
		t.Fatal("no resume token issued")
	}
	if got := reg.resume(live.resumeToken, make(chan []byte, 8)); got != nil {
		t.Fatal("resume succeeded on an attached session")
	}
	reg.park(live)
	out2 := make(chan []byte, 8)
	got := reg.resume(live.resumeToken, out2)
	if got != live {
		t.Fatal("resume did not return the parked session")
	}
	if got := reg.resume("bogus", make(chan []byte, 8)); got != nil {
		t.Fatal("resume succeeded with an unknown token")
	}

	// Frames sent after resume land on the new channel.
	live.send([]byte("frame"))
	select {
	case b := <-out2:
		if string(b) != "frame" {
			t.Fatalf("got %q", b)
		}
	default:
		t.Fatal("frame not delivered to resumed channel")
	}
}
