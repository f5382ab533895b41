package ws

import (
	"context"
	"errors"
	"fmt"

	"tableturn.gg/internal/encounter"
	"tableturn.gg/internal/grid"
	"tableturn.gg/internal/protocol"
)

// dispatch routes one ACT command into the state machine or grid engine and
// builds the matching ACK.
func (s *Server) dispatch(ctx context.Context, sess *session, act protocol.ActMsg) protocol.AckMsg {
	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		CmdID:           act.CmdID,
	}

	switch act.Cmd {
	case protocol.CmdCreateInteraction:
		in, err := s.machine.Create(ctx, act.DMID, act.Name, toRefs(act.Participants))
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InteractionID = in.ID
		s.observe(sess, in.ID)

	case protocol.CmdRollInitiative:
		in, err := s.machine.RollInitiative(ctx, act.InteractionID, toEntries(act.Rolls))
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InteractionID = in.ID

	case protocol.CmdSetStatus:
		in, err := s.machine.SetStatus(ctx, act.InteractionID, encounter.Status(act.Status))
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InteractionID = in.ID

	case protocol.CmdRecordTurn:
		if act.Owner == nil {
			return rejectBad(ack, "RECORD_TURN requires owner")
		}
		t, err := s.machine.RecordTurn(ctx, act.InteractionID, toRef(*act.Owner), act.Action, toRefPtr(act.Target), act.Distance)
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InteractionID = t.InteractionID
		ack.TurnID = t.ID

	case protocol.CmdUpdateTurn:
		t, err := s.machine.UpdateTurn(ctx, act.TurnID, act.Action, toRefPtr(act.Target), act.Distance)
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InteractionID = t.InteractionID
		ack.TurnID = t.ID

	case protocol.CmdDeleteTurn:
		if err := s.machine.DeleteTurn(ctx, act.TurnID); err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.TurnID = act.TurnID

	case protocol.CmdAdvanceTurn:
		in, err := s.machine.AdvanceTurn(ctx, act.InteractionID)
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InteractionID = in.ID

	case protocol.CmdResolveAction:
		in, err := s.machine.ResolveAction(ctx, act.InteractionID)
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InteractionID = in.ID

	case protocol.CmdComplete:
		in, err := s.machine.Complete(ctx, act.InteractionID)
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InteractionID = in.ID

	case protocol.CmdCancel:
		in, err := s.machine.Cancel(ctx, act.InteractionID)
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InteractionID = in.ID

	case protocol.CmdObserve:
		if _, err := s.machine.Get(ctx, act.InteractionID); err != nil {
			return reject(ack, err)
		}
		s.observe(sess, act.InteractionID)
		ack.Accepted = true
		ack.InteractionID = act.InteractionID

	case protocol.CmdCreateMap:
		inst, err := s.grid.CreateInstance(ctx, act.MapID)
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InstanceID = inst.ID

	case protocol.CmdPlaceEntity:
		if act.Entity == nil {
			return rejectBad(ack, "PLACE_ENTITY requires entity")
		}
		inst, err := s.grid.PlaceEntity(ctx, act.InstanceID, grid.Position{
			Entity: toRef(*act.Entity),
			X:      act.X,
			Y:      act.Y,
			Speed:  act.Speed,
			Label:  act.Label,
		})
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InstanceID = inst.ID

	case protocol.CmdMoveEntity:
		if act.Entity == nil {
			return rejectBad(ack, "MOVE_ENTITY requires entity")
		}
		rec, err := s.grid.MoveEntity(ctx, act.InstanceID, toRef(*act.Entity), act.X, act.Y)
		if err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InstanceID = act.InstanceID
		ack.Distance = rec.Distance

	case protocol.CmdUndoMove:
		if _, err := s.grid.UndoLastMove(ctx, act.InstanceID); err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InstanceID = act.InstanceID

	case protocol.CmdResetMap:
		if _, err := s.grid.ResetToInitial(ctx, act.InstanceID); err != nil {
			return reject(ack, err)
		}
		ack.Accepted = true
		ack.InstanceID = act.InstanceID

	default:
		return rejectBad(ack, fmt.Sprintf("unknown cmd %q", act.Cmd))
	}

	return ack
}

func reject(ack protocol.AckMsg, err error) protocol.AckMsg {
	ack.Accepted = false
	ack.Code = codeFor(err)
	ack.Message = err.Error()
	var es *grid.ExceedsSpeedError
	if errors.As(err, &es) {
		ack.Distance = es.Distance
		ack.RemainingDistance = es.Remaining
	}
	return ack
}

func rejectBad(ack protocol.AckMsg, msg string) protocol.AckMsg {
	ack.Accepted = false
	ack.Code = protocol.ErrProtoBadRequest
	ack.Message = msg
	return ack
}

func toRef(m protocol.EntityRefMsg) encounter.EntityRef {
	return encounter.EntityRef{ID: m.ID, Kind: encounter.EntityKind(m.Kind)}
}

func toRefPtr(m *protocol.EntityRefMsg) *encounter.EntityRef {
	if m == nil {
		return nil
	}
	r := toRef(*m)
	return &r
}

func toRefs(ms []protocol.EntityRefMsg) []encounter.EntityRef {
	if len(ms) == 0 {
		return nil
	}
	out := make([]encounter.EntityRef, len(ms))
	for i, m := range ms {
		out[i] = toRef(m)
	}
	return out
}

func toEntries(ms []protocol.InitiativeEntryMsg) []encounter.InitiativeEntry {
	if len(ms) == 0 {
		return nil
	}
	out := make([]encounter.InitiativeEntry, len(ms))
	for i, m := range ms {
		out[i] = encounter.InitiativeEntry{Entity: toRef(m.Entity), Roll: m.Roll}
	}
	return out
}

func snapshotMsg(in *encounter.Interaction) protocol.InteractionSnapshot {
	order := make([]protocol.InitiativeEntryMsg, len(in.InitiativeOrder))
	for i, e := range in.InitiativeOrder {
		order[i] = protocol.InitiativeEntryMsg{
			Entity: protocol.EntityRefMsg{ID: e.Entity.ID, Kind: string(e.Entity.Kind)},
			Roll:   e.Roll,
		}
	}
	return protocol.InteractionSnapshot{
		ID:                     in.ID,
		Name:                   in.Name,
		DMID:                   in.DMID,
		Status:                 string(in.Status),
		InitiativeOrder:        order,
		CurrentInitiativeIndex: in.CurrentInitiativeIndex,
		RoundNumber:            in.RoundNumber,
		TurnIDs:                in.TurnIDs,
		PlayerCharacterIDs:     in.PlayerCharacterIDs,
		NPCIDs:                 in.NPCIDs,
		MonsterIDs:             in.MonsterIDs,
		TotalActionCount:       in.TotalActionCount,
		PendingActionCount:     in.PendingActionCount,
		UpdatedAt:              in.UpdatedAt,
	}
}
