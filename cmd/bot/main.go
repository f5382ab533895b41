package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"tableturn.gg/internal/clientsync"
	"tableturn.gg/internal/conflict"
	"tableturn.gg/internal/encounter"
	"tableturn.gg/internal/protocol"
)

func main() {
	var (
		url           = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name          = flag.String("name", "bot", "client name")
		interactionID = flag.String("interaction", "", "interaction id to observe (optional)")
		resumeToken   = flag.String("resume", "", "resume token from a previous session")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		ResumeToken:     *resumeToken,
		MaxQueue:        8,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	var coord *clientsync.Coordinator

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	cmdSeq := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME client_id=%s session=%s resumed=%v resume_token=%s",
				w.ClientID, w.SessionID, w.Resumed, w.ResumeToken)

			engine := conflict.NewEngine(conflict.EngineConfig{
				AuditCap: w.Rules.AuditLogCap,
				Logger:   logger,
			})
			coord = clientsync.NewCoordinator(clientsync.CoordinatorConfig{
				ClientID: w.ClientID,
				Sink:     &clientsync.LogSink{Log: logger},
				Queue:    clientsync.NewMemoryQueue(w.Rules.OfflineQueueCap, w.Rules.ReplayRetryMax),
				Engine:   engine,
				Logger:   logger,
			})

			if *interactionID != "" {
				coord.Observe(*interactionID)
				cmdSeq++
				act := protocol.ActMsg{
					Type:            protocol.TypeAct,
					ProtocolVersion: protocol.Version,
					CmdID:           fmt.Sprintf("K%d", cmdSeq),
					Cmd:             protocol.CmdObserve,
					InteractionID:   *interactionID,
				}
				if err := conn.WriteJSON(act); err != nil {
					logger.Fatalf("send OBSERVE: %v", err)
				}
			}

		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if !ack.Accepted {
				logger.Printf("ACK %s rejected: %s %s", ack.CmdID, ack.Code, ack.Message)
				continue
			}
			logger.Printf("ACK %s ok interaction=%s", ack.CmdID, ack.InteractionID)

		case protocol.TypeUpdate:
			var u protocol.UpdateMsg
			if err := json.Unmarshal(msg, &u); err != nil || coord == nil {
				continue
			}
			coord.Refresh(fromSnapshot(u.Snapshot))
		}
	}
}

// fromSnapshot rebuilds the domain state a coordinator diffs from its wire
// form.
func fromSnapshot(s protocol.InteractionSnapshot) *encounter.Interaction {
	order := make([]encounter.InitiativeEntry, len(s.InitiativeOrder))
	for i, e := range s.InitiativeOrder {
		order[i] = encounter.InitiativeEntry{
			Entity: encounter.EntityRef{ID: e.Entity.ID, Kind: encounter.EntityKind(e.Entity.Kind)},
			Roll:   e.Roll,
		}
	}
	return &encounter.Interaction{
		ID:                     s.ID,
		Name:                   s.Name,
		DMID:                   s.DMID,
		Status:                 encounter.Status(s.Status),
		InitiativeOrder:        order,
		CurrentInitiativeIndex: s.CurrentInitiativeIndex,
		RoundNumber:            s.RoundNumber,
		TurnIDs:                s.TurnIDs,
		PlayerCharacterIDs:     s.PlayerCharacterIDs,
		NPCIDs:                 s.NPCIDs,
		MonsterIDs:             s.MonsterIDs,
		TotalActionCount:       s.TotalActionCount,
		PendingActionCount:     s.PendingActionCount,
		UpdatedAt:              s.UpdatedAt,
	}
}
