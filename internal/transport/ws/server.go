package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tableturn.gg/internal/encounter"
	"tableturn.gg/internal/grid"
	"tableturn.gg/internal/protocol"
	"tableturn.gg/internal/rules"
	"tableturn.gg/internal/store"
)

// Server terminates WebSocket clients: HELLO/WELCOME handshake with session
// resume, ACT dispatch into the state machine and grid engine, and UPDATE
// push driven by the store's subscribe feed.
type Server struct {
	machine *encounter.Machine
	grid    *grid.Engine
	store   *store.Memory
	rules   rules.Rules
	log     *log.Logger

	sessions *sessionRegistry
	upgrader websocket.Upgrader
}

func NewServer(machine *encounter.Machine, gridEngine *grid.Engine, mem *store.Memory, r rules.Rules, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		machine:  machine,
		grid:     gridEngine,
		store:    mem,
		rules:    r,
		log:      logger,
		sessions: newSessionRegistry(time.Duration(r.SessionResumeWindowS) * time.Second),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess, out := s.handshake(conn)
		if sess == nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				continue
			}
			if act.ProtocolVersion != protocol.Version {
				sess.send(marshalAck(protocol.AckMsg{
					Type:            protocol.TypeAck,
					ProtocolVersion: protocol.Version,
					CmdID:           act.CmdID,
					Accepted:        false,
					Code:            protocol.ErrProtoBadRequest,
					Message:         "unsupported protocol_version",
				}))
				continue
			}
			ack := s.dispatch(ctx, sess, act)
			sess.send(marshalAck(ack))
		}

		// Park the session for the resume window instead of tearing it down;
		// a reconnecting client picks up its subscriptions where it left.
		s.sessions.park(sess)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (*session, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil, nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil, nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > s.rules.MaxClientQueue {
		maxQ = s.rules.MaxClientQueue
	}
	out := make(chan []byte, maxQ)

	var sess *session
	resumed := false
	if token := strings.TrimSpace(hello.ResumeToken); token != "" {
		if found := s.sessions.resume(token, out); found != nil {
			sess = found
			resumed = true
		}
	}
	if sess == nil {
		sess = s.sessions.create(hello.ClientName, out)
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ClientID:        sess.clientID,
		SessionID:       sess.id,
		ResumeToken:     sess.resumeToken,
		Resumed:         resumed,
		Rules: protocol.RulesParams{
			UnitScale:       s.rules.UnitScale,
			ReplayRetryMax:  s.rules.ReplayRetryMax,
			AuditLogCap:     s.rules.AuditLogCap,
			OfflineQueueCap: s.rules.OfflineQueueCap,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.sessions.drop(sess)
		return nil, nil
	}
	return sess, out
}

// observe subscribes the session to an interaction's change feed and starts
// the pump that turns snapshots into UPDATE frames.
func (s *Server) observe(sess *session, interactionID string) {
	sub, fresh := sess.subscribe(interactionID, s.store)
	if !fresh {
		return
	}
	go func() {
		for snap := range sub.C {
			u := protocol.UpdateMsg{
				Type:            protocol.TypeUpdate,
				ProtocolVersion: protocol.Version,
				InteractionID:   snap.ID,
				Snapshot:        snapshotMsg(snap),
			}
			b, err := json.Marshal(u)
			if err != nil {
				continue
			}
			sess.send(b)
		}
	}()
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func marshalAck(a protocol.AckMsg) []byte {
	b, err := json.Marshal(a)
	if err != nil {
		return nil
	}
	return b
}

// codeFor maps a domain error to its wire code.
func codeFor(err error) string {
	switch {
	case errors.Is(err, encounter.ErrDuplicateTurn):
		return protocol.ErrDuplicateTurn
	case errors.Is(err, encounter.ErrInvalidTransition):
		return protocol.ErrInvalidTransition
	case errors.Is(err, encounter.ErrUnresolvedReference):
		return protocol.ErrUnresolvedReference
	case errors.Is(err, encounter.ErrStale):
		return protocol.ErrStale
	case errors.Is(err, grid.ErrMovementExceedsSpeed):
		return protocol.ErrMovementExceedsSpeed
	case errors.Is(err, grid.ErrNoMovesToUndo):
		return protocol.ErrNoMovesToUndo
	case errors.Is(err, grid.ErrAlreadyPlaced):
		return protocol.ErrInvalidTransition
	case errors.Is(err, grid.ErrNotFound), errors.Is(err, encounter.ErrNotFound):
		return protocol.ErrNotFound
	}
	return protocol.ErrInternal
}
