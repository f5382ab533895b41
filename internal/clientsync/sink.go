package clientsync

import (
	"log"
	"time"
)

// EventCategory is the kind of change a refresh detected. A refresh emits at
// most one event per category, however many underlying fields moved.
type EventCategory string

const (
	EventTurnChange        EventCategory = "TURN_CHANGE"
	EventStatusChange      EventCategory = "STATUS_CHANGE"
	EventParticipantChange EventCategory = "PARTICIPANT_CHANGE"
	EventActionSubmitted   EventCategory = "ACTION_SUBMITTED"
	EventActionResolved    EventCategory = "ACTION_RESOLVED"
)

// Event is one notification raised toward the client's UI layer.
type Event struct {
	Category      EventCategory `json:"category"`
	InteractionID string        `json:"interaction_id"`
	Message       string        `json:"message"`
	At            time.Time     `json:"at"`
}

// NotificationSink is the presentation capability injected into a
// coordinator. Show delivery is fire-and-forget; a sink error is logged by
// the coordinator, never escalated.
type NotificationSink interface {
	Show(ev Event) error
	Ack(interactionID string)
}

// LogSink prints notifications to a standard logger. Default sink for
// headless clients.
type LogSink struct {
	Log *log.Logger
}

func (s *LogSink) Show(ev Event) error {
	logger := s.Log
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notify %s interaction=%s %s", ev.Category, ev.InteractionID, ev.Message)
	return nil
}

func (s *LogSink) Ack(string) {}
