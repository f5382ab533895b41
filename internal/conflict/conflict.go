// Package conflict detects divergence between an authoritative interaction
// snapshot and a locally cached one, and reconciles it through pluggable
// per-type merge strategies. One engine instance belongs to one client
// session; there is no shared global registry.
package conflict

import (
	"errors"
	"time"

	"tableturn.gg/internal/encounter"
)

// Type classifies what the two snapshots disagree about.
type Type string

const (
	TypeStatusUpdate      Type = "STATUS_UPDATE"
	TypeInitiativeChange  Type = "INITIATIVE_CHANGE"
	TypeParticipantAdd    Type = "PARTICIPANT_ADD"
	TypeParticipantRemove Type = "PARTICIPANT_REMOVE"
	TypeActionSubmission  Type = "ACTION_SUBMISSION"
	TypeActionResolution  Type = "ACTION_RESOLUTION"
	TypeCustom            Type = "CUSTOM"
)

// Severity ranks how urgently a conflict needs attention.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Method records how a conflict was resolved.
type Method string

const (
	MethodServerWins Method = "SERVER_WINS"
	MethodClientWins Method = "CLIENT_WINS"
	MethodMerge      Method = "MERGE"
	MethodManual     Method = "MANUAL"
)

var (
	// ErrConflictNotFound: no active conflict with that id.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrUnresolvable: no merge strategy applies and no replacement state
	// was supplied.
	ErrUnresolvable = errors.New("conflict unresolvable")
)

// Conflict is an ephemeral divergence record. Server and Client are the two
// snapshots as seen at detection time; Merged holds the reconciled state once
// resolved.
type Conflict struct {
	ID            string   `json:"id"`
	InteractionID string   `json:"interaction_id"`
	Type          Type     `json:"type"`
	Severity      Severity `json:"severity"`

	Server *encounter.Interaction `json:"server"`
	Client *encounter.Interaction `json:"client"`

	Resolved bool                   `json:"resolved"`
	Method   Method                 `json:"method,omitempty"`
	Merged   *encounter.Interaction `json:"merged,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// SeverityFor applies the fixed type->severity rules. Status conflicts that
// touch a completed encounter escalate; initiative-order conflicts are always
// high because the order is replaced wholesale on merge.
func SeverityFor(t Type, server, client *encounter.Interaction) Severity {
	switch t {
	case TypeStatusUpdate:
		if server.Status == encounter.StatusCompleted || client.Status == encounter.StatusCompleted {
			return SeverityHigh
		}
		return SeverityMedium
	case TypeInitiativeChange:
		return SeverityHigh
	case TypeParticipantAdd, TypeParticipantRemove:
		return SeverityMedium
	case TypeActionSubmission, TypeActionResolution:
		return SeverityLow
	}
	return SeverityMedium
}

// AuditEntry is one line of the engine's bounded in-memory audit trail.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ConflictID    string    `json:"conflict_id"`
	InteractionID string    `json:"interaction_id"`
	Type          Type      `json:"type"`
	Severity      Severity  `json:"severity"`
	Event         string    `json:"event"`
	Method        Method    `json:"method,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}
