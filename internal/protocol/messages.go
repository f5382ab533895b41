package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// ResumeToken re-attaches an existing session after a disconnect.
	ResumeToken string `json:"resume_token,omitempty"`
	MaxQueue    int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ClientID        string     `json:"client_id"`
	SessionID       string     `json:"session_id"`
	ResumeToken     string     `json:"resume_token"`
	Rules           RulesParams `json:"rules"`
	Resumed         bool       `json:"resumed,omitempty"`
}

// RulesParams advertises the server-side tunables a client needs to mirror.
type RulesParams struct {
	UnitScale       int `json:"unit_scale"`
	ReplayRetryMax  int `json:"replay_retry_max"`
	AuditLogCap     int `json:"audit_log_cap"`
	OfflineQueueCap int `json:"offline_queue_cap"`
}

// Commands carried by ACT.
const (
	CmdCreateInteraction = "CREATE_INTERACTION"
	CmdRollInitiative    = "ROLL_INITIATIVE"
	CmdSetStatus         = "SET_STATUS"
	CmdRecordTurn        = "RECORD_TURN"
	CmdUpdateTurn        = "UPDATE_TURN"
	CmdDeleteTurn        = "DELETE_TURN"
	CmdAdvanceTurn       = "ADVANCE_TURN"
	CmdResolveAction     = "RESOLVE_ACTION"
	CmdComplete          = "COMPLETE"
	CmdCancel            = "CANCEL"
	CmdObserve           = "OBSERVE"
	CmdCreateMap         = "CREATE_MAP"
	CmdPlaceEntity       = "PLACE_ENTITY"
	CmdMoveEntity        = "MOVE_ENTITY"
	CmdUndoMove          = "UNDO_MOVE"
	CmdResetMap          = "RESET_MAP"
)

// EntityRefMsg mirrors the domain entity reference on the wire.
type EntityRefMsg struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// InitiativeEntryMsg is one submitted initiative roll.
type InitiativeEntryMsg struct {
	Entity EntityRefMsg `json:"entity"`
	Roll   int          `json:"roll"`
}

// ACT (client -> server): one command per message. CmdID is client-chosen and
// echoed on the matching ACK.
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CmdID           string `json:"cmd_id"`
	Cmd             string `json:"cmd"`

	InteractionID string               `json:"interaction_id,omitempty"`
	Name          string               `json:"name,omitempty"`
	DMID          string               `json:"dm_id,omitempty"`
	Status        string               `json:"status,omitempty"`
	Participants  []EntityRefMsg       `json:"participants,omitempty"`
	Rolls         []InitiativeEntryMsg `json:"rolls,omitempty"`

	TurnID   string        `json:"turn_id,omitempty"`
	Owner    *EntityRefMsg `json:"owner,omitempty"`
	Target   *EntityRefMsg `json:"target,omitempty"`
	Action   string        `json:"action,omitempty"`
	Distance int           `json:"distance,omitempty"`

	MapID      string        `json:"map_id,omitempty"`
	InstanceID string        `json:"instance_id,omitempty"`
	Entity     *EntityRefMsg `json:"entity,omitempty"`
	X          int           `json:"x,omitempty"`
	Y          int           `json:"y,omitempty"`
	Speed      int           `json:"speed,omitempty"`
	Label      string        `json:"label,omitempty"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CmdID           string `json:"cmd_id"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`

	InteractionID string `json:"interaction_id,omitempty"`
	TurnID        string `json:"turn_id,omitempty"`
	InstanceID    string `json:"instance_id,omitempty"`

	// Movement rejection diagnostic: the distance the move would have cost
	// and the budget that was actually available.
	Distance          int `json:"distance,omitempty"`
	RemainingDistance int `json:"remaining_distance,omitempty"`
}

// InteractionSnapshot is the wire form of an interaction state.
type InteractionSnapshot struct {
	ID                     string               `json:"id"`
	Name                   string               `json:"name"`
	DMID                   string               `json:"dm_id"`
	Status                 string               `json:"status"`
	InitiativeOrder        []InitiativeEntryMsg `json:"initiative_order"`
	CurrentInitiativeIndex int                  `json:"current_initiative_index"`
	RoundNumber            int                  `json:"round_number"`
	TurnIDs                []string             `json:"turn_ids,omitempty"`
	PlayerCharacterIDs     []string             `json:"player_character_ids,omitempty"`
	NPCIDs                 []string             `json:"npc_ids,omitempty"`
	MonsterIDs             []string             `json:"monster_ids,omitempty"`
	TotalActionCount       int                  `json:"total_action_count"`
	PendingActionCount     int                  `json:"pending_action_count"`
	UpdatedAt              int64                `json:"updated_at"`
}

// UPDATE (server -> client): pushed on every committed mutation of an
// observed interaction.
type UpdateMsg struct {
	Type            string              `json:"type"`
	ProtocolVersion string              `json:"protocol_version"`
	InteractionID   string              `json:"interaction_id"`
	Snapshot        InteractionSnapshot `json:"snapshot"`
}
