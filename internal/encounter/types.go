package encounter

import (
	"time"
)

// EntityKind distinguishes the controllable entity families an interaction
// tracks. The game master is not a participant kind; it only appears as the
// owning identity of an interaction.
type EntityKind string

const (
	KindPlayerCharacter EntityKind = "PLAYER_CHARACTER"
	KindNPC             EntityKind = "NPC"
	KindMonster         EntityKind = "MONSTER"
	KindGameMaster      EntityKind = "GAME_MASTER"
)

func (k EntityKind) Valid() bool {
	switch k {
	case KindPlayerCharacter, KindNPC, KindMonster, KindGameMaster:
		return true
	}
	return false
}

// EntityRef identifies an entity by id within a kind namespace.
type EntityRef struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}

func (r EntityRef) Zero() bool { return r.ID == "" }

// Status is the interaction lifecycle state.
type Status string

const (
	StatusPendingInitiative      Status = "PENDING_INITIATIVE"
	StatusInitiativeRolled       Status = "INITIATIVE_ROLLED"
	StatusWaitingForPlayerTurn   Status = "WAITING_FOR_PLAYER_TURN"
	StatusProcessingPlayerAction Status = "PROCESSING_PLAYER_ACTION"
	StatusDMReview               Status = "DM_REVIEW"
	StatusCompleted              Status = "COMPLETED"
	StatusCancelled              Status = "CANCELLED"
)

// Terminal reports whether no further transitions or turns are accepted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// canAdvance reports whether AdvanceTurn is legal from this status.
func (s Status) canAdvance() bool {
	switch s {
	case StatusWaitingForPlayerTurn, StatusProcessingPlayerAction, StatusDMReview:
		return true
	}
	return false
}

// statusTransitions lists the legal non-terminal moves. Complete and Cancel
// are handled separately: they are legal from any non-terminal status.
var statusTransitions = map[Status][]Status{
	StatusPendingInitiative:      {StatusInitiativeRolled},
	StatusInitiativeRolled:       {StatusWaitingForPlayerTurn},
	StatusWaitingForPlayerTurn:   {StatusProcessingPlayerAction, StatusDMReview},
	StatusProcessingPlayerAction: {StatusDMReview, StatusWaitingForPlayerTurn},
	StatusDMReview:               {StatusWaitingForPlayerTurn},
}

// CanTransition reports whether s -> next is a legal lifecycle move.
func CanTransition(s, next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCompleted || next == StatusCancelled {
		return true
	}
	for _, t := range statusTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// InitiativeEntry is one slot in the acting order. Ties in Roll keep their
// original insertion order (stable sort), never an implicit re-roll.
type InitiativeEntry struct {
	Entity EntityRef `json:"entity"`
	Roll   int       `json:"roll"`
}

// Interaction is a turn-based encounter shared by one game master and any
// number of participants. UpdatedAt is a logical clock: it increments by
// exactly one on every committed mutation and is the sole version token used
// for conflict detection.
type Interaction struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	DMID string `json:"dm_id"`

	Status                 Status            `json:"status"`
	InitiativeOrder        []InitiativeEntry `json:"initiative_order"`
	CurrentInitiativeIndex int               `json:"current_initiative_index"`
	RoundNumber            int               `json:"round_number"`

	TurnIDs []string `json:"turn_ids"`

	PlayerCharacterIDs []string `json:"player_character_ids"`
	NPCIDs             []string `json:"npc_ids"`
	MonsterIDs         []string `json:"monster_ids"`

	// Action bookkeeping for the sync feed: total ever submitted and the
	// subset still awaiting game-master resolution.
	TotalActionCount   int `json:"total_action_count"`
	PendingActionCount int `json:"pending_action_count"`

	UpdatedAt int64     `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy. Store reads hand out clones so that callers can
// never mutate authoritative state through a shared slice.
func (in *Interaction) Clone() *Interaction {
	if in == nil {
		return nil
	}
	out := *in
	out.InitiativeOrder = append([]InitiativeEntry(nil), in.InitiativeOrder...)
	out.TurnIDs = append([]string(nil), in.TurnIDs...)
	out.PlayerCharacterIDs = append([]string(nil), in.PlayerCharacterIDs...)
	out.NPCIDs = append([]string(nil), in.NPCIDs...)
	out.MonsterIDs = append([]string(nil), in.MonsterIDs...)
	return &out
}

// CurrentEntity returns the entity whose turn it is, if an order is set.
func (in *Interaction) CurrentEntity() (EntityRef, bool) {
	if len(in.InitiativeOrder) == 0 {
		return EntityRef{}, false
	}
	idx := in.CurrentInitiativeIndex
	if idx < 0 || idx >= len(in.InitiativeOrder) {
		return EntityRef{}, false
	}
	return in.InitiativeOrder[idx].Entity, true
}

// AddParticipant records the id under its kind bucket, ignoring duplicates.
func (in *Interaction) AddParticipant(ref EntityRef) {
	bucket := in.participantBucket(ref.Kind)
	if bucket == nil {
		return
	}
	for _, id := range *bucket {
		if id == ref.ID {
			return
		}
	}
	*bucket = append(*bucket, ref.ID)
}

// HasParticipant reports whether the ref is registered under its kind.
func (in *Interaction) HasParticipant(ref EntityRef) bool {
	bucket := in.participantBucket(ref.Kind)
	if bucket == nil {
		return false
	}
	for _, id := range *bucket {
		if id == ref.ID {
			return true
		}
	}
	return false
}

// ParticipantCount is the total across all kind buckets.
func (in *Interaction) ParticipantCount() int {
	return len(in.PlayerCharacterIDs) + len(in.NPCIDs) + len(in.MonsterIDs)
}

func (in *Interaction) participantBucket(kind EntityKind) *[]string {
	switch kind {
	case KindPlayerCharacter:
		return &in.PlayerCharacterIDs
	case KindNPC:
		return &in.NPCIDs
	case KindMonster:
		return &in.MonsterIDs
	}
	return nil
}

// Turn is one entity's recorded action within a round. Once created only the
// action, target and distance fields may change, and only while it is still
// the active turn.
type Turn struct {
	ID            string     `json:"id"`
	InteractionID string     `json:"interaction_id"`
	Owner         EntityRef  `json:"owner"`
	Target        *EntityRef `json:"target,omitempty"`
	Action        string     `json:"action"`
	DistanceUsed  int        `json:"distance_used"`
	TurnNumber    int        `json:"turn_number"`
	RoundNumber   int        `json:"round_number"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Clone returns a deep copy of the turn.
func (t *Turn) Clone() *Turn {
	if t == nil {
		return nil
	}
	out := *t
	if t.Target != nil {
		target := *t.Target
		out.Target = &target
	}
	return &out
}

// AuditEntry is one durable record of a committed state-machine operation.
type AuditEntry struct {
	Clock         int64          `json:"clock"`
	Actor         string         `json:"actor"`
	Op            string         `json:"op"`
	InteractionID string         `json:"interaction_id"`
	Reason        string         `json:"reason,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	At            time.Time      `json:"at"`
}
