package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Lookup failures.
	ErrNotFound            = "E_NOT_FOUND"
	ErrUnresolvedReference = "E_UNRESOLVED_REFERENCE"

	// State-machine rejections.
	ErrInvalidTransition = "E_INVALID_TRANSITION"
	ErrDuplicateTurn     = "E_DUPLICATE_TURN"
	ErrStale             = "E_STALE"

	// Movement rejections.
	ErrMovementExceedsSpeed = "E_MOVEMENT_EXCEEDS_SPEED"
	ErrNoMovesToUndo        = "E_NO_MOVES_TO_UNDO"

	// Client-side sync/conflict advisories.
	ErrConflictUnresolvable = "E_CONFLICT_UNRESOLVABLE"
	ErrSyncReplayExhausted  = "E_SYNC_REPLAY_EXHAUSTED"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:      {},
	ErrNotFound:             {},
	ErrUnresolvedReference:  {},
	ErrInvalidTransition:    {},
	ErrDuplicateTurn:        {},
	ErrStale:                {},
	ErrMovementExceedsSpeed: {},
	ErrNoMovesToUndo:        {},
	ErrConflictUnresolvable: {},
	ErrSyncReplayExhausted:  {},
	ErrInternal:             {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
