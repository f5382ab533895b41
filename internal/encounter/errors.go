package encounter

import "errors"

var (
	// ErrNotFound: interaction, turn or entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStale: a conditional put lost the race; the caller's snapshot no
	// longer matches the authoritative logical clock.
	ErrStale = errors.New("stale logical clock")

	// ErrInvalidTransition: illegal state-machine move, acting out of turn,
	// or any operation against a terminal interaction.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDuplicateTurn: the owner already has a turn this round.
	ErrDuplicateTurn = errors.New("duplicate turn")

	// ErrUnresolvedReference: a turn owner or target id does not resolve.
	ErrUnresolvedReference = errors.New("unresolved entity reference")
)
