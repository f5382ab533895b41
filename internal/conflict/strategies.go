package conflict

import (
	"sort"

	"tableturn.gg/internal/encounter"
)

// Strategy reconciles two divergent snapshots of one interaction. Strategies
// are consulted in ascending Priority order; the first whose CanMerge holds
// performs the merge.
type Strategy interface {
	Name() string
	Priority() int
	Handles(t Type) bool
	CanMerge(server, client *encounter.Interaction) bool
	Merge(server, client *encounter.Interaction) *encounter.Interaction
}

// Policy holds the knobs for behaviors that are deliberately configurable
// rather than hardcoded.
type Policy struct {
	// AllowTerminalStatusMerge lets the status strategy merge even when one
	// side is terminal and the other is not. Off by default: an automatic
	// merge there can silently resurrect a completed encounter, so it is
	// escalated for manual resolution instead.
	AllowTerminalStatusMerge bool
}

func later(server, client *encounter.Interaction) *encounter.Interaction {
	if client.UpdatedAt > server.UpdatedAt {
		return client
	}
	return server
}

// statusStrategy keeps the status from whichever snapshot carries the later
// logical clock.
type statusStrategy struct {
	policy Policy
}

func (statusStrategy) Name() string       { return "status-last-writer" }
func (statusStrategy) Priority() int      { return 10 }
func (statusStrategy) Handles(t Type) bool { return t == TypeStatusUpdate }

func (s statusStrategy) CanMerge(server, client *encounter.Interaction) bool {
	if s.policy.AllowTerminalStatusMerge {
		return true
	}
	return server.Status.Terminal() == client.Status.Terminal()
}

func (s statusStrategy) Merge(server, client *encounter.Interaction) *encounter.Interaction {
	return later(server, client).Clone()
}

// initiativeStrategy adopts the full initiative order and current index from
// the later-clocked snapshot. Order entries are never merged piecewise.
type initiativeStrategy struct{}

func (initiativeStrategy) Name() string       { return "initiative-last-writer" }
func (initiativeStrategy) Priority() int      { return 20 }
func (initiativeStrategy) Handles(t Type) bool { return t == TypeInitiativeChange }

func (initiativeStrategy) CanMerge(server, client *encounter.Interaction) bool { return true }

func (initiativeStrategy) Merge(server, client *encounter.Interaction) *encounter.Interaction {
	return later(server, client).Clone()
}

// participantStrategy takes the set union of the participant id lists from
// both snapshots. It is additive only: removal is a distinct conflict type
// this strategy does not handle, so no id present in either snapshot is ever
// lost.
type participantStrategy struct{}

func (participantStrategy) Name() string       { return "participant-union" }
func (participantStrategy) Priority() int      { return 30 }
func (participantStrategy) Handles(t Type) bool { return t == TypeParticipantAdd }

func (participantStrategy) CanMerge(server, client *encounter.Interaction) bool { return true }

func (participantStrategy) Merge(server, client *encounter.Interaction) *encounter.Interaction {
	merged := later(server, client).Clone()
	merged.PlayerCharacterIDs = unionIDs(server.PlayerCharacterIDs, client.PlayerCharacterIDs)
	merged.NPCIDs = unionIDs(server.NPCIDs, client.NPCIDs)
	merged.MonsterIDs = unionIDs(server.MonsterIDs, client.MonsterIDs)
	return merged
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func builtinStrategies(policy Policy) []Strategy {
	return []Strategy{
		statusStrategy{policy: policy},
		initiativeStrategy{},
		participantStrategy{},
	}
}
