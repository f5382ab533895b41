package store

import "tableturn.gg/internal/encounter"

// Subscription is one observer's change feed for a single interaction.
// Delivery is fire-and-forget: when the buffer is full the oldest snapshot is
// dropped so a slow consumer can never stall a commit.
type Subscription struct {
	C chan *encounter.Interaction

	store         *Memory
	interactionID string
	closed        bool
}

const subscriptionBuffer = 16

// Subscribe opens a change feed for the interaction. The caller must Close
// the subscription when done observing.
func (m *Memory) Subscribe(interactionID string) *Subscription {
	sub := &Subscription{
		C:             make(chan *encounter.Interaction, subscriptionBuffer),
		store:         m,
		interactionID: interactionID,
	}
	m.subMu.Lock()
	set, ok := m.subs[interactionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		m.subs[interactionID] = set
	}
	set[sub] = struct{}{}
	m.subMu.Unlock()
	return sub
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.store.subMu.Lock()
	defer s.store.subMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if set, ok := s.store.subs[s.interactionID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.store.subs, s.interactionID)
		}
	}
	close(s.C)
}

func (m *Memory) publish(snapshot *encounter.Interaction) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	set := m.subs[snapshot.ID]
	if len(set) == 0 {
		return
	}
	dropped := 0
	for sub := range set {
		for {
			select {
			case sub.C <- snapshot.Clone():
			default:
				select {
				case <-sub.C:
					dropped++
					continue
				default:
				}
			}
			break
		}
	}
	if dropped > 0 {
		m.log.Printf("subscribe feed %s: dropped %d stale snapshots for slow consumers", snapshot.ID, dropped)
	}
}
