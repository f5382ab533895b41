package clientsync

import "sync"

// Broadcaster fans an event out to every other local coordinator observing
// the same interaction. The originator is excluded, so each observer reacts
// exactly once per change: once from its own refresh or once from the
// broadcast, never both plus an echo.
type Broadcaster struct {
	mu        sync.Mutex
	observers map[string]map[*Coordinator]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{observers: make(map[string]map[*Coordinator]struct{})}
}

func (b *Broadcaster) register(interactionID string, c *Coordinator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.observers[interactionID]
	if !ok {
		set = make(map[*Coordinator]struct{})
		b.observers[interactionID] = set
	}
	set[c] = struct{}{}
}

func (b *Broadcaster) unregister(interactionID string, c *Coordinator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.observers[interactionID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(b.observers, interactionID)
	}
}

func (b *Broadcaster) publish(from *Coordinator, ev Event) {
	b.mu.Lock()
	var targets []*Coordinator
	for c := range b.observers[ev.InteractionID] {
		if c != from {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.deliver(ev)
	}
}
