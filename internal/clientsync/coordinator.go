// Package clientsync tracks what one connected client last observed of each
// interaction, raises notifications on change, and queues mutations made
// while offline for replay on reconnect.
package clientsync

import (
	"fmt"
	"log"
	"sync"
	"time"

	"tableturn.gg/internal/conflict"
	"tableturn.gg/internal/encounter"
)

// tracked is the per-interaction view a coordinator diffs against.
type tracked struct {
	turnCount    int
	currentIndex int
	round        int
	status       encounter.Status
	participants int
	pending      int
	total        int
	clock        int64
	snapshot     *encounter.Interaction
}

// Coordinator is one client's sync component. It never touches the
// authoritative store; everything it learns arrives as refreshed snapshots,
// and everything it wants to change goes back through the normal submission
// path (directly while online, via the offline queue otherwise).
type Coordinator struct {
	clientID string

	mu      sync.Mutex
	view    map[string]*tracked
	online  bool

	sink   NotificationSink
	queue  DurableQueue
	engine *conflict.Engine
	bc     *Broadcaster

	log *log.Logger
}

// CoordinatorConfig wires one session's coordinator. Engine and Broadcaster
// are optional; Sink and Queue fall back to defaults when nil.
type CoordinatorConfig struct {
	ClientID    string
	Sink        NotificationSink
	Queue       DurableQueue
	Engine      *conflict.Engine
	Broadcaster *Broadcaster
	Logger      *log.Logger
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = &LogSink{Log: logger}
	}
	queue := cfg.Queue
	if queue == nil {
		queue = NewMemoryQueue(64, DefaultRetryMax)
	}
	return &Coordinator{
		clientID: cfg.ClientID,
		view:     make(map[string]*tracked),
		online:   true,
		sink:     sink,
		queue:    queue,
		engine:   cfg.Engine,
		bc:       cfg.Broadcaster,
		log:      logger,
	}
}

// Observe starts tracking an interaction and joins the local fan-out group.
func (c *Coordinator) Observe(interactionID string) {
	c.mu.Lock()
	if _, ok := c.view[interactionID]; !ok {
		c.view[interactionID] = nil
	}
	c.mu.Unlock()
	if c.bc != nil {
		c.bc.register(interactionID, c)
	}
}

// Forget stops tracking and leaves the fan-out group.
func (c *Coordinator) Forget(interactionID string) {
	c.mu.Lock()
	delete(c.view, interactionID)
	c.mu.Unlock()
	if c.bc != nil {
		c.bc.unregister(interactionID, c)
	}
}

// Refresh diffs a fresh server snapshot against the tracked view and emits
// at most one event per changed category. The first snapshot of an
// interaction seeds the view silently. Events go to this coordinator's sink
// and are broadcast to the other local observers.
func (c *Coordinator) Refresh(snap *encounter.Interaction) []Event {
	if snap == nil {
		return nil
	}
	now := time.Now().UTC()

	c.mu.Lock()
	prev := c.view[snap.ID]
	next := &tracked{
		turnCount:    len(snap.TurnIDs),
		currentIndex: snap.CurrentInitiativeIndex,
		round:        snap.RoundNumber,
		status:       snap.Status,
		participants: snap.ParticipantCount(),
		pending:      snap.PendingActionCount,
		total:        snap.TotalActionCount,
		clock:        snap.UpdatedAt,
		snapshot:     snap.Clone(),
	}
	c.view[snap.ID] = next

	var events []Event
	if prev != nil {
		if next.turnCount != prev.turnCount || next.currentIndex != prev.currentIndex || next.round != prev.round {
			events = append(events, Event{
				Category:      EventTurnChange,
				InteractionID: snap.ID,
				Message:       fmt.Sprintf("round %d, initiative slot %d", next.round, next.currentIndex),
				At:            now,
			})
		}
		if next.status != prev.status {
			events = append(events, Event{
				Category:      EventStatusChange,
				InteractionID: snap.ID,
				Message:       fmt.Sprintf("status %s -> %s", prev.status, next.status),
				At:            now,
			})
		}
		if next.participants != prev.participants {
			events = append(events, Event{
				Category:      EventParticipantChange,
				InteractionID: snap.ID,
				Message:       fmt.Sprintf("participants %d -> %d", prev.participants, next.participants),
				At:            now,
			})
		}
		if next.total > prev.total {
			events = append(events, Event{
				Category:      EventActionSubmitted,
				InteractionID: snap.ID,
				Message:       fmt.Sprintf("%d actions submitted", next.total-prev.total),
				At:            now,
			})
		}
		if next.pending < prev.pending {
			events = append(events, Event{
				Category:      EventActionResolved,
				InteractionID: snap.ID,
				Message:       fmt.Sprintf("%d actions resolved", prev.pending-next.pending),
				At:            now,
			})
		}
	}
	c.mu.Unlock()

	for _, ev := range events {
		if err := c.sink.Show(ev); err != nil {
			c.log.Printf("sink dropped %s for %s: %v", ev.Category, ev.InteractionID, err)
		}
		if c.bc != nil {
			c.bc.publish(c, ev)
		}
	}
	return events
}

// deliver receives a broadcast event from another local observer.
func (c *Coordinator) deliver(ev Event) {
	if err := c.sink.Show(ev); err != nil {
		c.log.Printf("sink dropped broadcast %s for %s: %v", ev.Category, ev.InteractionID, err)
	}
}

// Cached returns the last snapshot this coordinator saw for the interaction.
func (c *Coordinator) Cached(interactionID string) *encounter.Interaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.view[interactionID]
	if t == nil {
		return nil
	}
	return t.snapshot.Clone()
}

// Online reports the connection state.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Disconnect switches the coordinator to offline buffering.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	c.online = false
	c.mu.Unlock()
}

// Submit applies a mutation directly while online; offline it lands in the
// durable queue for replay.
func (c *Coordinator) Submit(m Mutation, apply func(Mutation) error) error {
	if c.Online() {
		return apply(m)
	}
	return c.queue.Enqueue(m)
}

// Pending reports the offline queue depth.
func (c *Coordinator) Pending() int { return c.queue.Len() }

// Reconnect flips back online and replays the offline queue in FIFO order.
// Each entry gets the queue's retry budget; exhausted entries are dropped and
// returned as failures. A replay that collides with newer server state routes
// through the conflict engine instead of failing the whole drain.
func (c *Coordinator) Reconnect(apply func(Mutation) error, fetch func(interactionID string) (*encounter.Interaction, error)) []ReplayFailure {
	c.mu.Lock()
	c.online = true
	c.mu.Unlock()

	failures := c.queue.Drain(apply)
	for _, f := range failures {
		c.log.Printf("replay dropped %s mutation %s after %d attempts: %v",
			f.Mutation.Kind, f.Mutation.ID, f.Attempts, f.Err)
		if c.engine == nil || fetch == nil {
			continue
		}
		cached := c.Cached(f.Mutation.InteractionID)
		if cached == nil {
			continue
		}
		server, err := fetch(f.Mutation.InteractionID)
		if err != nil {
			c.log.Printf("replay conflict fetch %s: %v", f.Mutation.InteractionID, err)
			continue
		}
		if _, raised := c.engine.Detect(conflictTypeFor(f.Mutation.Kind), server, cached); raised {
			c.sink.Ack(f.Mutation.InteractionID)
		}
	}
	return failures
}

func conflictTypeFor(kind string) conflict.Type {
	switch kind {
	case "RECORD_TURN", "ADVANCE_TURN":
		return conflict.TypeActionSubmission
	case "RESOLVE_ACTION":
		return conflict.TypeActionResolution
	case "SET_STATUS", "COMPLETE", "CANCEL":
		return conflict.TypeStatusUpdate
	case "ROLL_INITIATIVE":
		return conflict.TypeInitiativeChange
	}
	return conflict.TypeCustom
}
