package clientsync

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrQueueFull: the offline queue hit its bound; the mutation is refused
	// rather than evicting older pending work.
	ErrQueueFull = errors.New("offline queue full")

	// ErrReplayExhausted: a queued mutation burned its whole retry budget and
	// was dropped.
	ErrReplayExhausted = errors.New("sync replay exhausted")
)

// Mutation is one locally originated change made while disconnected, waiting
// to be replayed against the server.
type Mutation struct {
	ID            string         `json:"id"`
	InteractionID string         `json:"interaction_id"`
	Kind          string         `json:"kind"`
	Payload       map[string]any `json:"payload,omitempty"`
	Retries       int            `json:"retries"`
	EnqueuedAt    time.Time      `json:"enqueued_at"`
}

// ReplayFailure reports a mutation dropped during drain.
type ReplayFailure struct {
	Mutation Mutation
	Attempts int
	Err      error
}

// DurableQueue buffers offline mutations and replays them in FIFO order. Any
// transport can implement it; the in-memory implementation below is the
// default.
type DurableQueue interface {
	Enqueue(m Mutation) error
	Len() int
	// Drain replays queued mutations through apply, retrying each up to the
	// queue's budget before dropping it. It returns the failures.
	Drain(apply func(Mutation) error) []ReplayFailure
}

// DefaultRetryMax is the per-mutation replay budget.
const DefaultRetryMax = 3

// MemoryQueue is a bounded FIFO DurableQueue.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []Mutation
	cap      int
	retryMax int
}

func NewMemoryQueue(capacity, retryMax int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	if retryMax <= 0 {
		retryMax = DefaultRetryMax
	}
	return &MemoryQueue{cap: capacity, retryMax: retryMax}
}

func (q *MemoryQueue) Enqueue(m Mutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		return fmt.Errorf("queue at %d: %w", q.cap, ErrQueueFull)
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}
	q.items = append(q.items, m)
	return nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) Drain(apply func(Mutation) error) []ReplayFailure {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	var failures []ReplayFailure
	for _, m := range pending {
		var lastErr error
		applied := false
		for attempt := 1; attempt <= q.retryMax; attempt++ {
			if err := apply(m); err != nil {
				lastErr = err
				m.Retries = attempt
				continue
			}
			applied = true
			break
		}
		if !applied {
			failures = append(failures, ReplayFailure{
				Mutation: m,
				Attempts: q.retryMax,
				Err:      fmt.Errorf("%w: %v", ErrReplayExhausted, lastErr),
			})
		}
	}
	return failures
}
