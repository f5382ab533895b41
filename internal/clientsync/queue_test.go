package clientsync

import (
	"errors"
	"fmt"
	"testing"
)

func TestMemoryQueueBound(t *testing.T) {
	q := NewMemoryQueue(2, 1)

	if err := q.Enqueue(Mutation{ID: "M1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(Mutation{ID: "M2"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(Mutation{ID: "M3"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("overflow: err = %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d", q.Len())
	}
}

func TestMemoryQueueDrainFIFO(t *testing.T) {
	q := NewMemoryQueue(8, 1)
	for i := 0; i < 4; i++ {
		if err := q.Enqueue(Mutation{ID: fmt.Sprintf("M%d", i)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var order []string
	failures := q.Drain(func(m Mutation) error {
		order = append(order, m.ID)
		return nil
	})
	if len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}
	for i, id := range order {
		if want := fmt.Sprintf("M%d", i); id != want {
			t.Fatalf("order = %v", order)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("len after drain = %d", q.Len())
	}
}

func TestMemoryQueueRetryBudget(t *testing.T) {
	q := NewMemoryQueue(8, 3)
	if err := q.Enqueue(Mutation{ID: "flaky"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(Mutation{ID: "broken"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	attempts := make(map[string]int)
	failures := q.Drain(func(m Mutation) error {
		attempts[m.ID]++
		// flaky succeeds on its second attempt; broken never does.
		if m.ID == "flaky" && attempts[m.ID] == 2 {
			return nil
		}
		return errors.New("transient")
	})

	if attempts["flaky"] != 2 {
		t.Fatalf("flaky attempts = %d", attempts["flaky"])
	}
	if attempts["broken"] != 3 {
		t.Fatalf("broken attempts = %d", attempts["broken"])
	}
	if len(failures) != 1 {
		t.Fatalf("failures = %v", failures)
	}
	f := failures[0]
	if f.Mutation.ID != "broken" || f.Attempts != 3 || !errors.Is(f.Err, ErrReplayExhausted) {
		t.Fatalf("failure = %+v", f)
	}
}

func TestMemoryQueueDrainEmpty(t *testing.T) {
	q := NewMemoryQueue(8, 3)
	if failures := q.Drain(func(Mutation) error { return errors.New("never called") }); len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}
}
