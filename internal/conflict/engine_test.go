package conflict

import (
	"errors"
	"testing"

	"tableturn.gg/internal/encounter"
)

func snap(clock int64, status encounter.Status) *encounter.Interaction {
	return &encounter.Interaction{
		ID:        "I1",
		Status:    status,
		UpdatedAt: clock,
	}
}

func TestDetectEqualClocksIsNoConflict(t *testing.T) {
	e := NewEngine(EngineConfig{})
	if c, raised := e.Detect(TypeStatusUpdate, snap(3, encounter.StatusDMReview), snap(3, encounter.StatusDMReview)); raised || c != nil {
		t.Fatalf("raised = %v conflict = %v", raised, c)
	}
	if c, raised := e.Detect(TypeStatusUpdate, nil, snap(3, encounter.StatusDMReview)); raised || c != nil {
		t.Fatalf("nil server: raised = %v", raised)
	}
}

func TestDetectAutoResolvesStatusByLaterClock(t *testing.T) {
	e := NewEngine(EngineConfig{})
	server := snap(5, encounter.StatusDMReview)
	client := snap(3, encounter.StatusWaitingForPlayerTurn)

	c, raised := e.Detect(TypeStatusUpdate, server, client)
	if !raised || !c.Resolved || c.Method != MethodMerge {
		t.Fatalf("conflict = %+v", c)
	}
	if c.Merged.Status != encounter.StatusDMReview {
		t.Fatalf("merged status = %s, want server's later state", c.Merged.Status)
	}
	if len(e.Active()) != 0 || len(e.Resolved()) != 1 {
		t.Fatalf("active=%d resolved=%d", len(e.Active()), len(e.Resolved()))
	}
}

func TestDetectEscalatesTerminalStatusMismatch(t *testing.T) {
	e := NewEngine(EngineConfig{})
	server := snap(5, encounter.StatusCompleted)
	client := snap(7, encounter.StatusWaitingForPlayerTurn)

	c, raised := e.Detect(TypeStatusUpdate, server, client)
	if !raised || c.Resolved {
		t.Fatalf("conflict = %+v", c)
	}
	if c.Severity != SeverityHigh {
		t.Fatalf("severity = %s", c.Severity)
	}
	if len(e.Active()) != 1 {
		t.Fatalf("active = %d", len(e.Active()))
	}
}

func TestPolicyAllowsTerminalStatusMerge(t *testing.T) {
	e := NewEngine(EngineConfig{Policy: Policy{AllowTerminalStatusMerge: true}})
	server := snap(5, encounter.StatusCompleted)
	client := snap(7, encounter.StatusWaitingForPlayerTurn)

	c, raised := e.Detect(TypeStatusUpdate, server, client)
	if !raised || !c.Resolved {
		t.Fatalf("conflict = %+v", c)
	}
	// Client carries the later clock: the encounter reopens, as the policy
	// explicitly permits.
	if c.Merged.Status != encounter.StatusWaitingForPlayerTurn {
		t.Fatalf("merged status = %s", c.Merged.Status)
	}
}

func TestResolveServerAndClientWins(t *testing.T) {
	e := NewEngine(EngineConfig{})
	server := snap(5, encounter.StatusCompleted)
	client := snap(7, encounter.StatusWaitingForPlayerTurn)
	c, _ := e.Detect(TypeStatusUpdate, server, client)

	merged, err := e.Resolve(c.ID, MethodServerWins, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if merged.Status != encounter.StatusCompleted {
		t.Fatalf("status = %s", merged.Status)
	}
	if _, err := e.Resolve(c.ID, MethodServerWins, nil); !errors.Is(err, ErrConflictNotFound) {
		t.Fatalf("second resolve: err = %v", err)
	}

	c2, _ := e.Detect(TypeStatusUpdate, snap(9, encounter.StatusCancelled), snap(8, encounter.StatusDMReview))
	merged, err = e.Resolve(c2.ID, MethodClientWins, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if merged.Status != encounter.StatusDMReview {
		t.Fatalf("status = %s", merged.Status)
	}
}

func TestResolveManualRequiresReplacement(t *testing.T) {
	e := NewEngine(EngineConfig{})
	c, _ := e.Detect(TypeStatusUpdate, snap(5, encounter.StatusCompleted), snap(7, encounter.StatusDMReview))

	if _, err := e.Resolve(c.ID, MethodManual, nil); !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("err = %v", err)
	}
	replacement := snap(9, encounter.StatusCompleted)
	merged, err := e.Resolve(c.ID, MethodManual, replacement)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if merged.Status != encounter.StatusCompleted || merged.UpdatedAt != 9 {
		t.Fatalf("merged = %+v", merged)
	}
}

func TestResolveMergeWithoutStrategyIsUnresolvable(t *testing.T) {
	e := NewEngine(EngineConfig{})
	c, _ := e.Detect(TypeCustom, snap(5, encounter.StatusDMReview), snap(7, encounter.StatusDMReview))
	if c.Resolved {
		t.Fatalf("custom conflict auto-resolved: %+v", c)
	}
	if _, err := e.Resolve(c.ID, MethodMerge, nil); !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("err = %v", err)
	}
}

func TestFlushAndStats(t *testing.T) {
	e := NewEngine(EngineConfig{})
	e.Detect(TypeStatusUpdate, snap(5, encounter.StatusDMReview), snap(3, encounter.StatusWaitingForPlayerTurn))
	e.Detect(TypeInitiativeChange, snap(5, encounter.StatusDMReview), snap(3, encounter.StatusDMReview))
	e.Detect(TypeCustom, snap(5, encounter.StatusDMReview), snap(3, encounter.StatusDMReview))

	s := e.Stats()
	if s.Active != 1 || s.Resolved != 2 || s.AutoResolved != 2 {
		t.Fatalf("stats = %+v", s)
	}
	if s.ByType[TypeStatusUpdate] != 1 || s.ByType[TypeInitiativeChange] != 1 || s.ByType[TypeCustom] != 1 {
		t.Fatalf("by type = %v", s.ByType)
	}
	if s.ByMethod[MethodMerge] != 2 {
		t.Fatalf("by method = %v", s.ByMethod)
	}

	if n := e.Flush(); n != 2 {
		t.Fatalf("flushed = %d", n)
	}
	s = e.Stats()
	if s.Resolved != 0 || s.Active != 1 {
		t.Fatalf("post-flush stats = %+v", s)
	}
	// The audit trail survives the flush.
	if len(e.AuditLog()) == 0 {
		t.Fatal("audit trail lost on flush")
	}
}

func TestAuditTrailIsBounded(t *testing.T) {
	e := NewEngine(EngineConfig{AuditCap: 10})
	for i := 0; i < 20; i++ {
		e.Detect(TypeActionSubmission, snap(int64(i+2), encounter.StatusDMReview), snap(1, encounter.StatusDMReview))
	}
	entries := e.AuditLog()
	if len(entries) != 10 {
		t.Fatalf("audit len = %d, want 10", len(entries))
	}
	// Oldest entries were dropped: everything left is newer than the first
	// half of the run.
	for i := 1; i < len(entries); i++ {
		if entries[i].At.Before(entries[i-1].At) {
			t.Fatal("audit entries out of order")
		}
	}
}

func TestDetectSnapshotsAreIsolated(t *testing.T) {
	e := NewEngine(EngineConfig{})
	server := snap(5, encounter.StatusCompleted)
	client := snap(7, encounter.StatusDMReview)
	c, _ := e.Detect(TypeStatusUpdate, server, client)

	server.Status = encounter.StatusCancelled
	if c.Server.Status != encounter.StatusCompleted {
		t.Fatal("conflict shares state with the caller's snapshot")
	}
}
