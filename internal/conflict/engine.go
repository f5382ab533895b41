package conflict

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tableturn.gg/internal/encounter"
)

// DefaultAuditCap bounds the in-memory audit trail; the oldest entries are
// silently dropped past it.
const DefaultAuditCap = 1000

// Engine is one client session's conflict registry. Detection, automatic
// merging and manual resolution all run here; nothing touches the
// authoritative store.
type Engine struct {
	mu sync.Mutex

	policy     Policy
	strategies []Strategy

	active   map[string]*Conflict
	resolved []*Conflict

	audit    []AuditEntry
	auditCap int

	autoResolved int

	log *log.Logger
}

// EngineConfig configures a session's engine. Zero values fall back to the
// defaults.
type EngineConfig struct {
	Policy   Policy
	AuditCap int
	Logger   *log.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	auditCap := cfg.AuditCap
	if auditCap <= 0 {
		auditCap = DefaultAuditCap
	}
	e := &Engine{
		policy:   cfg.Policy,
		active:   make(map[string]*Conflict),
		audit:    make([]AuditEntry, 0, 64),
		auditCap: auditCap,
		log:      logger,
	}
	e.strategies = builtinStrategies(cfg.Policy)
	e.sortStrategies()
	return e
}

// RegisterStrategy adds a merge strategy. Priorities order the consultation;
// lower runs first.
func (e *Engine) RegisterStrategy(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = append(e.strategies, s)
	e.sortStrategies()
}

func (e *Engine) sortStrategies() {
	sort.SliceStable(e.strategies, func(i, j int) bool {
		return e.strategies[i].Priority() < e.strategies[j].Priority()
	})
}

// Detect compares the two snapshots' logical clocks. Equal clocks mean no
// conflict. On divergence it attempts an automatic merge; failing that the
// conflict stays queued for manual resolution. The returned bool reports
// whether a conflict was raised at all.
func (e *Engine) Detect(t Type, server, client *encounter.Interaction) (*Conflict, bool) {
	if server == nil || client == nil {
		return nil, false
	}
	if server.UpdatedAt == client.UpdatedAt {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c := &Conflict{
		ID:            uuid.NewString(),
		InteractionID: server.ID,
		Type:          t,
		Severity:      SeverityFor(t, server, client),
		Server:        server.Clone(),
		Client:        client.Clone(),
		DetectedAt:    time.Now().UTC(),
	}
	e.record(c, "detected", "", "")

	for _, s := range e.strategies {
		if !s.Handles(t) {
			continue
		}
		if !s.CanMerge(c.Server, c.Client) {
			continue
		}
		c.Merged = s.Merge(c.Server, c.Client)
		c.Resolved = true
		c.Method = MethodMerge
		c.ResolvedAt = time.Now().UTC()
		e.resolved = append(e.resolved, c)
		e.autoResolved++
		e.record(c, "auto_resolved", MethodMerge, s.Name())
		return c, true
	}

	// No strategy applied. A refused terminal-status merge is escalated so a
	// human decides whether the encounter really comes back to life.
	if t == TypeStatusUpdate && c.Server.Status.Terminal() != c.Client.Status.Terminal() {
		c.Severity = SeverityHigh
	}
	e.active[c.ID] = c
	e.record(c, "queued_manual", "", "")
	return c, true
}

// Resolve settles an active conflict with an explicit method. MethodManual
// requires replacement state supplied by the caller.
func (e *Engine) Resolve(id string, method Method, manual *encounter.Interaction) (*encounter.Interaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.active[id]
	if !ok {
		return nil, fmt.Errorf("conflict %s: %w", id, ErrConflictNotFound)
	}

	var merged *encounter.Interaction
	switch method {
	case MethodServerWins:
		merged = c.Server.Clone()
	case MethodClientWins:
		merged = c.Client.Clone()
	case MethodMerge:
		for _, s := range e.strategies {
			if s.Handles(c.Type) && s.CanMerge(c.Server, c.Client) {
				merged = s.Merge(c.Server, c.Client)
				break
			}
		}
		if merged == nil {
			return nil, fmt.Errorf("conflict %s has no applicable merge strategy: %w", id, ErrUnresolvable)
		}
	case MethodManual:
		if manual == nil {
			return nil, fmt.Errorf("conflict %s: manual resolution without replacement state: %w", id, ErrUnresolvable)
		}
		merged = manual.Clone()
	default:
		return nil, fmt.Errorf("conflict %s: unknown method %q: %w", id, method, ErrUnresolvable)
	}

	delete(e.active, id)
	c.Resolved = true
	c.Method = method
	c.Merged = merged
	c.ResolvedAt = time.Now().UTC()
	e.resolved = append(e.resolved, c)
	e.record(c, "resolved", method, "")
	return merged.Clone(), nil
}

// Active returns the unresolved conflicts, newest last.
func (e *Engine) Active() []*Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Conflict, 0, len(e.active))
	for _, c := range e.active {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// Resolved returns conflicts settled since the last Flush.
func (e *Engine) Resolved() []*Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Conflict(nil), e.resolved...)
}

// Flush garbage-collects resolved conflicts. The audit trail survives, up to
// its cap.
func (e *Engine) Flush() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.resolved)
	e.resolved = nil
	return n
}

// AuditLog returns a copy of the bounded audit trail, oldest first.
func (e *Engine) AuditLog() []AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]AuditEntry(nil), e.audit...)
}

// EngineStats aggregates the engine's activity since creation.
type EngineStats struct {
	Active       int              `json:"active"`
	Resolved     int              `json:"resolved"`
	AutoResolved int              `json:"auto_resolved"`
	ByType       map[Type]int     `json:"by_type"`
	BySeverity   map[Severity]int `json:"by_severity"`
	ByMethod     map[Method]int   `json:"by_method"`
}

// Stats reports counts over active and (unflushed) resolved conflicts.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := EngineStats{
		Active:       len(e.active),
		Resolved:     len(e.resolved),
		AutoResolved: e.autoResolved,
		ByType:       make(map[Type]int),
		BySeverity:   make(map[Severity]int),
		ByMethod:     make(map[Method]int),
	}
	for _, c := range e.active {
		s.ByType[c.Type]++
		s.BySeverity[c.Severity]++
	}
	for _, c := range e.resolved {
		s.ByType[c.Type]++
		s.BySeverity[c.Severity]++
		s.ByMethod[c.Method]++
	}
	return s
}

func (e *Engine) record(c *Conflict, event string, method Method, detail string) {
	e.audit = append(e.audit, AuditEntry{
		At:            time.Now().UTC(),
		ConflictID:    c.ID,
		InteractionID: c.InteractionID,
		Type:          c.Type,
		Severity:      c.Severity,
		Event:         event,
		Method:        method,
		Detail:        detail,
	})
	if over := len(e.audit) - e.auditCap; over > 0 {
		e.audit = append(e.audit[:0], e.audit[over:]...)
	}
}
