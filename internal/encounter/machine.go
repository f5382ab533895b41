package encounter

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntityResolver validates that an entity id exists within a kind namespace.
// Implemented by the external persistence/identity collaborator.
type EntityResolver interface {
	ResolveEntity(ctx context.Context, kind EntityKind, id string) error
}

// Store is the authoritative interaction store consumed by the state machine.
// PutInteraction is conditional: it commits with UpdatedAt = expected+1 only
// when the stored clock still equals expected, returning ErrStale otherwise.
// expected 0 creates a new interaction.
type Store interface {
	GetInteraction(ctx context.Context, id string) (*Interaction, error)
	PutInteraction(ctx context.Context, in *Interaction, expected int64) error
	DeleteInteraction(ctx context.Context, id string) error

	GetTurn(ctx context.Context, id string) (*Turn, error)
	AppendTurn(ctx context.Context, t *Turn) error
	UpdateTurn(ctx context.Context, t *Turn) error
	DeleteTurn(ctx context.Context, id string) error
	ListTurns(ctx context.Context, interactionID string) ([]*Turn, error)
}

// TurnLogger receives every committed turn. Optional; may be nil.
type TurnLogger interface {
	WriteTurn(t Turn) error
}

// AuditLogger receives one entry per committed mutation. Optional; may be nil.
type AuditLogger interface {
	WriteAudit(e AuditEntry) error
}

// MachineConfig wires the state machine's collaborators.
type MachineConfig struct {
	Store    Store
	Resolver EntityResolver
	Logger   *log.Logger

	TurnLogger  TurnLogger
	AuditLogger AuditLogger
}

// Machine owns interaction lifecycle transitions and the current-turn
// pointer. Mutations are serialized per interaction id and committed with a
// compare-and-swap on the logical clock, so two racing advances can never
// both apply against the same pointer value.
type Machine struct {
	store     Store
	resolver  EntityResolver
	log       *log.Logger
	turnLog   TurnLogger
	auditLog  AuditLogger
	ledger    *Ledger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMachine(cfg MachineConfig) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Machine{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		log:      logger,
		turnLog:  cfg.TurnLogger,
		auditLog: cfg.AuditLogger,
		ledger:   NewLedger(cfg.Store),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Ledger exposes the read side over this machine's store.
func (m *Machine) Ledger() *Ledger { return m.ledger }

func (m *Machine) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Create starts a new interaction in PENDING_INITIATIVE. The creating game
// master and every initial participant must resolve.
func (m *Machine) Create(ctx context.Context, dmID, name string, participants []EntityRef) (*Interaction, error) {
	if err := m.resolver.ResolveEntity(ctx, KindGameMaster, dmID); err != nil {
		return nil, fmt.Errorf("resolve dm %s: %w", dmID, err)
	}
	for _, p := range participants {
		if err := m.resolver.ResolveEntity(ctx, p.Kind, p.ID); err != nil {
			return nil, fmt.Errorf("resolve participant %s/%s: %w", p.Kind, p.ID, err)
		}
	}

	in := &Interaction{
		ID:        uuid.NewString(),
		Name:      name,
		DMID:      dmID,
		Status:    StatusPendingInitiative,
		CreatedAt: time.Now().UTC(),
	}
	for _, p := range participants {
		in.AddParticipant(p)
	}
	if err := m.store.PutInteraction(ctx, in, 0); err != nil {
		return nil, err
	}
	m.audit(in.ID, dmID, "CREATE", 1, "", map[string]any{"participants": in.ParticipantCount()})
	return m.get(ctx, in.ID)
}

// RollInitiative installs the acting order and moves the interaction to
// INITIATIVE_ROLLED. Entries are sorted by roll descending; ties keep their
// submitted order.
func (m *Machine) RollInitiative(ctx context.Context, id string, entries []InitiativeEntry) (*Interaction, error) {
	unlock := m.acquire(id)
	defer unlock()

	in, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Status != StatusPendingInitiative {
		return nil, fmt.Errorf("roll initiative from %s: %w", in.Status, ErrInvalidTransition)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty initiative order: %w", ErrInvalidTransition)
	}
	for _, e := range entries {
		if err := m.resolver.ResolveEntity(ctx, e.Entity.Kind, e.Entity.ID); err != nil {
			return nil, fmt.Errorf("%s/%s does not resolve: %w", e.Entity.Kind, e.Entity.ID, ErrUnresolvedReference)
		}
		if !in.HasParticipant(e.Entity) {
			return nil, fmt.Errorf("%s/%s is not a participant: %w", e.Entity.Kind, e.Entity.ID, ErrUnresolvedReference)
		}
	}

	order := append([]InitiativeEntry(nil), entries...)
	sort.SliceStable(order, func(i, j int) bool { return order[i].Roll > order[j].Roll })

	in.InitiativeOrder = order
	in.CurrentInitiativeIndex = 0
	in.RoundNumber = 1
	in.Status = StatusInitiativeRolled
	if err := m.store.PutInteraction(ctx, in, in.UpdatedAt); err != nil {
		return nil, err
	}
	m.audit(id, in.DMID, "ROLL_INITIATIVE", in.UpdatedAt+1, "", map[string]any{"order_len": len(order)})
	return m.get(ctx, id)
}

// SetStatus performs a non-terminal lifecycle transition.
func (m *Machine) SetStatus(ctx context.Context, id string, next Status) (*Interaction, error) {
	unlock := m.acquire(id)
	defer unlock()

	in, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if next.Terminal() {
		return nil, fmt.Errorf("use Complete or Cancel for terminal statuses: %w", ErrInvalidTransition)
	}
	if !CanTransition(in.Status, next) {
		return nil, fmt.Errorf("%s -> %s: %w", in.Status, next, ErrInvalidTransition)
	}
	in.Status = next
	if err := m.store.PutInteraction(ctx, in, in.UpdatedAt); err != nil {
		return nil, err
	}
	m.audit(id, in.DMID, "SET_STATUS", in.UpdatedAt+1, string(next), nil)
	return m.get(ctx, id)
}

// AdvanceTurn moves the current-turn pointer to the next initiative slot,
// starting a new round on wraparound.
func (m *Machine) AdvanceTurn(ctx context.Context, id string) (*Interaction, error) {
	unlock := m.acquire(id)
	defer unlock()

	in, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Status.Terminal() {
		return nil, fmt.Errorf("advance turn on %s interaction: %w", in.Status, ErrInvalidTransition)
	}
	if !in.Status.canAdvance() {
		return nil, fmt.Errorf("advance turn from %s: %w", in.Status, ErrInvalidTransition)
	}
	if len(in.InitiativeOrder) == 0 {
		return nil, fmt.Errorf("advance turn with empty initiative order: %w", ErrInvalidTransition)
	}

	in.CurrentInitiativeIndex = (in.CurrentInitiativeIndex + 1) % len(in.InitiativeOrder)
	if in.CurrentInitiativeIndex == 0 {
		in.RoundNumber++
	}
	if err := m.store.PutInteraction(ctx, in, in.UpdatedAt); err != nil {
		return nil, err
	}
	m.audit(id, in.DMID, "ADVANCE_TURN", in.UpdatedAt+1, "", map[string]any{
		"index": in.CurrentInitiativeIndex,
		"round": in.RoundNumber,
	})
	return m.get(ctx, id)
}

// RecordTurn appends the owner's action for the current round. All validation
// happens before any write: a rejected turn leaves both the ledger and the
// interaction untouched.
func (m *Machine) RecordTurn(ctx context.Context, id string, owner EntityRef, action string, target *EntityRef, distance int) (*Turn, error) {
	unlock := m.acquire(id)
	defer unlock()

	in, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Status.Terminal() {
		return nil, fmt.Errorf("record turn on %s interaction: %w", in.Status, ErrInvalidTransition)
	}
	if in.RoundNumber < 1 {
		return nil, fmt.Errorf("record turn before initiative: %w", ErrInvalidTransition)
	}
	current, ok := in.CurrentEntity()
	if !ok {
		return nil, fmt.Errorf("record turn with empty initiative order: %w", ErrInvalidTransition)
	}
	if current != owner {
		return nil, fmt.Errorf("%s/%s acting out of turn (current %s/%s): %w",
			owner.Kind, owner.ID, current.Kind, current.ID, ErrInvalidTransition)
	}
	if err := m.resolver.ResolveEntity(ctx, owner.Kind, owner.ID); err != nil {
		return nil, fmt.Errorf("owner %s/%s does not resolve: %w", owner.Kind, owner.ID, ErrUnresolvedReference)
	}
	if target != nil {
		if err := m.resolver.ResolveEntity(ctx, target.Kind, target.ID); err != nil {
			return nil, fmt.Errorf("target %s/%s does not resolve: %w", target.Kind, target.ID, ErrUnresolvedReference)
		}
	}
	acted, err := m.ledger.HasActed(ctx, id, in.RoundNumber, owner)
	if err != nil {
		return nil, err
	}
	if acted {
		return nil, fmt.Errorf("%s/%s already acted in round %d: %w", owner.Kind, owner.ID, in.RoundNumber, ErrDuplicateTurn)
	}
	turnNumber, err := m.ledger.NextTurnNumber(ctx, id, in.RoundNumber)
	if err != nil {
		return nil, err
	}

	t := &Turn{
		ID:            uuid.NewString(),
		InteractionID: id,
		Owner:         owner,
		Target:        cloneRef(target),
		Action:        action,
		DistanceUsed:  distance,
		TurnNumber:    turnNumber,
		RoundNumber:   in.RoundNumber,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.store.AppendTurn(ctx, t); err != nil {
		return nil, err
	}
	if m.turnLog != nil {
		_ = m.turnLog.WriteTurn(*t)
	}

	// The turn and the interaction update are separate atomic units. A turn
	// that lands without the counter update is a detectable intermediate
	// state, recovered by the next successful commit.
	in.TurnIDs = append(in.TurnIDs, t.ID)
	in.TotalActionCount++
	in.PendingActionCount++
	if err := m.store.PutInteraction(ctx, in, in.UpdatedAt); err != nil {
		m.log.Printf("record turn %s: interaction update deferred: %v", t.ID, err)
		return t.Clone(), nil
	}
	m.audit(id, owner.ID, "RECORD_TURN", in.UpdatedAt+1, action, map[string]any{
		"round": t.RoundNumber,
		"turn":  t.TurnNumber,
	})
	return t.Clone(), nil
}

// UpdateTurn changes the action/target/distance fields of the active turn.
// Turns from earlier rounds, or of entities no longer holding the pointer,
// are immutable.
func (m *Machine) UpdateTurn(ctx context.Context, turnID string, action string, target *EntityRef, distance int) (*Turn, error) {
	t, err := m.store.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	unlock := m.acquire(t.InteractionID)
	defer unlock()

	in, err := m.get(ctx, t.InteractionID)
	if err != nil {
		return nil, err
	}
	current, ok := in.CurrentEntity()
	if !ok || t.RoundNumber != in.RoundNumber || current != t.Owner {
		return nil, fmt.Errorf("turn %s is no longer active: %w", turnID, ErrInvalidTransition)
	}
	if target != nil {
		if err := m.resolver.ResolveEntity(ctx, target.Kind, target.ID); err != nil {
			return nil, fmt.Errorf("target %s/%s does not resolve: %w", target.Kind, target.ID, ErrUnresolvedReference)
		}
	}

	t.Action = action
	t.Target = cloneRef(target)
	t.DistanceUsed = distance
	if err := m.store.UpdateTurn(ctx, t); err != nil {
		return nil, err
	}
	m.audit(t.InteractionID, t.Owner.ID, "UPDATE_TURN", in.UpdatedAt, action, nil)
	return t.Clone(), nil
}

// DeleteTurn removes a recorded turn. The parent's turn list is unlinked and
// committed before the turn row goes away: if the commit loses a clock race
// the turn is still intact and the delete can simply be retried.
func (m *Machine) DeleteTurn(ctx context.Context, turnID string) error {
	t, err := m.store.GetTurn(ctx, turnID)
	if err != nil {
		return err
	}
	unlock := m.acquire(t.InteractionID)
	defer unlock()

	in, err := m.get(ctx, t.InteractionID)
	if err != nil {
		return err
	}
	kept := in.TurnIDs[:0]
	for _, id := range in.TurnIDs {
		if id != turnID {
			kept = append(kept, id)
		}
	}
	in.TurnIDs = kept
	if err := m.store.PutInteraction(ctx, in, in.UpdatedAt); err != nil {
		return err
	}
	if err := m.store.DeleteTurn(ctx, turnID); err != nil {
		return err
	}
	m.audit(t.InteractionID, t.Owner.ID, "DELETE_TURN", in.UpdatedAt+1, "", nil)
	return nil
}

// ResolveAction marks one pending submission as handled by the game master.
func (m *Machine) ResolveAction(ctx context.Context, id string) (*Interaction, error) {
	unlock := m.acquire(id)
	defer unlock()

	in, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Status.Terminal() {
		return nil, fmt.Errorf("resolve action on %s interaction: %w", in.Status, ErrInvalidTransition)
	}
	if in.PendingActionCount == 0 {
		return nil, fmt.Errorf("no pending actions: %w", ErrInvalidTransition)
	}
	in.PendingActionCount--
	if err := m.store.PutInteraction(ctx, in, in.UpdatedAt); err != nil {
		return nil, err
	}
	m.audit(id, in.DMID, "RESOLVE_ACTION", in.UpdatedAt+1, "", nil)
	return m.get(ctx, id)
}

// Complete finalizes the interaction. A second call fails with
// ErrInvalidTransition and leaves the status unchanged.
func (m *Machine) Complete(ctx context.Context, id string) (*Interaction, error) {
	return m.finalize(ctx, id, StatusCompleted)
}

// Cancel aborts the interaction. Terminal like Complete.
func (m *Machine) Cancel(ctx context.Context, id string) (*Interaction, error) {
	return m.finalize(ctx, id, StatusCancelled)
}

func (m *Machine) finalize(ctx context.Context, id string, terminal Status) (*Interaction, error) {
	unlock := m.acquire(id)
	defer unlock()

	in, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Status.Terminal() {
		return nil, fmt.Errorf("%s is already %s: %w", id, in.Status, ErrInvalidTransition)
	}
	in.Status = terminal
	if err := m.store.PutInteraction(ctx, in, in.UpdatedAt); err != nil {
		return nil, err
	}
	m.audit(id, in.DMID, "FINALIZE", in.UpdatedAt+1, string(terminal), nil)
	return m.get(ctx, id)
}

// Delete removes the interaction and every turn that references it, in that
// dependency order, so no turn ever dangles on a deleted parent.
func (m *Machine) Delete(ctx context.Context, id string) error {
	unlock := m.acquire(id)
	defer unlock()

	in, err := m.get(ctx, id)
	if err != nil {
		return err
	}
	turns, err := m.store.ListTurns(ctx, id)
	if err != nil {
		return err
	}
	for _, t := range turns {
		if err := m.store.DeleteTurn(ctx, t.ID); err != nil {
			return err
		}
	}
	if err := m.store.DeleteInteraction(ctx, id); err != nil {
		return err
	}
	m.audit(id, in.DMID, "DELETE", in.UpdatedAt, "", map[string]any{"turns": len(turns)})
	return nil
}

// Get returns a snapshot of the interaction. Reads are lock-free; the
// snapshot may trail an in-flight mutation.
func (m *Machine) Get(ctx context.Context, id string) (*Interaction, error) {
	return m.get(ctx, id)
}

func (m *Machine) get(ctx context.Context, id string) (*Interaction, error) {
	return m.store.GetInteraction(ctx, id)
}

func (m *Machine) acquire(id string) func() {
	l := m.lockFor(id)
	l.Lock()
	return l.Unlock
}

func (m *Machine) audit(interactionID, actor, op string, clock int64, reason string, details map[string]any) {
	if m.auditLog == nil {
		return
	}
	_ = m.auditLog.WriteAudit(AuditEntry{
		Clock:         clock,
		Actor:         actor,
		Op:            op,
		InteractionID: interactionID,
		Reason:        reason,
		Details:       details,
		At:            time.Now().UTC(),
	})
}

func cloneRef(r *EntityRef) *EntityRef {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}
