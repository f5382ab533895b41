// Package snapshot persists the full coordination state as one compressed
// file: a JSON header line for quick inspection, then a gob payload. Servers
// write a snapshot on shutdown and restore from it on the next start.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"tableturn.gg/internal/encounter"
	"tableturn.gg/internal/grid"
	"tableturn.gg/internal/store"
)

const Version = 1

type Header struct {
	Version        int   `json:"version"`
	CapturedAtUnix int64 `json:"captured_at_unix"`
	Interactions   int   `json:"interactions"`
	Turns          int   `json:"turns"`
	Maps           int   `json:"maps"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Entities     []EntityV1      `json:"entities"`
	Interactions []InteractionV1 `json:"interactions"`
	Turns        []TurnV1        `json:"turns"`
	Maps         []MapInstanceV1 `json:"maps"`
}

type EntityV1 struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type EntityRefV1 struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type InitiativeEntryV1 struct {
	Entity EntityRefV1 `json:"entity"`
	Roll   int         `json:"roll"`
}

type InteractionV1 struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	DMID string `json:"dm_id"`

	Status          string              `json:"status"`
	InitiativeOrder []InitiativeEntryV1 `json:"initiative_order"`
	CurrentIndex    int                 `json:"current_index"`
	Round           int                 `json:"round"`

	TurnIDs []string `json:"turn_ids"`

	PlayerCharacterIDs []string `json:"player_character_ids"`
	NPCIDs             []string `json:"npc_ids"`
	MonsterIDs         []string `json:"monster_ids"`

	TotalActions   int `json:"total_actions"`
	PendingActions int `json:"pending_actions"`

	Clock         int64 `json:"clock"`
	CreatedAtUnix int64 `json:"created_at_unix"`
}

type TurnV1 struct {
	ID            string       `json:"id"`
	InteractionID string       `json:"interaction_id"`
	Owner         EntityRefV1  `json:"owner"`
	Target        *EntityRefV1 `json:"target,omitempty"`
	Action        string       `json:"action"`
	DistanceUsed  int          `json:"distance_used"`
	TurnNumber    int          `json:"turn_number"`
	RoundNumber   int          `json:"round_number"`
	CreatedAtUnix int64        `json:"created_at_unix"`
}

type PositionV1 struct {
	Entity EntityRefV1 `json:"entity"`
	X      int         `json:"x"`
	Y      int         `json:"y"`
	Speed  int         `json:"speed"`
	Label  string      `json:"label,omitempty"`
	Color  string      `json:"color,omitempty"`
}

type MoveRecordV1 struct {
	Entity   EntityRefV1 `json:"entity"`
	FromX    int         `json:"from_x"`
	FromY    int         `json:"from_y"`
	ToX      int         `json:"to_x"`
	ToY      int         `json:"to_y"`
	Distance int         `json:"distance"`
	AtUnix   int64       `json:"at_unix"`
}

type MapInstanceV1 struct {
	ID        string         `json:"id"`
	MapID     string         `json:"map_id"`
	Positions []PositionV1   `json:"positions"`
	History   []MoveRecordV1 `json:"history"`
	Clock     int64          `json:"clock"`
}

// Capture converts the store's current contents into a snapshot.
func Capture(mem *store.Memory) SnapshotV1 {
	ex := mem.Export()

	snap := SnapshotV1{
		Header: Header{
			Version:        Version,
			CapturedAtUnix: time.Now().UTC().Unix(),
			Interactions:   len(ex.Interactions),
			Turns:          len(ex.Turns),
			Maps:           len(ex.Maps),
		},
	}
	for kind, ids := range ex.Entities {
		for _, id := range ids {
			snap.Entities = append(snap.Entities, EntityV1{Kind: string(kind), ID: id})
		}
	}
	for _, in := range ex.Interactions {
		snap.Interactions = append(snap.Interactions, interactionV1(in))
	}
	for _, t := range ex.Turns {
		snap.Turns = append(snap.Turns, turnV1(t))
	}
	for _, mi := range ex.Maps {
		snap.Maps = append(snap.Maps, mapInstanceV1(mi))
	}
	return snap
}

// Restore replaces the store's contents with the snapshot's.
func Restore(mem *store.Memory, snap SnapshotV1) error {
	if snap.Header.Version != Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}

	ex := store.Export{Entities: make(map[encounter.EntityKind][]string)}
	for _, e := range snap.Entities {
		kind := encounter.EntityKind(e.Kind)
		if !kind.Valid() {
			return fmt.Errorf("snapshot entity %s: unknown kind %q", e.ID, e.Kind)
		}
		ex.Entities[kind] = append(ex.Entities[kind], e.ID)
	}
	for i := range snap.Interactions {
		ex.Interactions = append(ex.Interactions, fromInteractionV1(snap.Interactions[i]))
	}
	for i := range snap.Turns {
		ex.Turns = append(ex.Turns, fromTurnV1(snap.Turns[i]))
	}
	for i := range snap.Maps {
		ex.Maps = append(ex.Maps, fromMapInstanceV1(snap.Maps[i]))
	}
	mem.Import(ex)
	return nil
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is for external tooling; the gob payload carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes just the JSON header line, without the gob payload.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReaderSize(dec, 64*1024).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	return h, nil
}

func refV1(r encounter.EntityRef) EntityRefV1 {
	return EntityRefV1{Kind: string(r.Kind), ID: r.ID}
}

func fromRefV1(r EntityRefV1) encounter.EntityRef {
	return encounter.EntityRef{Kind: encounter.EntityKind(r.Kind), ID: r.ID}
}

func interactionV1(in *encounter.Interaction) InteractionV1 {
	out := InteractionV1{
		ID:                 in.ID,
		Name:               in.Name,
		DMID:               in.DMID,
		Status:             string(in.Status),
		CurrentIndex:       in.CurrentInitiativeIndex,
		Round:              in.RoundNumber,
		TurnIDs:            in.TurnIDs,
		PlayerCharacterIDs: in.PlayerCharacterIDs,
		NPCIDs:             in.NPCIDs,
		MonsterIDs:         in.MonsterIDs,
		TotalActions:       in.TotalActionCount,
		PendingActions:     in.PendingActionCount,
		Clock:              in.UpdatedAt,
		CreatedAtUnix:      in.CreatedAt.Unix(),
	}
	for _, e := range in.InitiativeOrder {
		out.InitiativeOrder = append(out.InitiativeOrder, InitiativeEntryV1{Entity: refV1(e.Entity), Roll: e.Roll})
	}
	return out
}

func fromInteractionV1(v InteractionV1) *encounter.Interaction {
	in := &encounter.Interaction{
		ID:                     v.ID,
		Name:                   v.Name,
		DMID:                   v.DMID,
		Status:                 encounter.Status(v.Status),
		CurrentInitiativeIndex: v.CurrentIndex,
		RoundNumber:            v.Round,
		TurnIDs:                v.TurnIDs,
		PlayerCharacterIDs:     v.PlayerCharacterIDs,
		NPCIDs:                 v.NPCIDs,
		MonsterIDs:             v.MonsterIDs,
		TotalActionCount:       v.TotalActions,
		PendingActionCount:     v.PendingActions,
		UpdatedAt:              v.Clock,
		CreatedAt:              time.Unix(v.CreatedAtUnix, 0).UTC(),
	}
	for _, e := range v.InitiativeOrder {
		in.InitiativeOrder = append(in.InitiativeOrder, encounter.InitiativeEntry{Entity: fromRefV1(e.Entity), Roll: e.Roll})
	}
	return in
}

func turnV1(t *encounter.Turn) TurnV1 {
	out := TurnV1{
		ID:            t.ID,
		InteractionID: t.InteractionID,
		Owner:         refV1(t.Owner),
		Action:        t.Action,
		DistanceUsed:  t.DistanceUsed,
		TurnNumber:    t.TurnNumber,
		RoundNumber:   t.RoundNumber,
		CreatedAtUnix: t.CreatedAt.Unix(),
	}
	if t.Target != nil {
		ref := refV1(*t.Target)
		out.Target = &ref
	}
	return out
}

func fromTurnV1(v TurnV1) *encounter.Turn {
	t := &encounter.Turn{
		ID:            v.ID,
		InteractionID: v.InteractionID,
		Owner:         fromRefV1(v.Owner),
		Action:        v.Action,
		DistanceUsed:  v.DistanceUsed,
		TurnNumber:    v.TurnNumber,
		RoundNumber:   v.RoundNumber,
		CreatedAt:     time.Unix(v.CreatedAtUnix, 0).UTC(),
	}
	if v.Target != nil {
		ref := fromRefV1(*v.Target)
		t.Target = &ref
	}
	return t
}

func mapInstanceV1(mi *grid.MapInstance) MapInstanceV1 {
	out := MapInstanceV1{ID: mi.ID, MapID: mi.MapID, Clock: mi.UpdatedAt}
	for _, p := range mi.Positions {
		out.Positions = append(out.Positions, PositionV1{
			Entity: refV1(p.Entity),
			X:      p.X, Y: p.Y,
			Speed: p.Speed,
			Label: p.Label,
			Color: p.Color,
		})
	}
	for _, rec := range mi.History {
		out.History = append(out.History, MoveRecordV1{
			Entity: refV1(rec.Entity),
			FromX:  rec.FromX, FromY: rec.FromY,
			ToX: rec.ToX, ToY: rec.ToY,
			Distance: rec.Distance,
			AtUnix:   rec.At.Unix(),
		})
	}
	return out
}

func fromMapInstanceV1(v MapInstanceV1) *grid.MapInstance {
	mi := &grid.MapInstance{
		ID:        v.ID,
		MapID:     v.MapID,
		Positions: make(map[string]grid.Position, len(v.Positions)),
		UpdatedAt: v.Clock,
	}
	for _, p := range v.Positions {
		mi.Positions[p.Entity.ID] = grid.Position{
			Entity: fromRefV1(p.Entity),
			X:      p.X, Y: p.Y,
			Speed: p.Speed,
			Label: p.Label,
			Color: p.Color,
		}
	}
	for _, rec := range v.History {
		mi.History = append(mi.History, grid.MoveRecord{
			Entity: fromRefV1(rec.Entity),
			FromX:  rec.FromX, FromY: rec.FromY,
			ToX: rec.ToX, ToY: rec.ToY,
			Distance: rec.Distance,
			At:       time.Unix(rec.AtUnix, 0).UTC(),
		})
	}
	return mi
}
