// Package indexdb maintains a queryable sqlite index of committed turns,
// audit entries and interaction snapshots. It is a secondary index: writes
// are buffered through a single writer goroutine and dropped when the buffer
// is full, since the JSONL logs remain the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"tableturn.gg/internal/encounter"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type reqKind int

const (
	reqTurn reqKind = iota + 1
	reqAudit
	reqInteraction
	reqSync
)

type req struct {
	kind reqKind

	turn        encounter.Turn
	audit       encounter.AuditEntry
	interaction interactionRow
	done        chan struct{}
}

type interactionRow struct {
	ID              string
	Status          string
	Round           int
	InitiativeIndex int
	Clock           int64
	Participants    int
	Turns           int
	Pending         int
	Total           int
	RecordedAt      string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: bursty turn recording must not stall the machine.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			interaction_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			owner_kind TEXT NOT NULL,
			round INTEGER NOT NULL,
			turn_number INTEGER NOT NULL,
			action TEXT,
			distance INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_interaction_round ON turns(interaction_id, round);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_owner ON turns(interaction_id, owner_kind, owner_id);`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			clock INTEGER NOT NULL,
			actor TEXT NOT NULL,
			op TEXT NOT NULL,
			interaction_id TEXT NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_interaction_clock ON audits(interaction_id, clock);`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			round INTEGER NOT NULL,
			initiative_index INTEGER NOT NULL,
			clock INTEGER NOT NULL,
			participants INTEGER NOT NULL,
			turns INTEGER NOT NULL,
			pending_actions INTEGER NOT NULL,
			total_actions INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// send enqueues r unless the index is closed. The read lock covers the send
// itself, so Close can never close the channel under an in-flight sender.
func (s *SQLiteIndex) send(r req, wait bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	if wait {
		s.ch <- r
		return true
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

// WriteTurn implements encounter.TurnLogger over the index.
func (s *SQLiteIndex) WriteTurn(t encounter.Turn) error {
	if s == nil {
		return nil
	}
	// Drop if the indexer falls behind; JSONL logs remain authoritative.
	s.send(req{kind: reqTurn, turn: t}, false)
	return nil
}

// WriteAudit implements encounter.AuditLogger over the index.
func (s *SQLiteIndex) WriteAudit(e encounter.AuditEntry) error {
	if s == nil {
		return nil
	}
	s.send(req{kind: reqAudit, audit: e}, false)
	return nil
}

// RecordInteraction indexes a committed interaction snapshot.
func (s *SQLiteIndex) RecordInteraction(in *encounter.Interaction) {
	if s == nil || in == nil {
		return
	}
	r := interactionRow{
		ID:              in.ID,
		Status:          string(in.Status),
		Round:           in.RoundNumber,
		InitiativeIndex: in.CurrentInitiativeIndex,
		Clock:           in.UpdatedAt,
		Participants:    in.ParticipantCount(),
		Turns:           len(in.TurnIDs),
		Pending:         in.PendingActionCount,
		Total:           in.TotalActionCount,
		RecordedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	s.send(req{kind: reqInteraction, interaction: r}, false)
}

// Flush blocks until every write buffered before the call is committed, or
// returns immediately once the index is closed. Intended for tests and admin
// tooling, not the hot path.
func (s *SQLiteIndex) Flush() {
	if s == nil {
		return
	}
	done := make(chan struct{})
	if !s.send(req{kind: reqSync, done: done}, true) {
		return
	}
	<-done
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTurn, _ := s.db.Prepare(`INSERT OR REPLACE INTO turns(id,interaction_id,owner_id,owner_kind,round,turn_number,action,distance,created_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT INTO audits(clock,actor,op,interaction_id,reason,raw_json,at) VALUES(?,?,?,?,?,?,?)`)
	insertInteraction, _ := s.db.Prepare(`INSERT OR REPLACE INTO interactions(id,status,round,initiative_index,clock,participants,turns,pending_actions,total_actions,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertTurn != nil {
			_ = insertTurn.Close()
		}
		if insertAudit != nil {
			_ = insertAudit.Close()
		}
		if insertInteraction != nil {
			_ = insertInteraction.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
	}

	flushTick := time.NewTicker(250 * time.Millisecond)
	defer flushTick.Stop()

	apply := func(r req) {
		if r.kind == reqSync {
			commit()
			close(r.done)
			return
		}
		begin()
		if tx == nil {
			return
		}
		switch r.kind {
		case reqTurn:
			t := r.turn
			_, _ = tx.Stmt(insertTurn).Exec(
				t.ID, t.InteractionID, t.Owner.ID, string(t.Owner.Kind),
				t.RoundNumber, t.TurnNumber, t.Action, t.DistanceUsed,
				t.CreatedAt.UTC().Format(time.RFC3339Nano),
			)
		case reqAudit:
			e := r.audit
			raw, _ := json.Marshal(e)
			_, _ = tx.Stmt(insertAudit).Exec(
				e.Clock, e.Actor, e.Op, e.InteractionID, e.Reason,
				string(raw), e.At.UTC().Format(time.RFC3339Nano),
			)
		case reqInteraction:
			r := r.interaction
			_, _ = tx.Stmt(insertInteraction).Exec(
				r.ID, r.Status, r.Round, r.InitiativeIndex, r.Clock,
				r.Participants, r.Turns, r.Pending, r.Total, r.RecordedAt,
			)
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) > commitMaxWait {
			commit()
		}
	}

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			apply(r)
		case <-flushTick.C:
			commit()
		}
	}
}

// TurnCountsByKind returns how many turns each entity kind recorded.
func (s *SQLiteIndex) TurnCountsByKind(interactionID string) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT owner_kind, COUNT(*) FROM turns WHERE interaction_id = ? GROUP BY owner_kind`, interactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// InteractionSummary is the indexed view of one interaction.
type InteractionSummary struct {
	ID           string
	Status       string
	Round        int
	Clock        int64
	Participants int
	Turns        int
	Pending      int
	Total        int
}

// Interactions lists the indexed interactions, most recently committed first.
func (s *SQLiteIndex) Interactions() ([]InteractionSummary, error) {
	rows, err := s.db.Query(`SELECT id,status,round,clock,participants,turns,pending_actions,total_actions FROM interactions ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InteractionSummary
	for rows.Next() {
		var r InteractionSummary
		if err := rows.Scan(&r.ID, &r.Status, &r.Round, &r.Clock, &r.Participants, &r.Turns, &r.Pending, &r.Total); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentAudits returns up to limit audit entries, newest first.
func (s *SQLiteIndex) RecentAudits(interactionID string, limit int) ([]encounter.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT raw_json FROM audits WHERE interaction_id = ? ORDER BY seq DESC LIMIT ?`, interactionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []encounter.AuditEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e encounter.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
