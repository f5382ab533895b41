package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tableturn.gg/internal/encounter"
	"tableturn.gg/internal/grid"
	"tableturn.gg/internal/persistence/indexdb"
	persistlog "tableturn.gg/internal/persistence/log"
	"tableturn.gg/internal/persistence/snapshot"
	"tableturn.gg/internal/platform/config"
	"tableturn.gg/internal/rules"
	"tableturn.gg/internal/store"
	"tableturn.gg/internal/transport/ws"
)

type envOverrides struct {
	Addr       string `env:"TT_ADDR"`
	DataDir    string `env:"TT_DATA_DIR"`
	RulesPath  string `env:"TT_RULES"`
	RosterPath string `env:"TT_ROSTER"`
	DisableDB  bool   `env:"TT_DISABLE_DB"`
}

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		rulesPath  = flag.String("rules", "./configs/rules.yaml", "path to rules.yaml")
		rosterPath = flag.String("roster", "./configs/roster.yaml", "path to the entity roster")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	var env envOverrides
	if err := config.ParseEnv(&env); err != nil {
		logger.Fatalf("env: %v", err)
	}
	if env.Addr != "" {
		*addr = env.Addr
	}
	if env.DataDir != "" {
		*dataDir = env.DataDir
	}
	if env.RulesPath != "" {
		*rulesPath = env.RulesPath
	}
	if env.RosterPath != "" {
		*rosterPath = env.RosterPath
	}
	if env.DisableDB {
		*disableDB = true
	}

	r, err := rules.Load(*rulesPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("rules not found (%s); using defaults", *rulesPath)
			r = rules.Default()
		} else {
			logger.Fatalf("load rules: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	turnLog := persistlog.NewTurnLogger(*dataDir)
	defer turnLog.Close()
	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer auditLog.Close()

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	mem := store.NewMemory(logger)

	snapPath := filepath.Join(*dataDir, "state", "latest.snap.zst")
	if snap, err := snapshot.ReadSnapshot(snapPath); err == nil {
		if err := snapshot.Restore(mem, snap); err != nil {
			logger.Fatalf("restore snapshot: %v", err)
		}
		logger.Printf("restored snapshot (interactions=%d turns=%d maps=%d captured=%s)",
			snap.Header.Interactions, snap.Header.Turns, snap.Header.Maps,
			time.Unix(snap.Header.CapturedAtUnix, 0).UTC().Format(time.RFC3339))
	} else if !os.IsNotExist(err) {
		logger.Fatalf("read snapshot: %v", err)
	}

	roster, err := store.LoadRoster(*rosterPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("roster not found (%s); only snapshot entities resolve", *rosterPath)
		} else {
			logger.Fatalf("load roster: %v", err)
		}
	} else {
		mem.RegisterRoster(roster)
	}

	machine := encounter.NewMachine(encounter.MachineConfig{
		Store:       indexedStore(mem, idx),
		Resolver:    mem,
		Logger:      logger,
		TurnLogger:  turnSinks(turnLog, idx),
		AuditLogger: auditSinks(auditLog, idx),
	})
	engine := grid.NewEngine(mem, r.UnitScale, logger)
	server := ws.NewServer(machine, engine, mem, r, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", server.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s (unit_scale=%d resume_window=%ds)",
			*addr, r.UnitScale, r.SessionResumeWindowS)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Printf("signal %s; shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	if err := snapshot.WriteSnapshot(snapPath, snapshot.Capture(mem)); err != nil {
		logger.Printf("write snapshot: %v", err)
	} else {
		logger.Printf("state snapshot written to %s", snapPath)
	}
	if idx != nil {
		idx.Flush()
	}
}

// indexedStore mirrors every committed interaction into the sqlite read
// model. The in-memory store stays authoritative; index writes are
// fire-and-forget.
func indexedStore(mem *store.Memory, idx *indexdb.SQLiteIndex) encounter.Store {
	if idx == nil {
		return mem
	}
	return &indexingStore{Memory: mem, idx: idx}
}

type indexingStore struct {
	*store.Memory
	idx *indexdb.SQLiteIndex
}

func (s *indexingStore) PutInteraction(ctx context.Context, in *encounter.Interaction, expected int64) error {
	if err := s.Memory.PutInteraction(ctx, in, expected); err != nil {
		return err
	}
	if snap, err := s.Memory.GetInteraction(ctx, in.ID); err == nil {
		s.idx.RecordInteraction(snap)
	}
	return nil
}

func turnSinks(jsonl *persistlog.TurnLogger, idx *indexdb.SQLiteIndex) encounter.TurnLogger {
	if idx == nil {
		return jsonl
	}
	return multiTurnLogger{jsonl, idx}
}

type multiTurnLogger []encounter.TurnLogger

func (m multiTurnLogger) WriteTurn(t encounter.Turn) error {
	var first error
	for _, l := range m {
		if err := l.WriteTurn(t); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func auditSinks(jsonl *persistlog.AuditLogger, idx *indexdb.SQLiteIndex) encounter.AuditLogger {
	if idx == nil {
		return jsonl
	}
	return multiAuditLogger{jsonl, idx}
}

type multiAuditLogger []encounter.AuditLogger

func (m multiAuditLogger) WriteAudit(e encounter.AuditEntry) error {
	var first error
	for _, l := range m {
		if err := l.WriteAudit(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
