package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"tableturn.gg/internal/encounter"
	"tableturn.gg/internal/persistence/archive"
	"tableturn.gg/internal/persistence/indexdb"
	"tableturn.gg/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "list":
			listCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "stats":
			statsCmd(os.Args[2:])
			return
		case "turns":
			turnsCmd(os.Args[2:])
			return
		case "archive":
			archiveCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func openIndex(dataDir string) *indexdb.SQLiteIndex {
	idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index.db"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	return idx
}

// listCmd prints every interaction the index knows about.
func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	idx := openIndex(*dataDir)
	defer idx.Close()

	rows, err := idx.Interactions()
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		fmt.Printf("%s\t%s\tround=%d\tparticipants=%d\tturns=%d\tactions=%d/%d\tclock=%d\n",
			r.ID, r.Status, r.Round, r.Participants, r.Turns, r.Pending, r.Total, r.Clock)
	}
}

// auditCmd prints the most recent audit entries for one interaction.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	interactionID := fs.String("interaction", "", "interaction id")
	limit := fs.Int("limit", 50, "max entries")
	_ = fs.Parse(args)

	if strings.TrimSpace(*interactionID) == "" {
		fmt.Fprintln(os.Stderr, "missing -interaction")
		os.Exit(2)
	}

	idx := openIndex(*dataDir)
	defer idx.Close()

	entries, err := idx.RecentAudits(*interactionID, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Printf("%s\tclock=%d\t%s\tactor=%s\t%s\n",
			e.At.Format("2006-01-02T15:04:05Z"), e.Clock, e.Op, e.Actor, e.Reason)
	}
}

// statsCmd prints per-kind turn counts for one interaction.
func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	interactionID := fs.String("interaction", "", "interaction id")
	_ = fs.Parse(args)

	if strings.TrimSpace(*interactionID) == "" {
		fmt.Fprintln(os.Stderr, "missing -interaction")
		os.Exit(2)
	}

	idx := openIndex(*dataDir)
	defer idx.Close()

	counts, err := idx.TurnCountsByKind(*interactionID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	kinds := make([]string, 0, len(counts))
	total := 0
	for k, n := range counts {
		kinds = append(kinds, k)
		total += n
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("%s\t%d\n", k, counts[k])
	}
	fmt.Printf("TOTAL\t%d\n", total)
}

// turnsCmd replays the turn JSONL logs, the authoritative append-only record.
func turnsCmd(args []string) {
	fs := flag.NewFlagSet("turns", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	interactionID := fs.String("interaction", "", "interaction id filter (optional)")
	_ = fs.Parse(args)

	turns, err := readTurnLogs(filepath.Join(*dataDir, "turns"), *interactionID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read turns:", err)
		os.Exit(1)
	}
	for _, t := range turns {
		target := "-"
		if t.Target != nil {
			target = fmt.Sprintf("%s/%s", t.Target.Kind, t.Target.ID)
		}
		fmt.Printf("%s\tround=%d turn=%d\t%s/%s -> %s\t%s\n",
			t.InteractionID, t.RoundNumber, t.TurnNumber, t.Owner.Kind, t.Owner.ID, target, t.Action)
	}
}

// archiveCmd moves closed log segments into the archives directory.
func archiveCmd(args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	keepHours := fs.Int("keep_hours", 24, "hours of segments to keep hot")
	_ = fs.Parse(args)

	if *keepHours < 1 {
		*keepHours = 1
	}
	moved, err := archive.ArchiveLogs(*dataDir, time.Now().UTC().Add(-time.Duration(*keepHours)*time.Hour))
	if err != nil {
		fmt.Fprintln(os.Stderr, "archive:", err)
		os.Exit(1)
	}
	if len(moved) == 0 {
		fmt.Println("nothing to archive")
		return
	}
	for _, name := range moved {
		fmt.Println("archived", name)
	}
}

// snapshotCmd prints the header of a state snapshot without loading it.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	path := fs.String("file", "", "snapshot file (default <data>/state/latest.snap.zst)")
	_ = fs.Parse(args)

	if *path == "" {
		*path = filepath.Join(*dataDir, "state", "latest.snap.zst")
	}
	h, err := snapshot.ReadHeader(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("%s\tversion=%d captured=%s interactions=%d turns=%d maps=%d\n",
		*path, h.Version, time.Unix(h.CapturedAtUnix, 0).UTC().Format(time.RFC3339),
		h.Interactions, h.Turns, h.Maps)
}

func readTurnLogs(dir, interactionID string) ([]encounter.Turn, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "turns-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []encounter.Turn
	for _, name := range names {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		sc := bufio.NewScanner(dec)
		sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for sc.Scan() {
			var t encounter.Turn
			if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
				dec.Close()
				_ = f.Close()
				return nil, fmt.Errorf("%s: unmarshal: %w", name, err)
			}
			if interactionID == "" || t.InteractionID == interactionID {
				out = append(out, t)
			}
		}
		dec.Close()
		_ = f.Close()
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", name, err)
		}
	}
	return out, nil
}
