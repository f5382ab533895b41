package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSegment(t *testing.T, dataDir, sub, name string) string {
	t.Helper()
	dir := filepath.Join(dataDir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("segment"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestArchiveLogsMovesClosedSegments(t *testing.T) {
	dataDir := t.TempDir()
	old := writeSegment(t, dataDir, "turns", "turns-2026-08-27-09.jsonl.zst")
	writeSegment(t, dataDir, "audit", "audit-2026-08-27-09.jsonl.zst")
	current := writeSegment(t, dataDir, "turns", "turns-2026-08-28-14.jsonl.zst")
	stray := writeSegment(t, dataDir, "turns", "notes.jsonl.zst")

	cutoff := time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC)
	moved, err := ArchiveLogs(dataDir, cutoff)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	want := []string{"audit-2026-08-27-09.jsonl.zst", "turns-2026-08-27-09.jsonl.zst"}
	if len(moved) != len(want) || moved[0] != want[0] || moved[1] != want[1] {
		t.Fatalf("moved=%v want %v", moved, want)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("old segment still in hot dir: %v", err)
	}
	if _, err := os.Stat(current); err != nil {
		t.Fatalf("current-hour segment moved: %v", err)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Fatalf("unparseable file moved: %v", err)
	}

	archiveDir := filepath.Join(dataDir, "archives", "2026-08-28-14")
	for _, name := range want {
		if _, err := os.Stat(filepath.Join(archiveDir, name)); err != nil {
			t.Fatalf("missing archived %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(archiveDir, "meta.json")); err != nil {
		t.Fatalf("missing meta.json: %v", err)
	}
}

func TestArchiveLogsNothingToDo(t *testing.T) {
	dataDir := t.TempDir()
	writeSegment(t, dataDir, "turns", "turns-2026-08-28-14.jsonl.zst")

	moved, err := ArchiveLogs(dataDir, time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if moved != nil {
		t.Fatalf("moved=%v want none", moved)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "archives")); !os.IsNotExist(err) {
		t.Fatalf("archives dir created with nothing to do")
	}
}
