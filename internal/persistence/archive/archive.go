// Package archive moves closed turn and audit log segments out of the hot
// data directory. Segments are hourly files named <prefix>-YYYY-MM-DD-HH
// with a .jsonl.zst suffix; anything stamped before the cutoff gets moved
// under archives/ together with a meta.json describing the run.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const hourStamp = "2006-01-02-15"

type Meta struct {
	CreatedAt string   `json:"created_at"`
	Cutoff    string   `json:"cutoff"`
	Files     []string `json:"files"`
}

// ArchiveLogs moves every closed log segment stamped before the cutoff into
// dataDir/archives/<cutoff-hour>/. It returns the moved file names. The
// segment for the cutoff hour itself is never moved, so a cutoff of
// now minus N hours always leaves the file the writers still append to.
func ArchiveLogs(dataDir string, before time.Time) ([]string, error) {
	cutoff := before.UTC().Truncate(time.Hour)

	var candidates []string
	for _, sub := range []string{"turns", "audit"} {
		matches, err := filepath.Glob(filepath.Join(dataDir, sub, "*.jsonl.zst"))
		if err != nil {
			return nil, err
		}
		for _, path := range matches {
			stamp, ok := segmentHour(filepath.Base(path))
			if !ok {
				continue
			}
			if stamp.Before(cutoff) {
				candidates = append(candidates, path)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Strings(candidates)

	archiveDir := filepath.Join(dataDir, "archives", cutoff.Format(hourStamp))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, err
	}

	moved := make([]string, 0, len(candidates))
	for _, src := range candidates {
		dst := filepath.Join(archiveDir, filepath.Base(src))
		if err := os.Rename(src, dst); err != nil {
			return moved, fmt.Errorf("archive %s: %w", filepath.Base(src), err)
		}
		moved = append(moved, filepath.Base(src))
	}

	meta := Meta{
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Cutoff:    cutoff.Format(hourStamp),
		Files:     moved,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return moved, nil
}

// segmentHour parses the hour stamp out of a segment file name like
// turns-2026-08-28-14.jsonl.zst.
func segmentHour(name string) (time.Time, bool) {
	name = strings.TrimSuffix(name, ".jsonl.zst")
	i := strings.IndexByte(name, '-')
	if i < 0 {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(hourStamp, name[i+1:], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
