package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	r := Default()
	if r.UnitScale != 5 {
		t.Fatalf("unit_scale=%d", r.UnitScale)
	}
	if r.ReplayRetryMax != 3 {
		t.Fatalf("replay_retry_max=%d", r.ReplayRetryMax)
	}
	if r.AuditLogCap != 1000 {
		t.Fatalf("audit_log_cap=%d", r.AuditLogCap)
	}
}

func TestLoadOverridesAndBackfill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := "unit_scale: 10\noffline_queue_cap: 8\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.UnitScale != 10 {
		t.Fatalf("unit_scale=%d", r.UnitScale)
	}
	if r.OfflineQueueCap != 8 {
		t.Fatalf("offline_queue_cap=%d", r.OfflineQueueCap)
	}
	if r.ReplayRetryMax != 3 {
		t.Fatalf("replay_retry_max not backfilled: %d", r.ReplayRetryMax)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
