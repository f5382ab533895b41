// Package rules loads the server tunables from rules.yaml.
package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Rules struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// UnitScale is the distance cost of one grid cell.
	UnitScale int `yaml:"unit_scale"`

	ReplayRetryMax  int `yaml:"replay_retry_max"`
	AuditLogCap     int `yaml:"audit_log_cap"`
	OfflineQueueCap int `yaml:"offline_queue_cap"`

	// MaxClientQueue bounds a connection's outbound snapshot buffer.
	MaxClientQueue int `yaml:"max_client_queue"`

	// SessionResumeWindowS is how long a parked session survives a
	// disconnect before the server forgets it.
	SessionResumeWindowS int `yaml:"session_resume_window_s"`
}

func Default() Rules {
	return Rules{
		ProtocolVersion:      "1.0",
		UnitScale:            5,
		ReplayRetryMax:       3,
		AuditLogCap:          1000,
		OfflineQueueCap:      64,
		MaxClientQueue:       64,
		SessionResumeWindowS: 300,
	}
}

// Load reads rules.yaml, filling unset fields from the defaults.
func Load(path string) (Rules, error) {
	r := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("rules.yaml: %w", err)
	}
	if r.UnitScale <= 0 {
		r.UnitScale = Default().UnitScale
	}
	if r.ReplayRetryMax <= 0 {
		r.ReplayRetryMax = Default().ReplayRetryMax
	}
	if r.AuditLogCap <= 0 {
		r.AuditLogCap = Default().AuditLogCap
	}
	if r.OfflineQueueCap <= 0 {
		r.OfflineQueueCap = Default().OfflineQueueCap
	}
	if r.MaxClientQueue <= 0 {
		r.MaxClientQueue = Default().MaxClientQueue
	}
	if r.SessionResumeWindowS <= 0 {
		r.SessionResumeWindowS = Default().SessionResumeWindowS
	}
	return r, nil
}
