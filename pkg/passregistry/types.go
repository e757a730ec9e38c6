// Package passregistry records status passes on disk.
//
// Each pass gets <root>/<pass_id>/pass.json, rewritten atomically as the
// pass progresses so that a crashed or concurrent pass is visible to
// operators.
package passregistry

import "time"

// PassState is the lifecycle state of a pass.
//
// NOTE: These values are persisted in pass.json.
type PassState string

const (
	PassStateRunning PassState = "running"
	PassStateSuccess PassState = "success"
	PassStatePartial PassState = "partial"
	PassStateFailed  PassState = "failed"

	// PassStateUnknown marks a pass that claims to be running but whose
	// process is gone.
	PassStateUnknown PassState = "unknown"
)

// Terminal reports whether s is a final state.
func (s PassState) Terminal() bool {
	switch s {
	case PassStateSuccess, PassStatePartial, PassStateFailed, PassStateUnknown:
		return true
	}
	return false
}

// Counts are the pass totals persisted with the record.
type Counts struct {
	RunsSeen        int64 `json:"runs_seen"`
	RunsReconciled  int64 `json:"runs_reconciled"`
	RunsSkipped     int64 `json:"runs_skipped"`
	LeavesCreated   int64 `json:"leaves_created"`
	LeavesUpdated   int64 `json:"leaves_updated"`
	LeavesUnchanged int64 `json:"leaves_unchanged"`
	LeavesFailed    int64 `json:"leaves_failed"`
	Notifications   int64 `json:"notifications"`
	Errors          int64 `json:"errors"`
}

// PassRecord is the persistent record written to pass.json.
type PassRecord struct {
	PassID  string    `json:"pass_id"`
	State   PassState `json:"state"`
	DryRun  bool      `json:"dry_run,omitempty"`
	Backend string    `json:"backend,omitempty"`
	Brands  []string  `json:"brands,omitempty"`
	PID     int       `json:"pid,omitempty"`
	Host    string    `json:"host,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Counts Counts `json:"counts"`

	// Error is set when the pass ended failed.
	Error string `json:"error,omitempty"`

	// ReportPath is the JSONL report written by the pass, if any.
	ReportPath string `json:"report_path,omitempty"`
}
