// Package output writes the JSONL report of a status pass.
//
// Each line is a typed envelope around one payload: a leaf outcome, a run
// outcome, an error, or the final summary. Lines are self-contained and can
// be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record types follow the pattern flowstatus.<type>.v<version>.
const (
	// TypeLeaf identifies per-leaf reconciliation records.
	TypeLeaf = "flowstatus.leaf.v1"

	// TypeRun identifies per-run records, including skipped runs.
	TypeRun = "flowstatus.run.v1"

	// TypeError identifies error records.
	TypeError = "flowstatus.error.v1"

	// TypeSummary identifies the final pass summary.
	TypeSummary = "flowstatus.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the payload (e.g., "flowstatus.leaf.v1").
	Type string `json:"type"`

	// TS is when the record was written.
	TS time.Time `json:"ts"`

	// PassID correlates all records of one pass.
	PassID string `json:"pass_id"`

	// DryRun is set when the pass did not write to the status store.
	DryRun bool `json:"dry_run,omitempty"`

	Data json.RawMessage `json:"data"`
}

// LeafRecord is the outcome of one (flowcell, lane, sample, project) leaf.
type LeafRecord struct {
	RunID    string `json:"run_id"`
	Flowcell string `json:"flowcell"`
	Lane     string `json:"lane"`
	Sample   string `json:"sample"`
	Project  string `json:"project"`

	// Observed is the status derived from evidence; Status is what the
	// record holds after the pass.
	Observed string `json:"observed"`
	Previous string `json:"previous,omitempty"`
	Status   string `json:"status"`

	// Action is one of created, updated, unchanged, failed.
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// Run outcomes.
const (
	OutcomeReconciled = "reconciled"
	OutcomeSkipped    = "skipped"
)

// Skip reasons for RunRecord.
const (
	SkipNotReady          = "not_ready"
	SkipManifestMissing   = "manifest_missing"
	SkipManifestMalformed = "manifest_malformed"
	SkipLeaseHeld         = "lease_held"
	SkipLeaseFailed       = "lease_failed"
	SkipCollectFailed     = "collect_failed"
)

// RunRecord is the outcome of one run directory.
type RunRecord struct {
	RunID    string `json:"run_id"`
	Brand    string `json:"brand"`
	Dir      string `json:"dir"`
	Status   string `json:"status,omitempty"`
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
	Leaves   int    `json:"leaves"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Failed   int    `json:"failed"`
	Notified int    `json:"notified,omitempty"`

	// Ambiguous lists flowcells mixing failed and non-failed samples.
	Ambiguous []string `json:"ambiguous,omitempty"`
}

// ErrorRecord is an error that did not abort the pass.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code    string `json:"code"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
	Dir     string `json:"dir,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeManifestMissing   = "MANIFEST_MISSING"
	ErrCodeManifestMalformed = "MANIFEST_MALFORMED"
	ErrCodeStoreUnavailable  = "STORE_UNAVAILABLE"
	ErrCodeLease             = "LEASE"
	ErrCodeDiscovery         = "DISCOVERY"
	ErrCodeInternal          = "INTERNAL"
)

// SummaryRecord closes a pass report.
type SummaryRecord struct {
	RunsSeen       int64 `json:"runs_seen"`
	RunsReconciled int64 `json:"runs_reconciled"`
	RunsSkipped    int64 `json:"runs_skipped"`

	LeavesCreated   int64 `json:"leaves_created"`
	LeavesUpdated   int64 `json:"leaves_updated"`
	LeavesUnchanged int64 `json:"leaves_unchanged"`
	LeavesFailed    int64 `json:"leaves_failed"`

	Notifications int64 `json:"notifications"`
	Errors        int64 `json:"errors"`

	// Duration is the wall time in nanoseconds; DurationHuman is its
	// string form.
	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`

	// State is the pass registry state the pass ended in.
	State string `json:"state"`
}

var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
