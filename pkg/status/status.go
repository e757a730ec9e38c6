// Package status defines the sample-run lifecycle states shared by every
// instrument brand, the rule deciding which persisted states an observation
// may overwrite, and the flowcell-level fold that detects partially failed
// flowcells.
package status

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a sample run.
//
// NOTE: the string values are persisted in the status store and are part of
// the stable on-disk contract. Error is written as "ERROR" for compatibility
// with records created by earlier tooling.
type Status string

const (
	New            Status = "New"
	Sequencing     Status = "Sequencing"
	Demultiplexing Status = "Demultiplexing"
	Transferring   Status = "Transferring"
	Failed         Status = "Failed"
	Ambiguous      Status = "Ambiguous"
	Error          Status = "ERROR"
)

var all = []Status{New, Sequencing, Demultiplexing, Transferring, Failed, Ambiguous, Error}

// Parse converts a persisted or user-supplied token into a Status.
// Matching is case-insensitive so "Error" and "ERROR" both resolve to Error.
func Parse(s string) (Status, error) {
	trimmed := strings.TrimSpace(s)
	for _, st := range all {
		if strings.EqualFold(trimmed, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// String returns the persisted token.
func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	_, err := Parse(string(s))
	return err == nil
}

// IsFailed reports whether s carries failed semantics.
func (s Status) IsFailed() bool {
	return strings.Contains(string(s), string(Failed))
}

// Mutable reports whether a persisted record in state s may be overwritten by
// a new observation. Failed (and anything outside the set) is sticky and only
// changes through an explicit operator action.
func (s Status) Mutable() bool {
	switch s {
	case New, Error, Sequencing, Demultiplexing, Transferring:
		return true
	default:
		return false
	}
}

// UnmarshalJSON normalizes legacy casing on read.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := Parse(raw)
	if err != nil {
		// Unknown tokens are preserved verbatim so they stay non-mutable.
		*s = Status(raw)
		return nil
	}
	*s = st
	return nil
}

// Aggregate is the optional aggregate value carried by a tree node. The zero
// value is "no value yet".
type Aggregate struct {
	value Status
	set   bool
}

// Value returns the aggregate and whether one has been folded in.
func (a Aggregate) Value() (Status, bool) { return a.value, a.set }

// IsAmbiguous reports whether the fold detected a failed/non-failed mix.
func (a Aggregate) IsAmbiguous() bool { return a.set && a.value == Ambiguous }

// Fold folds one sample status into the aggregate.
//
// The first status seeds the aggregate. Afterwards, if exactly one of the
// aggregate and s is failed the aggregate becomes Ambiguous; otherwise it takes
// the value of s. Ambiguous is absorbing: once a flowcell has mixed failed and
// non-failed samples, later samples cannot hide the conflict.
func (a *Aggregate) Fold(s Status) {
	if !a.set {
		a.value = s
		a.set = true
		return
	}
	if a.value == Ambiguous {
		return
	}
	if a.value.IsFailed() != s.IsFailed() {
		a.value = Ambiguous
		return
	}
	a.value = s
}
