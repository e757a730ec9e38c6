// Package statusdb persists sample-run status records.
//
// A record exists per (project, run, lane, sample). Its history is an ordered
// map from timestamp to {actor, status}, newest first, and only ever grows.
// Backends: CouchDB (production), SQLite (embedded), memory (tests and dry
// runs).
package statusdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/flowstatus/pkg/status"
)

// Actors recorded on history entries.
const (
	ActorSystem   = "system"
	ActorOperator = "system/operator"
)

// TimestampLayout is the history key format. Keys sort lexically in time
// order, matching the local-time ISO form written by earlier tooling.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Lane is a lane identifier. Older records store lanes as JSON numbers; they
// decode to the same string.
type Lane string

// UnmarshalJSON accepts both "3" and 3.
func (l *Lane) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = Lane(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("lane: %w", err)
	}
	*l = Lane(n.String())
	return nil
}

// Numeric returns the lane as an int when it is purely numeric.
func (l Lane) Numeric() (int, bool) {
	n, err := strconv.Atoi(string(l))
	return n, err == nil
}

// Key identifies a record.
type Key struct {
	Project string
	RunID   string
	Lane    string
	Sample  string
}

func (k Key) String() string {
	return strings.Join([]string{k.Project, k.RunID, k.Lane, k.Sample}, "/")
}

// Entry is one history entry.
type Entry struct {
	Timestamp string        `json:"-"`
	User      string        `json:"user"`
	Status    status.Status `json:"sample_status"`
}

// History is the ordered status history of a record, newest first.
type History []Entry

// MarshalJSON writes the history as an object keyed by timestamp, in
// descending key order.
func (h History) MarshalJSON() ([]byte, error) {
	sorted := append(History(nil), h...)
	sorted.sort()

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range sorted {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Timestamp)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the timestamp-keyed object form.
func (h *History) UnmarshalJSON(b []byte) error {
	var raw map[string]Entry
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(History, 0, len(raw))
	for ts, e := range raw {
		e.Timestamp = ts
		out = append(out, e)
	}
	out.sort()
	*h = out
	return nil
}

func (h History) sort() {
	sort.SliceStable(h, func(i, j int) bool { return h[i].Timestamp > h[j].Timestamp })
}

func (h History) has(ts string) bool {
	for _, e := range h {
		if e.Timestamp == ts {
			return true
		}
	}
	return false
}

// Latest returns the newest entry.
func (h History) Latest() (Entry, bool) {
	if len(h) == 0 {
		return Entry{}, false
	}
	return h[0], true
}

// Record is a persisted sample-run status document.
type Record struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	RunID          string        `json:"run_id"`
	ProjectID      string        `json:"project_id"`
	Flowcell       string        `json:"flowcell"`
	Lane           Lane          `json:"lane"`
	Sample         string        `json:"sample"`
	Status         status.Status `json:"status"`
	InstrumentType string        `json:"instrument_type"`
	Values         History       `json:"values"`
}

// Key returns the record's lookup key.
func (r *Record) Key() Key {
	return Key{Project: r.ProjectID, RunID: r.RunID, Lane: string(r.Lane), Sample: r.Sample}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Values = append(History(nil), r.Values...)
	return &c
}

// Append adds a history entry and sets the current status. The history is
// never truncated; a timestamp already present is moved forward by a
// microsecond until unique.
func (r *Record) Append(at time.Time, actor string, s status.Status) {
	ts := at.Format(TimestampLayout)
	for r.Values.has(ts) {
		at = at.Add(time.Microsecond)
		ts = at.Format(TimestampLayout)
	}
	r.Values = append(r.Values, Entry{Timestamp: ts, User: actor, Status: s})
	r.Values.sort()
	r.Status = s
}

// NewRecord returns an unsaved record with a single history entry.
func NewRecord(k Key, flowcell, instrumentType string, s status.Status, at time.Time, actor string) *Record {
	r := &Record{
		RunID:          k.RunID,
		ProjectID:      k.Project,
		Flowcell:       flowcell,
		Lane:           Lane(k.Lane),
		Sample:         k.Sample,
		InstrumentType: instrumentType,
	}
	r.Append(at, actor, s)
	return r
}
