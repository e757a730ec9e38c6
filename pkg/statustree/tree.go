// Package statustree builds the per-pass view of the observed world: which
// project samples sit on which lane of which flowcell.
//
// The tree is built fresh for every run in every pass and is never persisted.
// Each level carries an optional aggregate status the reconciler folds into.
package statustree

import (
	"sort"
	"strings"

	"github.com/3leaps/flowstatus/pkg/status"
)

// Row is one manifest entry after brand-specific parsing.
type Row struct {
	Lane    string
	Sample  string
	Project string
}

// Leaf addresses a single (flowcell, lane, sample, project) tuple.
type Leaf struct {
	Flowcell string
	Lane     string
	Sample   string
	Project  string
}

// Tree is the root: flowcell id -> FlowcellNode.
type Tree struct {
	Flowcells map[string]*FlowcellNode
}

// FlowcellNode holds the lanes of one flowcell and the flowcell aggregate.
type FlowcellNode struct {
	ID    string
	Lanes map[string]*LaneNode
	Value status.Aggregate
}

// LaneNode holds the samples loaded on one lane.
type LaneNode struct {
	ID      string
	Samples map[string]*SampleNode
	Value   status.Aggregate
}

// SampleNode holds the projects a sample id is attributed to. A sample id may
// legitimately belong to more than one project.
type SampleNode struct {
	ID       string
	Projects map[string]struct{}
	Value    status.Aggregate
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{Flowcells: map[string]*FlowcellNode{}}
}

// Build aggregates manifest rows for a flowcell into a tree. Rows without a
// lane, sample or project are dropped, as are phiX control samples.
func Build(flowcell string, rows []Row) *Tree {
	t := New()
	for _, r := range rows {
		t.Add(flowcell, r.Lane, r.Sample, r.Project)
	}
	return t
}

// ProjectOf derives the project id from a sample id (text before the first
// underscore).
func ProjectOf(sample string) string {
	head, _, _ := strings.Cut(strings.TrimSpace(sample), "_")
	return head
}

// IsControl reports whether sample is a phiX spike-in.
func IsControl(sample string) bool {
	return strings.Contains(strings.ToLower(sample), "phix")
}

// Add inserts a leaf, creating intermediate nodes explicitly. It reports
// whether the leaf was accepted.
func (t *Tree) Add(flowcell, lane, sample, project string) bool {
	flowcell = strings.TrimSpace(flowcell)
	lane = strings.TrimSpace(lane)
	sample = strings.TrimSpace(sample)
	project = strings.TrimSpace(project)
	if flowcell == "" || lane == "" || sample == "" || project == "" {
		return false
	}
	if IsControl(sample) {
		return false
	}

	fc, ok := t.Flowcells[flowcell]
	if !ok {
		fc = &FlowcellNode{ID: flowcell, Lanes: map[string]*LaneNode{}}
		t.Flowcells[flowcell] = fc
	}
	ln, ok := fc.Lanes[lane]
	if !ok {
		ln = &LaneNode{ID: lane, Samples: map[string]*SampleNode{}}
		fc.Lanes[lane] = ln
	}
	sn, ok := ln.Samples[sample]
	if !ok {
		sn = &SampleNode{ID: sample, Projects: map[string]struct{}{}}
		ln.Samples[sample] = sn
	}
	sn.Projects[project] = struct{}{}
	return true
}

// Empty reports whether no leaf was accepted.
func (t *Tree) Empty() bool {
	return t == nil || len(t.Flowcells) == 0
}

// FlowcellIDs returns the flowcell ids in sorted order.
func (t *Tree) FlowcellIDs() []string {
	return sortedKeys(t.Flowcells)
}

// Flowcell returns the node for id, or nil.
func (t *Tree) Flowcell(id string) *FlowcellNode {
	return t.Flowcells[id]
}

// Leaves returns every leaf of the tree in deterministic order.
func (t *Tree) Leaves() []Leaf {
	var out []Leaf
	for _, id := range t.FlowcellIDs() {
		out = append(out, t.Flowcells[id].Leaves()...)
	}
	return out
}

// Leaves returns every leaf under the flowcell, ordered by lane, sample and
// project.
func (f *FlowcellNode) Leaves() []Leaf {
	var out []Leaf
	for _, laneID := range sortedKeys(f.Lanes) {
		lane := f.Lanes[laneID]
		for _, sampleID := range sortedKeys(lane.Samples) {
			sample := lane.Samples[sampleID]
			for _, project := range sortedKeys(sample.Projects) {
				out = append(out, Leaf{Flowcell: f.ID, Lane: laneID, Sample: sampleID, Project: project})
			}
		}
	}
	return out
}

// Fold folds a leaf's status into the sample, lane and flowcell aggregates.
func (f *FlowcellNode) Fold(leaf Leaf, s status.Status) {
	lane, ok := f.Lanes[leaf.Lane]
	if !ok {
		return
	}
	if sample, ok := lane.Samples[leaf.Sample]; ok {
		sample.Value.Fold(s)
	}
	lane.Value.Fold(s)
	f.Value.Fold(s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
