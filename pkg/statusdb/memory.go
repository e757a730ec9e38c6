package statusdb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const backendMemory = "memory"

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store, optionally seeded with records.
// Seed records without an ID or Rev get fresh ones.
func NewMemoryStore(seed ...*Record) *MemoryStore {
	m := &MemoryStore{records: map[string]*Record{}}
	for _, r := range seed {
		c := r.Clone()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Rev == "" {
			c.Rev = nextRev("")
		}
		m.records[c.ID] = c
	}
	return m
}

func (m *MemoryStore) Find(_ context.Context, k Key) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.Key() == k {
			return r.Clone(), nil
		}
	}
	return nil, &StoreError{Op: "find", Backend: backendMemory, Key: k.String(), Err: ErrNotFound}
}

func (m *MemoryStore) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, ok := m.records[r.ID]; ok {
		return &StoreError{Op: "create", Backend: backendMemory, Key: r.ID, Err: ErrConflict}
	}
	r.Rev = nextRev("")
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Update(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[r.ID]
	if !ok {
		return &StoreError{Op: "update", Backend: backendMemory, Key: r.ID, Err: ErrNotFound}
	}
	if cur.Rev != r.Rev {
		return &StoreError{Op: "update", Backend: backendMemory, Key: r.ID, Err: ErrConflict}
	}
	r.Rev = nextRev(r.Rev)
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) ListByRun(_ context.Context, runID, project string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for _, r := range m.records {
		if r.RunID != runID {
			continue
		}
		if project != "" && r.ProjectID != project {
			continue
		}
		out = append(out, r.Clone())
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[id]
	return ok
}

func (m *MemoryStore) put(r *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r.Clone()
}

// Len returns the number of records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// nextRev returns a CouchDB-style "<generation>-<token>" revision.
func nextRev(prev string) string {
	gen := 0
	if head, _, ok := strings.Cut(prev, "-"); ok {
		gen, _ = strconv.Atoi(head)
	}
	return fmt.Sprintf("%d-%s", gen+1, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func sortRecords(rs []*Record) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		if a.Lane != b.Lane {
			return a.Lane < b.Lane
		}
		return a.Sample < b.Sample
	})
}
