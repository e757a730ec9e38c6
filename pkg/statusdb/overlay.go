package statusdb

import (
	"context"
)

// Overlay reads through to a base store and keeps every write in memory.
// It backs dry runs: the pass sees its own writes, the base is never touched.
type Overlay struct {
	base Store
	mem  *MemoryStore
}

var _ Store = (*Overlay)(nil)

// NewOverlay wraps base.
func NewOverlay(base Store) *Overlay {
	return &Overlay{base: base, mem: NewMemoryStore()}
}

func (o *Overlay) Find(ctx context.Context, k Key) (*Record, error) {
	if r, err := o.mem.Find(ctx, k); err == nil {
		return r, nil
	}
	return o.base.Find(ctx, k)
}

func (o *Overlay) Create(ctx context.Context, r *Record) error {
	return o.mem.Create(ctx, r)
}

// Update shadows a base record on its first write.
func (o *Overlay) Update(ctx context.Context, r *Record) error {
	if o.mem.has(r.ID) {
		return o.mem.Update(ctx, r)
	}
	r.Rev = nextRev(r.Rev)
	o.mem.put(r)
	return nil
}

func (o *Overlay) ListByRun(ctx context.Context, runID, project string) ([]*Record, error) {
	base, err := o.base.ListByRun(ctx, runID, project)
	if err != nil {
		return nil, err
	}
	shadow, err := o.mem.ListByRun(ctx, runID, project)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Record, len(base)+len(shadow))
	for _, r := range base {
		byID[r.ID] = r
	}
	for _, r := range shadow {
		byID[r.ID] = r
	}
	out := make([]*Record, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func (o *Overlay) Ping(ctx context.Context) error { return o.base.Ping(ctx) }

// Close does not close the base store.
func (o *Overlay) Close() error { return nil }

// Writes returns the records written during the overlay's lifetime.
func (o *Overlay) Writes() int { return o.mem.Len() }
