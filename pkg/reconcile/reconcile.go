// Package reconcile merges observed run state into the status store.
//
// For every (flowcell, lane, sample, project) leaf of a run, the observed
// status is written as a new record or appended to the existing record's
// history, unless the persisted status is sticky. Leaves are processed in a
// deterministic order, store failures are isolated to the leaf, and a
// flowcell mixing failed and non-failed samples raises one alert per pass.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/3leaps/flowstatus/pkg/evidence"
	"github.com/3leaps/flowstatus/pkg/notify"
	"github.com/3leaps/flowstatus/pkg/status"
	"github.com/3leaps/flowstatus/pkg/statusdb"
	"github.com/3leaps/flowstatus/pkg/statustree"
)

// Action is what a leaf reconciliation did to the store.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionFailed    Action = "failed"
)

// Notifier raises operator alerts.
type Notifier interface {
	Notify(ctx context.Context, flag notify.Flag, info string) (bool, error)
}

// Config configures a Reconciler.
type Config struct {
	// ConflictRetries bounds re-read/re-apply cycles after a revision conflict.
	ConflictRetries int

	Breaker BreakerConfig
}

// LeafResult is the outcome for one leaf.
type LeafResult struct {
	Leaf      statustree.Leaf
	Observed  status.Status
	Effective status.Status
	Previous  status.Status
	Action    Action
	Err       error
}

// RunResult is the outcome for one run.
type RunResult struct {
	RunID     string
	Brand     evidence.Brand
	Observed  status.Status
	Leaves    []LeafResult
	Ambiguous []string
	Notified  int
}

// Count returns the number of leaves with action a.
func (r *RunResult) Count(a Action) int {
	n := 0
	for _, l := range r.Leaves {
		if l.Action == a {
			n++
		}
	}
	return n
}

// Failed reports whether any leaf failed to persist.
func (r *RunResult) Failed() bool {
	return r.Count(ActionFailed) > 0
}

// Reconciler applies merge-on-write rules for observed runs.
//
// Reconciler is not safe for concurrent use; a pass drives it from a single
// goroutine.
type Reconciler struct {
	store    statusdb.Store
	notifier Notifier
	breaker  *gobreaker.CircuitBreaker
	cfg      Config
	now      func() time.Time
	log      *zap.Logger
}

type options struct {
	now func() time.Time
}

// Option configures a Reconciler or Failer.
type Option func(*options)

// WithClock overrides the clock used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns a Reconciler. notifier may be nil.
func New(store statusdb.Store, notifier Notifier, cfg Config, log *zap.Logger, opts ...Option) *Reconciler {
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		notifier: notifier,
		breaker:  newBreaker("statusdb-reconcile", cfg.Breaker),
		cfg:      cfg,
		now:      applyOptions(opts).now,
		log:      log,
	}
}

// Reconcile writes the evidence of one run. ev.Tree must be non-empty.
// Per-leaf store failures are recorded on the result and do not stop the run;
// only context cancellation returns an error.
func (r *Reconciler) Reconcile(ctx context.Context, ev *evidence.Evidence) (*RunResult, error) {
	observed := ev.Status()
	res := &RunResult{RunID: ev.RunID, Brand: ev.Brand, Observed: observed}
	if ev.Tree.Empty() {
		return res, nil
	}

	for _, fcID := range ev.Tree.FlowcellIDs() {
		fc := ev.Tree.Flowcell(fcID)
		for _, leaf := range fc.Leaves() {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			lr := r.reconcileLeaf(ctx, ev, leaf, observed)
			res.Leaves = append(res.Leaves, lr)
			fc.Fold(leaf, lr.Effective)
		}

		if fc.Value.IsAmbiguous() {
			res.Ambiguous = append(res.Ambiguous, fcID)
			r.log.Warn("flowcell has failed and non-failed samples",
				zap.String("run_id", ev.RunID), zap.String("flowcell", fcID))
			if r.notifier != nil {
				sent, err := r.notifier.Notify(ctx, notify.FlagFailedRun, ev.RunID)
				if err != nil {
					r.log.Warn("notification failed", zap.String("run_id", ev.RunID), zap.Error(err))
				}
				if sent {
					res.Notified++
				}
			}
		}
	}
	return res, nil
}

func (r *Reconciler) reconcileLeaf(ctx context.Context, ev *evidence.Evidence, leaf statustree.Leaf, observed status.Status) LeafResult {
	key := statusdb.Key{Project: leaf.Project, RunID: ev.RunID, Lane: leaf.Lane, Sample: leaf.Sample}
	lr := LeafResult{Leaf: leaf, Observed: observed, Effective: observed}
	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.String("project", leaf.Project),
		zap.String("flowcell", leaf.Flowcell),
		zap.String("lane", leaf.Lane),
		zap.String("sample", leaf.Sample),
	}

	for attempt := 0; ; attempt++ {
		retry := attempt < r.cfg.ConflictRetries

		rec, err := guarded(r.breaker, func() (*statusdb.Record, error) { return r.store.Find(ctx, key) })
		if statusdb.IsNotFound(err) {
			rec = statusdb.NewRecord(key, leaf.Flowcell, string(ev.Brand), observed, r.now(), statusdb.ActorSystem)
			_, err = guarded(r.breaker, func() (struct{}, error) { return struct{}{}, r.store.Create(ctx, rec) })
			if statusdb.IsConflict(err) && retry {
				// Created concurrently; re-read and merge.
				continue
			}
			if err != nil {
				return r.leafFailed(lr, err, fields)
			}
			r.log.Info("created record", append(fields, zap.String("status", observed.String()))...)
			lr.Action = ActionCreated
			return lr
		}
		if err != nil {
			return r.leafFailed(lr, err, fields)
		}

		lr.Previous = rec.Status
		if !rec.Status.Mutable() || rec.Status == observed {
			lr.Action = ActionUnchanged
			lr.Effective = rec.Status
			return lr
		}

		rec.Append(r.now(), statusdb.ActorSystem, observed)
		_, err = guarded(r.breaker, func() (struct{}, error) { return struct{}{}, r.store.Update(ctx, rec) })
		if statusdb.IsConflict(err) && retry {
			r.log.Debug("revision conflict, retrying", append(fields, zap.Int("attempt", attempt+1))...)
			continue
		}
		if err != nil {
			return r.leafFailed(lr, err, fields)
		}
		r.log.Info("updated record", append(fields,
			zap.String("from", lr.Previous.String()), zap.String("status", observed.String()))...)
		lr.Action = ActionUpdated
		return lr
	}
}

func (r *Reconciler) leafFailed(lr LeafResult, err error, fields []zap.Field) LeafResult {
	lr.Action = ActionFailed
	lr.Err = err
	lr.Effective = lr.Observed
	r.log.Error("record not persisted", append(fields, zap.Error(err))...)
	return lr
}

// IsStoreUnavailable reports whether err means the store could not be
// reached, including an open breaker.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, statusdb.ErrUnavailable)
}
