// Package pass runs one status pass over all configured data roots.
//
// A pass has two stages:
//   - Discovery: each brand's roots are listed concurrently
//   - Reconcile: runs are collected and reconciled one at a time
//
// A bounded channel between the stages provides backpressure. The reconcile
// stage is a single consumer, so at most one run is written at a time within
// a pass; overlapping passes are kept apart by per-run leases.
package pass

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/flowstatus/pkg/evidence"
	"github.com/3leaps/flowstatus/pkg/lease"
	"github.com/3leaps/flowstatus/pkg/notify"
	"github.com/3leaps/flowstatus/pkg/output"
	"github.com/3leaps/flowstatus/pkg/passregistry"
	"github.com/3leaps/flowstatus/pkg/reconcile"
)

// Config configures a pass.
type Config struct {
	// Brands to discover, in order. Default: all brands.
	Brands []evidence.Brand

	// Concurrency bounds brand discovery goroutines. Default: 3
	Concurrency int

	// ChannelBuffer is the size of the discovery channel. Default: 64
	ChannelBuffer int

	// DryRun is recorded on the pass record and report envelopes. The caller
	// is responsible for handing in a non-writing store and notifier.
	DryRun bool

	// Backend names the status store backend, for the pass record.
	Backend string

	// ReportPath is recorded on the pass record when a report is written.
	ReportPath string
}

// DefaultConfig returns the default pass configuration.
func DefaultConfig() Config {
	return Config{
		Brands:        evidence.Brands,
		Concurrency:   3,
		ChannelBuffer: 64,
	}
}

// Discoverer lists the runs of a brand.
type Discoverer interface {
	Discover(ctx context.Context, brand evidence.Brand) ([]evidence.Run, error)
}

// Reconciler writes the evidence of one run.
type Reconciler interface {
	Reconcile(ctx context.Context, ev *evidence.Evidence) (*reconcile.RunResult, error)
}

// Recorder receives pass events for metrics.
type Recorder interface {
	RunSeen(brand string)
	RunSkipped(brand, reason string)
	Leaf(action string)
	Notification(flag string, sent bool)
	FlowcellAmbiguous()
}

// Deps are the collaborators of a Runner. Discoverer and Reconciler are
// required; the rest default to no-ops.
type Deps struct {
	Discoverer Discoverer
	Reconciler Reconciler
	Notifier   reconcile.Notifier
	Locker     lease.Locker
	Writer     output.Writer
	Registry   *passregistry.Store
	Recorder   Recorder
}

// Summary contains aggregate statistics from a completed pass.
type Summary struct {
	PassID string
	State  passregistry.PassState
	Counts passregistry.Counts

	Duration time.Duration
	Brands   []string
}

// Runner executes one pass.
//
// Runner is safe for single use only. Create a new Runner for each pass.
type Runner struct {
	deps   Deps
	cfg    Config
	passID string
	now    func() time.Time
	log    *zap.Logger

	runsSeen        atomic.Int64
	runsReconciled  atomic.Int64
	runsSkipped     atomic.Int64
	leavesCreated   atomic.Int64
	leavesUpdated   atomic.Int64
	leavesUnchanged atomic.Int64
	leavesFailed    atomic.Int64
	notifications   atomic.Int64
	errorCount      atomic.Int64
}

// Option configures a Runner.
type Option func(*Runner)

// WithPassID sets the pass id instead of generating one.
func WithPassID(id string) Option {
	return func(r *Runner) { r.passID = id }
}

// WithClock overrides the clock used for pass timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New returns a Runner.
func New(deps Deps, cfg Config, log *zap.Logger, opts ...Option) (*Runner, error) {
	if deps.Discoverer == nil || deps.Reconciler == nil {
		return nil, errors.New("pass: discoverer and reconciler are required")
	}
	def := DefaultConfig()
	if len(cfg.Brands) == 0 {
		cfg.Brands = def.Brands
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = def.ChannelBuffer
	}
	if deps.Locker == nil {
		deps.Locker = lease.Nop{}
	}
	if deps.Writer == nil {
		deps.Writer = output.Discard{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	r := &Runner{deps: deps, cfg: cfg, now: time.Now, log: log}
	for _, opt := range opts {
		opt(r)
	}
	if r.passID == "" {
		r.passID = uuid.NewString()
	}
	r.log = r.log.With(zap.String("pass_id", r.passID))
	return r, nil
}

// PassID returns the id of this pass.
func (r *Runner) PassID() string {
	return r.passID
}

// Run executes the pass and returns its summary.
//
// Per-run and per-leaf problems are reported and counted; the pass ends
// partial. Run returns an error only when the context is cancelled or the
// pass record cannot be written, and the summary is still returned.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	started := r.now()
	brands := make([]string, 0, len(r.cfg.Brands))
	for _, b := range r.cfg.Brands {
		brands = append(brands, string(b))
	}

	host, _ := os.Hostname()
	rec := &passregistry.PassRecord{
		PassID:     r.passID,
		State:      passregistry.PassStateRunning,
		DryRun:     r.cfg.DryRun,
		Backend:    r.cfg.Backend,
		Brands:     brands,
		PID:        os.Getpid(),
		Host:       host,
		StartedAt:  started.UTC(),
		ReportPath: r.cfg.ReportPath,
	}
	if err := r.writeRecord(rec); err != nil {
		return nil, err
	}
	r.log.Info("pass started", zap.Strings("brands", brands), zap.Bool("dry_run", r.cfg.DryRun))

	runErr := r.runPipeline(ctx)

	summary := &Summary{
		PassID:   r.passID,
		Counts:   r.counts(),
		Duration: r.now().Sub(started),
		Brands:   brands,
	}
	switch {
	case runErr != nil:
		summary.State = passregistry.PassStateFailed
		rec.Error = runErr.Error()
	case summary.Counts.Errors > 0 || summary.Counts.LeavesFailed > 0:
		summary.State = passregistry.PassStatePartial
	default:
		summary.State = passregistry.PassStateSuccess
	}

	// The report summary is best effort once the context is gone.
	_ = r.deps.Writer.WriteSummary(context.WithoutCancel(ctx), &output.SummaryRecord{
		RunsSeen:        summary.Counts.RunsSeen,
		RunsReconciled:  summary.Counts.RunsReconciled,
		RunsSkipped:     summary.Counts.RunsSkipped,
		LeavesCreated:   summary.Counts.LeavesCreated,
		LeavesUpdated:   summary.Counts.LeavesUpdated,
		LeavesUnchanged: summary.Counts.LeavesUnchanged,
		LeavesFailed:    summary.Counts.LeavesFailed,
		Notifications:   summary.Counts.Notifications,
		Errors:          summary.Counts.Errors,
		Duration:        summary.Duration,
		DurationHuman:   summary.Duration.Round(time.Millisecond).String(),
		State:           string(summary.State),
	})

	ended := r.now().UTC()
	rec.State = summary.State
	rec.EndedAt = &ended
	rec.Counts = summary.Counts
	if err := r.writeRecord(rec); err != nil && runErr == nil {
		runErr = err
	}

	r.log.Info("pass finished",
		zap.String("state", string(summary.State)),
		zap.Int64("runs_seen", summary.Counts.RunsSeen),
		zap.Int64("runs_skipped", summary.Counts.RunsSkipped),
		zap.Int64("leaves_failed", summary.Counts.LeavesFailed),
		zap.Duration("duration", summary.Duration))
	return summary, runErr
}

func (r *Runner) writeRecord(rec *passregistry.PassRecord) error {
	if r.deps.Registry == nil {
		return nil
	}
	if err := r.deps.Registry.Write(rec); err != nil {
		return fmt.Errorf("write pass record: %w", err)
	}
	return nil
}

func (r *Runner) counts() passregistry.Counts {
	return passregistry.Counts{
		RunsSeen:        r.runsSeen.Load(),
		RunsReconciled:  r.runsReconciled.Load(),
		RunsSkipped:     r.runsSkipped.Load(),
		LeavesCreated:   r.leavesCreated.Load(),
		LeavesUpdated:   r.leavesUpdated.Load(),
		LeavesUnchanged: r.leavesUnchanged.Load(),
		LeavesFailed:    r.leavesFailed.Load(),
		Notifications:   r.notifications.Load(),
		Errors:          r.errorCount.Load(),
	}
}

// runPipeline orchestrates discovery → reconcile.
func (r *Runner) runPipeline(ctx context.Context) error {
	pipeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runCh := make(chan evidence.Run, r.cfg.ChannelBuffer)

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	go func() {
		defer close(runCh)
		for _, brand := range r.cfg.Brands {
			g.Go(func() error {
				r.discover(pipeCtx, brand, runCh)
				return nil
			})
		}
		_ = g.Wait()
	}()

	var consumeErr error
	for run := range runCh {
		if consumeErr != nil {
			continue // drain
		}
		if err := r.handleRun(pipeCtx, run); err != nil {
			consumeErr = err
			cancel()
		}
	}
	if consumeErr != nil {
		return consumeErr
	}
	return ctx.Err()
}

func (r *Runner) discover(ctx context.Context, brand evidence.Brand, out chan<- evidence.Run) {
	runs, err := r.deps.Discoverer.Discover(ctx, brand)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.log.Error("discovery failed", zap.String("brand", string(brand)), zap.Error(err))
		r.writeError(ctx, &output.ErrorRecord{Code: output.ErrCodeDiscovery, Message: err.Error()})
		return
	}
	r.log.Debug("runs discovered", zap.String("brand", string(brand)), zap.Int("count", len(runs)))
	for _, run := range runs {
		select {
		case out <- run:
		case <-ctx.Done():
			return
		}
	}
}

// handleRun collects and reconciles one run. Only context cancellation is
// returned; everything else is reported and counted.
func (r *Runner) handleRun(ctx context.Context, run evidence.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	brand := string(run.Brand())
	r.runsSeen.Add(1)
	r.deps.Recorder.RunSeen(brand)
	log := r.log.With(zap.String("brand", brand), zap.String("run", run.Name()))

	l, err := r.deps.Locker.Acquire(ctx, run.Name())
	if err != nil {
		if lease.IsHeld(err) {
			log.Info("run held by another pass")
			return r.skip(ctx, run, "", output.SkipLeaseHeld)
		}
		log.Error("lease failed", zap.Error(err))
		r.writeError(ctx, &output.ErrorRecord{Code: output.ErrCodeLease, Message: err.Error(), Dir: run.Dir()})
		return r.skip(ctx, run, "", output.SkipLeaseFailed)
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("lease release failed", zap.Error(err))
		}
	}()

	ev, err := run.Collect(ctx)
	if err != nil {
		return r.collectFailed(ctx, run, ev, err, log)
	}

	res, err := r.deps.Reconciler.Reconcile(ctx, ev)
	if res != nil {
		r.report(ctx, run, res)
	}
	if err != nil {
		return err
	}
	r.runsReconciled.Add(1)
	log.Info("run reconciled",
		zap.String("run_id", res.RunID),
		zap.String("status", string(res.Observed)),
		zap.Int("leaves", len(res.Leaves)),
		zap.Int("failed", res.Count(reconcile.ActionFailed)))
	return nil
}

func (r *Runner) collectFailed(ctx context.Context, run evidence.Run, ev *evidence.Evidence, err error, log *zap.Logger) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	runID := ""
	if ev != nil {
		runID = ev.RunID
	}

	var (
		flag   notify.Flag
		code   string
		reason string
	)
	switch {
	case evidence.IsNotReady(err):
		log.Debug("run not ready", zap.Error(err))
		return r.skip(ctx, run, runID, output.SkipNotReady)
	case evidence.IsMissing(err):
		flag, code, reason = notify.FlagNoSamplesheet, output.ErrCodeManifestMissing, output.SkipManifestMissing
	case evidence.IsMalformed(err):
		flag, code, reason = notify.FlagWeirdSamplesheet, output.ErrCodeManifestMalformed, output.SkipManifestMalformed
	default:
		log.Error("collect failed", zap.Error(err))
		r.writeError(ctx, &output.ErrorRecord{Code: output.ErrCodeInternal, Message: err.Error(), RunID: runID, Dir: run.Dir()})
		return r.skip(ctx, run, runID, output.SkipCollectFailed)
	}

	log.Warn("run manifest unusable", zap.String("reason", reason), zap.Error(err))
	rec := &output.ErrorRecord{Code: code, Message: err.Error(), RunID: runID, Dir: run.Dir()}
	var evErr *evidence.EvidenceError
	if errors.As(err, &evErr) {
		rec.Path = evErr.Path
	}
	r.writeError(ctx, rec)
	r.notify(ctx, flag, run.Dir(), log)
	return r.skip(ctx, run, runID, reason)
}

func (r *Runner) notify(ctx context.Context, flag notify.Flag, info string, log *zap.Logger) {
	if r.deps.Notifier == nil {
		return
	}
	sent, err := r.deps.Notifier.Notify(ctx, flag, info)
	if err != nil {
		log.Warn("notification failed", zap.String("flag", string(flag)), zap.Error(err))
	}
	if sent {
		r.notifications.Add(1)
	}
	r.deps.Recorder.Notification(string(flag), sent)
}

func (r *Runner) skip(ctx context.Context, run evidence.Run, runID, reason string) error {
	r.runsSkipped.Add(1)
	r.deps.Recorder.RunSkipped(string(run.Brand()), reason)
	_ = r.deps.Writer.WriteRun(ctx, &output.RunRecord{
		RunID:   runID,
		Brand:   string(run.Brand()),
		Dir:     run.Dir(),
		Outcome: output.OutcomeSkipped,
		Reason:  reason,
	})
	return nil
}

func (r *Runner) report(ctx context.Context, run evidence.Run, res *reconcile.RunResult) {
	for _, lr := range res.Leaves {
		switch lr.Action {
		case reconcile.ActionCreated:
			r.leavesCreated.Add(1)
		case reconcile.ActionUpdated:
			r.leavesUpdated.Add(1)
		case reconcile.ActionUnchanged:
			r.leavesUnchanged.Add(1)
		case reconcile.ActionFailed:
			r.leavesFailed.Add(1)
		}
		r.deps.Recorder.Leaf(string(lr.Action))

		rec := &output.LeafRecord{
			RunID:    res.RunID,
			Flowcell: lr.Leaf.Flowcell,
			Lane:     lr.Leaf.Lane,
			Sample:   lr.Leaf.Sample,
			Project:  lr.Leaf.Project,
			Observed: string(lr.Observed),
			Previous: string(lr.Previous),
			Status:   string(lr.Effective),
			Action:   string(lr.Action),
		}
		if lr.Err != nil {
			rec.Error = lr.Err.Error()
		}
		_ = r.deps.Writer.WriteLeaf(ctx, rec)
	}

	for i := range res.Ambiguous {
		r.deps.Recorder.FlowcellAmbiguous()
		r.deps.Recorder.Notification(string(notify.FlagFailedRun), i < res.Notified)
	}
	r.notifications.Add(int64(res.Notified))

	_ = r.deps.Writer.WriteRun(ctx, &output.RunRecord{
		RunID:     res.RunID,
		Brand:     string(run.Brand()),
		Dir:       run.Dir(),
		Status:    string(res.Observed),
		Outcome:   output.OutcomeReconciled,
		Leaves:    len(res.Leaves),
		Created:   res.Count(reconcile.ActionCreated),
		Updated:   res.Count(reconcile.ActionUpdated),
		Failed:    res.Count(reconcile.ActionFailed),
		Notified:  res.Notified,
		Ambiguous: res.Ambiguous,
	})
}

// writeError emits an error record and increments the error counter.
func (r *Runner) writeError(ctx context.Context, rec *output.ErrorRecord) {
	r.errorCount.Add(1)
	// Best effort; a report failure does not fail the pass.
	_ = r.deps.Writer.WriteError(ctx, rec)
}

type nopRecorder struct{}

func (nopRecorder) RunSeen(string)            {}
func (nopRecorder) RunSkipped(string, string) {}
func (nopRecorder) Leaf(string)               {}
func (nopRecorder) Notification(string, bool) {}
func (nopRecorder) FlowcellAmbiguous()        {}
