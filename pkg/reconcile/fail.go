package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/3leaps/flowstatus/pkg/status"
	"github.com/3leaps/flowstatus/pkg/statusdb"
)

// Failer forces records of a run into the terminal Failed state on operator
// request.
type Failer struct {
	store   statusdb.Store
	breaker *gobreaker.CircuitBreaker
	retries int
	now     func() time.Time
	log     *zap.Logger
}

// NewFailer returns a Failer.
func NewFailer(store statusdb.Store, cfg Config, log *zap.Logger, opts ...Option) *Failer {
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Failer{
		store:   store,
		breaker: newBreaker("statusdb-fail", cfg.Breaker),
		retries: cfg.ConflictRetries,
		now:     applyOptions(opts).now,
		log:     log,
	}
}

// Fail marks every record of runID (limited to project when set) as Failed
// and returns how many records changed. Records already Failed are left
// untouched and not counted. Records that could not be saved are skipped and
// reported in the joined error.
func (f *Failer) Fail(ctx context.Context, runID, project string) (int, error) {
	recs, err := guarded(f.breaker, func() ([]*statusdb.Record, error) {
		return f.store.ListByRun(ctx, runID, project)
	})
	if err != nil {
		return 0, fmt.Errorf("list records of %s: %w", runID, err)
	}
	f.log.Info("failing run records",
		zap.String("run_id", runID), zap.String("project", project), zap.Int("records", len(recs)))

	updated := 0
	var errs []error
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		changed, err := f.failRecord(ctx, rec)
		if err != nil {
			f.log.Error("cannot update record",
				zap.String("project", rec.ProjectID), zap.String("sample", rec.Sample),
				zap.String("run_id", rec.RunID), zap.String("lane", string(rec.Lane)), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if changed {
			updated++
		}
	}
	return updated, errors.Join(errs...)
}

func (f *Failer) failRecord(ctx context.Context, rec *statusdb.Record) (bool, error) {
	for attempt := 0; ; attempt++ {
		if rec.Status == status.Failed {
			return false, nil
		}
		rec.Append(f.now(), statusdb.ActorOperator, status.Failed)
		_, err := guarded(f.breaker, func() (struct{}, error) { return struct{}{}, f.store.Update(ctx, rec) })
		if err == nil {
			return true, nil
		}
		if !statusdb.IsConflict(err) || attempt >= f.retries {
			return false, err
		}
		fresh, ferr := guarded(f.breaker, func() (*statusdb.Record, error) { return f.store.Find(ctx, rec.Key()) })
		if ferr != nil {
			return false, ferr
		}
		rec = fresh
	}
}
