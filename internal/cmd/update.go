package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/flowstatus/internal/config"
	"github.com/3leaps/flowstatus/internal/observability"
	"github.com/3leaps/flowstatus/pkg/evidence"
	"github.com/3leaps/flowstatus/pkg/output"
	"github.com/3leaps/flowstatus/pkg/pass"
	"github.com/3leaps/flowstatus/pkg/passregistry"
	"github.com/3leaps/flowstatus/pkg/reconcile"
	"github.com/3leaps/flowstatus/pkg/statusdb"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run one pass over all configured run directories",
	Long: `Discover run directories, derive their status and write it to the status
database.

Each pass is recorded under pass.state_dir with its counts and, when
pass.report is set, a JSONL report of every leaf and skipped run.

Examples:
  flowstatus update
  flowstatus update --brand illumina --brand element
  flowstatus update --dry-run
  flowstatus update --report /tmp/pass.jsonl`,
	Args: cobra.NoArgs,
	RunE: runUpdate,
}

var (
	updateDryRun bool
	updateReport string
	updateBrands []string
)

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().BoolVar(&updateDryRun, "dry-run", false, "Reconcile against an in-memory snapshot; no store writes, no mail, report to stdout")
	updateCmd.Flags().StringVar(&updateReport, "report", "", "Write the JSONL report to this path")
	updateCmd.Flags().StringSliceVar(&updateBrands, "brand", nil, "Limit the pass to these brands (illumina, element, ont)")
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	brands, err := selectBrands(cfg, updateBrands)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --brand value", err)
	}

	store, err := openStore(ctx, cfg.StatusDB)
	if err != nil {
		return storeUnavailable(store, err)
	}
	defer func() { _ = store.Close() }()

	metrics := observability.NewMetrics()
	summary, err := executePass(ctx, passEnv{
		cfg:        cfg,
		store:      store,
		metrics:    metrics,
		brands:     brands,
		dryRun:     updateDryRun,
		reportPath: updateReport,
		stdout:     cmd.OutOrStdout(),
		log:        observability.CLILogger,
	})
	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Pass cancelled", err)
		}
		return err
	}

	if summary.State == passregistry.PassStatePartial {
		observability.CLILogger.Warn("Pass finished with errors; see the report for details",
			zap.String("pass_id", summary.PassID),
			zap.Int64("errors", summary.Counts.Errors),
			zap.Int64("leaves_failed", summary.Counts.LeavesFailed))
	}
	return nil
}

// passEnv is what one pass needs beyond the configuration.
type passEnv struct {
	cfg     *config.Config
	store   *storeHandle
	metrics *observability.Metrics
	brands  []evidence.Brand

	dryRun     bool
	reportPath string
	stdout     io.Writer

	log *zap.Logger
}

// executePass wires and runs one pass, then records metrics and prunes old
// pass records.
func executePass(ctx context.Context, env passEnv) (*pass.Summary, error) {
	cfg, log := env.cfg, env.log

	var target statusdb.Store = env.store
	if env.dryRun {
		overlay := statusdb.NewOverlay(env.store)
		defer func() {
			log.Info("Dry run complete; no records written", zap.Int("would_write", overlay.Writes()))
		}()
		target = overlay
	}

	collector, err := newCollector(cfg, env.store.LIMS, log)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid exclude patterns", err)
	}
	locker, closeLocker, err := newLocker(cfg.Lease)
	if err != nil {
		return nil, exitError(foundry.ExitFileWriteError, "Failed to set up run leases", err)
	}
	defer closeLocker()

	notifier := newNotifier(cfg.Mail, env.dryRun, log)
	registry := passregistry.NewStore(cfg.Pass.StateDir)
	passID := uuid.NewString()

	writer, reportPath, closeWriter, err := openReport(env, registry, passID)
	if err != nil {
		return nil, exitError(foundry.ExitFileWriteError, "Failed to create report", err)
	}
	defer closeWriter()

	runner, err := pass.New(pass.Deps{
		Discoverer: collector,
		Reconciler: reconcile.New(target, notifier, reconcileConfig(cfg.Reconcile), log),
		Notifier:   notifier,
		Locker:     locker,
		Writer:     writer,
		Registry:   registry,
		Recorder:   env.metrics,
	}, pass.Config{
		Brands:        env.brands,
		Concurrency:   cfg.Pass.Concurrency,
		ChannelBuffer: cfg.Pass.ChannelBuffer,
		DryRun:        env.dryRun,
		Backend:       cfg.StatusDB.Backend,
		ReportPath:    reportPath,
	}, log, pass.WithPassID(passID))
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid pass setup", err)
	}

	summary, runErr := runner.Run(ctx)
	if summary == nil {
		return nil, exitError(foundry.ExitFileWriteError, "Failed to record pass", runErr)
	}

	env.metrics.ObservePass(string(summary.State), summary.Duration, time.Now())
	if cfg.Metrics.Textfile != "" {
		if err := env.metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Warn("Failed to write metrics textfile", zap.String("path", cfg.Metrics.Textfile), zap.Error(err))
		}
	}
	if cfg.Pass.Keep > 0 {
		if n, err := registry.Prune(cfg.Pass.Keep); err != nil {
			log.Warn("Failed to prune pass records", zap.Error(err))
		} else if n > 0 {
			log.Debug("Pruned pass records", zap.Int("removed", n))
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return summary, runErr
		}
		return summary, exitError(foundry.ExitFileWriteError, "Failed to record pass", runErr)
	}
	return summary, nil
}

// openReport picks the report destination: stdout for dry runs, the
// --report path, or report.jsonl in the pass directory when pass.report is
// set.
func openReport(env passEnv, registry *passregistry.Store, passID string) (output.Writer, string, func(), error) {
	path := env.reportPath
	if path == "" && env.cfg.Pass.Report && !env.dryRun {
		path = registry.ReportPath(passID)
	}

	if path == "" {
		if env.dryRun {
			w := output.NewJSONLWriter(env.stdout, passID, true)
			return w, "", func() { _ = w.Close() }, nil
		}
		return output.Discard{}, "", func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", nil, fmt.Errorf("create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("create report %s: %w", path, err)
	}
	w := output.NewJSONLWriter(f, passID, env.dryRun)
	return w, path, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}

// selectBrands validates --brand values; without any it returns the brands
// that have data dirs configured.
func selectBrands(cfg *config.Config, names []string) ([]evidence.Brand, error) {
	if len(names) == 0 {
		configured := cfg.DataDirs.Brands()
		if len(configured) == 0 {
			return nil, fmt.Errorf("no data_dirs configured")
		}
		return configured, nil
	}
	var out []evidence.Brand
	for _, n := range names {
		b := evidence.Brand(n)
		if !slices.Contains(evidence.Brands, b) {
			return nil, fmt.Errorf("unknown brand %q", n)
		}
		if !slices.Contains(out, b) {
			out = append(out, b)
		}
	}
	return out, nil
}

// storeUnavailable reports an unreachable store naming its masked endpoint.
func storeUnavailable(h *storeHandle, err error) error {
	endpoint := "unknown"
	if h != nil && h.Endpoint != "" {
		endpoint = h.Endpoint
	}
	observability.CLILogger.Error("Status store unavailable", zap.String("endpoint", endpoint), zap.Error(err))
	return exitError(foundry.ExitExternalServiceUnavailable, "Cannot reach status store at "+endpoint, err)
}
