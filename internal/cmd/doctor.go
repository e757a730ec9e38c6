package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/flowstatus/internal/config"
	"github.com/3leaps/flowstatus/internal/observability"
	"github.com/3leaps/flowstatus/pkg/diskspace"
	"github.com/3leaps/flowstatus/pkg/evidence"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Check that the configured data dirs, samplesheet dirs, state dir, lease
backend and status store are usable, and that no data root is nearly full.

Exits non-zero when the status store cannot be reached.

Examples:
  flowstatus doctor
  flowstatus doctor --config /etc/flowstatus/flowstatus.yaml`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorCheck reports one numbered check.
type doctorCheck struct {
	num, total int
	ok         bool
}

func (d *doctorCheck) pass(name, detail string, fields ...zap.Field) {
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", d.num, d.total, name, detail), fields...)
	d.num++
}

func (d *doctorCheck) warn(name, detail string, fields ...zap.Field) {
	observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", d.num, d.total, name, detail), fields...)
	d.ok = false
	d.num++
}

func (d *doctorCheck) fail(name, detail string, fields ...zap.Field) {
	observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", d.num, d.total, name, detail), fields...)
	d.ok = false
	d.num++
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	observability.CLILogger.Info("=== flowstatus doctor ===")
	observability.CLILogger.Info("")

	check := &doctorCheck{num: 1, total: 8, ok: true}

	goVersion := runtime.Version()
	check.pass("Go version", fmt.Sprintf("%s %s/%s", goVersion, runtime.GOOS, runtime.GOARCH),
		zap.String("go_version", goVersion))

	checkDataDirs(check, cfg.DataDirs)
	checkSamplesheetDirs(check, cfg.Samplesheets)
	checkStateDir(check, cfg.Pass.StateDir)
	checkDiskSpace(check, diskPaths(cfg), cfg.Disk.AlertPercent)
	checkLease(ctx, check, cfg.Lease)

	if cfg.Mail.Enabled() {
		check.pass("mail", fmt.Sprintf("%s:%d -> %s", cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, strings.Join(cfg.Mail.Recipients, ", ")))
	} else {
		check.warn("mail", "not configured; alerts are only logged")
	}

	storeErr := checkStore(ctx, check, cfg.StatusDB)

	observability.CLILogger.Info("")
	switch {
	case storeErr != nil:
		observability.CLILogger.Error("❌ The status store is unreachable.")
	case check.ok:
		observability.CLILogger.Info("✅ All checks passed!")
	default:
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("=== End Diagnostics ===")
	return storeErr
}

func checkDataDirs(check *doctorCheck, dirs config.DataDirsConfig) {
	brands := dirs.Brands()
	if len(brands) == 0 {
		check.warn("data dirs", "none configured")
		return
	}
	var missing []string
	byBrand := dirs.ByBrand()
	for _, b := range brands {
		for _, root := range byBrand[b] {
			if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
				missing = append(missing, root)
			}
		}
	}
	if len(missing) > 0 {
		check.warn("data dirs", "missing: "+strings.Join(missing, ", "), zap.Strings("missing", missing))
		return
	}
	names := make([]string, 0, len(brands))
	for _, b := range brands {
		names = append(names, string(b))
	}
	check.pass("data dirs", strings.Join(names, ", "))
}

func checkSamplesheetDirs(check *doctorCheck, dirs evidence.SamplesheetDirs) {
	configured := map[string]string{
		"hiseq":        dirs.HiSeq,
		"xten":         dirs.HiSeqX,
		"novaseq":      dirs.NovaSeq,
		"novaseqxplus": dirs.NovaSeqXPlus,
		"nextseq":      dirs.NextSeq,
	}
	var set, missing []string
	for name, dir := range configured {
		if dir == "" {
			continue
		}
		set = append(set, name)
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			missing = append(missing, dir)
		}
	}
	sort.Strings(missing)
	switch {
	case len(set) == 0:
		check.warn("samplesheet dirs", "none configured; Illumina runs need samplesheets in the run dir")
	case len(missing) > 0:
		check.warn("samplesheet dirs", "missing: "+strings.Join(missing, ", "))
	default:
		check.pass("samplesheet dirs", fmt.Sprintf("%d configured", len(set)))
	}
}

func checkStateDir(check *doctorCheck, dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		check.fail("state dir", "cannot create "+dir, zap.Error(err))
		return
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		check.fail("state dir", "not writable: "+dir, zap.Error(err))
		return
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	check.pass("state dir", dir)
}

func checkDiskSpace(check *doctorCheck, paths []string, percent int) {
	usage := diskspace.Check(paths)
	if len(usage) == 0 {
		check.warn("disk space", "no paths to check")
		return
	}
	var low []string
	for _, u := range usage {
		if u.Over(percent) {
			low = append(low, fmt.Sprintf("%s (%.0f%%)", u.Path, u.Percent))
		}
	}
	if len(low) > 0 {
		check.warn("disk space", "over "+fmt.Sprint(percent)+"%: "+strings.Join(low, ", "))
		return
	}
	check.pass("disk space", fmt.Sprintf("%d paths below %d%%", len(usage), percent))
}

func checkLease(ctx context.Context, check *doctorCheck, cfg config.LeaseConfig) {
	locker, cleanup, err := newLocker(cfg)
	if err != nil {
		check.fail("lease backend", cfg.Backend, zap.Error(err))
		return
	}
	defer cleanup()

	l, err := locker.Acquire(ctx, "flowstatus-doctor")
	if err != nil {
		check.fail("lease backend", cfg.Backend+": cannot take a lease", zap.Error(err))
		return
	}
	_ = l.Release(ctx)
	check.pass("lease backend", cfg.Backend)
}

func checkStore(ctx context.Context, check *doctorCheck, cfg config.StatusDBConfig) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		endpoint := "unknown"
		if store != nil {
			endpoint = store.Endpoint
		}
		check.fail("status store", cfg.Backend+" at "+endpoint, zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot reach status store at "+endpoint, err)
	}
	defer func() { _ = store.Close() }()
	check.pass("status store", cfg.Backend+" at "+store.Endpoint)
	return nil
}
