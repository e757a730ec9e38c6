// Package cmd implements the flowstatus command line.
package cmd

import (
	"context"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/flowstatus/internal/config"
	"github.com/3leaps/flowstatus/internal/observability"
)

const serviceName = "flowstatus"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile  string
	logLevel string
	verbose  bool

	// appConfig is loaded once per invocation by loadRuntime.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "flowstatus",
	Short: "Track sequencing run status in the status database",
	Long: `flowstatus scans sequencer run directories, derives the status of every
(flowcell, lane, sample) and keeps the status database in step.

A pass is idempotent: records that already carry the observed status are
left alone. Runs whose manifests are missing or malformed are reported and
skipped.

Examples:
  flowstatus update                   # one pass over all configured brands
  flowstatus update --dry-run         # reconcile against a snapshot, print the report
  flowstatus fail 240115_A00123_0042_AHXXXXDSX7 --project P12345
  flowstatus show 240115_A00123_0042_AHXXXXDSX7 --format json
  flowstatus serve --port 8080`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./flowstatus.yaml or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
}

// SetVersionInfo records build metadata for the version command and API.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadRuntime loads configuration and replaces the bootstrap logger with the
// configured one.
func loadRuntime(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger(serviceName, verbose)
	if cmd.Name() == versionCmd.Name() {
		return nil
	}

	cfg, err := config.Load(cmd.Context(), cfgFile, runtimeOverrides())
	if err != nil {
		observability.CLILogger.Error("Failed to load configuration", zap.String("path", cfgFile), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	logger, err := observability.NewLogger(serviceName, cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	observability.SetCLILogger(logger)
	appConfig = cfg

	observability.CLILogger.Debug("Loaded configuration",
		zap.String("path", cfgFile),
		zap.String("statusdb_backend", cfg.StatusDB.Backend),
		zap.String("lease_backend", cfg.Lease.Backend))
	return nil
}

// runtimeOverrides maps persistent flags onto config keys.
func runtimeOverrides() map[string]any {
	o := map[string]any{}
	switch {
	case logLevel != "":
		o["logging"] = map[string]any{"level": logLevel}
	case verbose:
		o["logging"] = map[string]any{"level": "debug"}
	}
	return o
}
