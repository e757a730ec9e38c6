package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/flowstatus/internal/observability"
	"github.com/3leaps/flowstatus/pkg/reconcile"
)

var failCmd = &cobra.Command{
	Use:   "fail RUN_ID",
	Short: "Mark the records of a run as Failed",
	Long: `Set every record of RUN_ID (optionally limited to one project) to Failed
and append an operator entry to its history. Records that are already
Failed are left untouched.

Prints the number of records changed.

Examples:
  flowstatus fail 240115_A00123_0042_AHXXXXDSX7
  flowstatus fail 240115_A00123_0042_AHXXXXDSX7 --project P12345`,
	Args: cobra.ExactArgs(1),
	RunE: runFail,
}

var failProject string

func init() {
	rootCmd.AddCommand(failCmd)
	failCmd.Flags().StringVarP(&failProject, "project", "p", "", "Only fail records of this project")
}

func runFail(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID := strings.TrimSpace(args[0])
	if runID == "" {
		return exitError(foundry.ExitInvalidArgument, "RUN_ID is required", fmt.Errorf("empty run id"))
	}
	project := strings.TrimSpace(failProject)

	store, err := openStore(ctx, appConfig.StatusDB)
	if err != nil {
		return storeUnavailable(store, err)
	}
	defer func() { _ = store.Close() }()

	failer := reconcile.NewFailer(store, reconcileConfig(appConfig.Reconcile), observability.CLILogger)
	n, err := failer.Fail(ctx, runID, project)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
	if err != nil {
		if reconcile.IsStoreUnavailable(err) {
			return storeUnavailable(store, err)
		}
		observability.CLILogger.Error("Some records could not be failed",
			zap.String("run_id", runID), zap.String("project", project), zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Fail incomplete", err)
	}

	observability.CLILogger.Info("Records failed",
		zap.String("run_id", runID),
		zap.String("project", project),
		zap.Int("changed", n))
	return nil
}
