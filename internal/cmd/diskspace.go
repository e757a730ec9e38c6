package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/flowstatus/internal/config"
	"github.com/3leaps/flowstatus/internal/observability"
	"github.com/3leaps/flowstatus/pkg/diskspace"
	"github.com/3leaps/flowstatus/pkg/notify"
)

var diskspaceCmd = &cobra.Command{
	Use:   "diskspace",
	Short: "Report disk usage of the data roots",
	Long: `Report disk usage of every configured data root and of disk.paths.

With --alert, a low disk space alert is sent for each path at or above
disk.alert_percent, within the configured mail hours.

Examples:
  flowstatus diskspace
  flowstatus diskspace --json
  flowstatus diskspace --alert`,
	Args: cobra.NoArgs,
	RunE: runDiskspace,
}

var (
	diskspaceJSON  bool
	diskspaceAlert bool
)

func init() {
	rootCmd.AddCommand(diskspaceCmd)
	diskspaceCmd.Flags().BoolVar(&diskspaceJSON, "json", false, "Output as JSON")
	diskspaceCmd.Flags().BoolVar(&diskspaceAlert, "alert", false, "Send an alert for paths over disk.alert_percent")
}

// diskPaths lists the data roots of every brand followed by disk.paths.
func diskPaths(cfg *config.Config) []string {
	var paths []string
	byBrand := cfg.DataDirs.ByBrand()
	for _, b := range cfg.DataDirs.Brands() {
		paths = append(paths, byBrand[b]...)
	}
	return append(paths, cfg.Disk.Paths...)
}

func runDiskspace(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	usage := diskspace.Check(diskPaths(cfg))

	if diskspaceAlert {
		notifier := newNotifier(cfg.Mail, false, observability.CLILogger)
		alertDiskUsage(cmd.Context(), notifier, usage, cfg.Disk.AlertPercent, observability.CLILogger)
	}

	out := cmd.OutOrStdout()
	if diskspaceJSON {
		if usage == nil {
			usage = []diskspace.Usage{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(usage)
	}
	if len(usage) == 0 {
		_, _ = fmt.Fprintln(out, "No paths configured")
		return nil
	}
	printDiskUsage(out, usage, cfg.Disk.AlertPercent)
	return nil
}

func alertDiskUsage(ctx context.Context, notifier *notify.Notifier, usage []diskspace.Usage, percent int, log *zap.Logger) {
	for _, u := range usage {
		if !u.Over(percent) {
			continue
		}
		info := fmt.Sprintf("%s is %.0f%% full (%s free)", u.Path, u.Percent, formatBytes(u.FreeBytes))
		if _, err := notifier.Notify(ctx, notify.FlagDiskSpace, info); err != nil {
			log.Warn("Failed to send disk space alert", zap.String("path", u.Path), zap.Error(err))
		}
	}
}

func printDiskUsage(out io.Writer, usage []diskspace.Usage, percent int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "PATH\tSIZE\tUSED\tFREE\tUSE%\t")
	for _, u := range usage {
		if u.Error != "" {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t-\t%s\n", u.Path, u.Error)
			continue
		}
		mark := ""
		if u.Over(percent) {
			mark = "LOW"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
			u.Path, formatBytes(u.TotalBytes), formatBytes(u.UsedBytes), formatBytes(u.FreeBytes), u.Percent, mark)
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
