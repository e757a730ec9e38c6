package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/flowstatus/pkg/passregistry"
)

var passesCmd = &cobra.Command{
	Use:   "passes",
	Short: "List recent passes",
	Long: `List pass records under pass.state_dir, newest first.

A pass still marked running whose process is gone is shown as unknown.`,
	Args: cobra.NoArgs,
	RunE: runPasses,
}

var (
	passesJSON  bool
	passesLimit int
)

func init() {
	rootCmd.AddCommand(passesCmd)
	passesCmd.Flags().BoolVar(&passesJSON, "json", false, "Output as JSON")
	passesCmd.Flags().IntVarP(&passesLimit, "limit", "n", 20, "Show at most N passes (0 = all)")
}

func runPasses(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	registry := passregistry.NewStore(appConfig.Pass.StateDir)

	passes, err := registry.List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read pass records", err)
	}
	if passesLimit > 0 && len(passes) > passesLimit {
		passes = passes[:passesLimit]
	}

	if passesJSON {
		if passes == nil {
			passes = []passregistry.PassRecord{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(passes)
	}
	if len(passes) == 0 {
		_, _ = fmt.Fprintln(out, "No passes found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "PASS ID\tSTATE\tSTARTED\tDURATION\tRUNS\tSKIPPED\tCREATED\tUPDATED\tFAILED\tERRORS")
	for _, p := range passes {
		state := string(p.State)
		if p.DryRun {
			state += " (dry-run)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			shortPassID(p.PassID),
			state,
			p.StartedAt.Local().Format(time.DateTime),
			passDuration(p),
			p.Counts.RunsSeen,
			p.Counts.RunsSkipped,
			p.Counts.LeavesCreated,
			p.Counts.LeavesUpdated,
			p.Counts.LeavesFailed,
			p.Counts.Errors,
		)
	}
	return nil
}

func shortPassID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func passDuration(p passregistry.PassRecord) string {
	if p.EndedAt == nil {
		return "-"
	}
	return p.EndedAt.Sub(p.StartedAt).Round(time.Millisecond).String()
}
