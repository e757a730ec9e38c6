package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/flowstatus/pkg/statusdb"
)

var showCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Print the status records of a run",
	Long: `Print the records of RUN_ID, optionally limited to one project, with their
full status history.

Examples:
  flowstatus show 240115_A00123_0042_AHXXXXDSX7
  flowstatus show 240115_A00123_0042_AHXXXXDSX7 --project P12345 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var (
	showProject string
	showFormat  string
)

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVarP(&showProject, "project", "p", "", "Only show records of this project")
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "yaml", "Output format: yaml or json")
}

// recordView is the printed shape of a record.
type recordView struct {
	Project        string      `json:"project" yaml:"project"`
	RunID          string      `json:"run_id" yaml:"run_id"`
	Flowcell       string      `json:"flowcell" yaml:"flowcell"`
	Lane           string      `json:"lane" yaml:"lane"`
	Sample         string      `json:"sample" yaml:"sample"`
	Status         string      `json:"status" yaml:"status"`
	InstrumentType string      `json:"instrument_type" yaml:"instrument_type"`
	History        []entryView `json:"history" yaml:"history"`
}

type entryView struct {
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Status    string `json:"status" yaml:"status"`
	User      string `json:"user" yaml:"user"`
}

func newRecordView(r *statusdb.Record) recordView {
	v := recordView{
		Project:        r.ProjectID,
		RunID:          r.RunID,
		Flowcell:       r.Flowcell,
		Lane:           string(r.Lane),
		Sample:         r.Sample,
		Status:         string(r.Status),
		InstrumentType: r.InstrumentType,
		History:        make([]entryView, 0, len(r.Values)),
	}
	for _, e := range r.Values {
		v.History = append(v.History, entryView{Timestamp: e.Timestamp, Status: string(e.Status), User: e.User})
	}
	return v
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID := strings.TrimSpace(args[0])
	project := strings.TrimSpace(showProject)

	format := strings.ToLower(strings.TrimSpace(showFormat))
	if format != "yaml" && format != "json" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --format value", fmt.Errorf("format must be yaml or json, got %q", showFormat))
	}

	store, err := openStore(ctx, appConfig.StatusDB)
	if err != nil {
		return storeUnavailable(store, err)
	}
	defer func() { _ = store.Close() }()

	recs, err := store.ListByRun(ctx, runID, project)
	if err != nil {
		if statusdb.IsUnavailable(err) {
			return storeUnavailable(store, err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list records", err)
	}
	if len(recs) == 0 {
		return exitError(foundry.ExitFileNotFound, "No records found",
			fmt.Errorf("run %s project %q", runID, project))
	}

	views := make([]recordView, 0, len(recs))
	for _, r := range recs {
		views = append(views, newRecordView(r))
	}
	return writeViews(cmd.OutOrStdout(), format, views)
}

func writeViews(w io.Writer, format string, views []recordView) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(views); err != nil {
		return err
	}
	return enc.Close()
}
