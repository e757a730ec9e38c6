package evidence

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/flowstatus/pkg/status"
	"github.com/3leaps/flowstatus/pkg/statustree"
)

// TransferStatus is the state of the run copy from the instrument share.
type TransferStatus string

const (
	TransferNotStarted  TransferStatus = "not started"
	TransferInProgress  TransferStatus = "transferring"
	TransferRsyncDone   TransferStatus = "rsync done"
	TransferTransferred TransferStatus = "transferred"
)

// DemuxStatus is the state of on-instrument or local demultiplexing.
type DemuxStatus string

const (
	DemuxNotStarted DemuxStatus = "not started"
	DemuxOngoing    DemuxStatus = "ongoing"
	DemuxFinished   DemuxStatus = "finished"
)

const (
	elementRunParameters   = "RunParameters.json"
	elementRunUploaded     = "RunUploaded.json"
	elementRsyncInProgress = ".rsync_in_progress"
	elementRsyncExitStatus = ".rsync_exit_status"
	elementDemuxDir        = "Demultiplexing"
	elementIndexAssignment = "IndexAssignment.csv"
)

// elementRunParams is the subset of RunParameters.json needed to identify a
// run.
type elementRunParams struct {
	RunName        string `json:"RunName"`
	FlowcellID     string `json:"FlowcellID"`
	Date           string `json:"Date"`
	InstrumentName string `json:"InstrumentName"`
	Side           string `json:"Side"`
}

// runID builds YYYYMMDD_<instrument>_<side><flowcell>.
func (p elementRunParams) runID() (string, error) {
	if p.FlowcellID == "" || p.InstrumentName == "" {
		return "", fmt.Errorf("FlowcellID and InstrumentName are required")
	}
	day, err := elementRunDate(p.Date)
	if err != nil {
		return "", err
	}
	side := strings.TrimPrefix(p.Side, "Side")
	return fmt.Sprintf("%s_%s_%s%s", day, p.InstrumentName, side, p.FlowcellID), nil
}

func elementRunDate(raw string) (string, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.Format("20060102"), nil
	}
	if len(raw) >= 10 {
		if t, err := time.Parse("2006-01-02", raw[:10]); err == nil {
			return t.Format("20060102"), nil
		}
	}
	return "", fmt.Errorf("unparseable run date %q", raw)
}

// ElementRun is an Element (AVITI) run directory.
type ElementRun struct {
	dir         string
	transferLog string
}

var _ Run = (*ElementRun)(nil)

// NewElementRun returns the run variant for dir. transferLog, if set, lists
// the run ids already transferred, one per line.
func NewElementRun(dir, transferLog string) *ElementRun {
	return &ElementRun{dir: filepath.Clean(dir), transferLog: transferLog}
}

func (r *ElementRun) Brand() Brand { return BrandElement }
func (r *ElementRun) Dir() string  { return r.dir }
func (r *ElementRun) Name() string { return baseName(r.dir) }
func (r *ElementRun) isRun()       {}

// Collect implements Run. A run without RunParameters.json returns
// ErrNotReady: the instrument has not written its identity yet.
func (r *ElementRun) Collect(_ context.Context) (*Evidence, error) {
	name := r.Name()
	paramsPath := filepath.Join(r.dir, elementRunParameters)

	b, err := os.ReadFile(paramsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &EvidenceError{Op: "run_parameters", Brand: BrandElement, Run: name, Path: paramsPath, Err: ErrNotReady}
		}
		return nil, &EvidenceError{Op: "run_parameters", Brand: BrandElement, Run: name, Path: paramsPath, Err: err}
	}
	var params elementRunParams
	if err := json.Unmarshal(b, &params); err != nil {
		return nil, &EvidenceError{Op: "run_parameters", Brand: BrandElement, Run: name, Path: paramsPath,
			Err: fmt.Errorf("%w: %v", ErrNotReady, err)}
	}
	runID, err := params.runID()
	if err != nil {
		return nil, &EvidenceError{Op: "run_parameters", Brand: BrandElement, Run: name, Path: paramsPath,
			Err: fmt.Errorf("%w: %v", ErrNotReady, err)}
	}

	ev := &Evidence{
		RunID:       runID,
		Brand:       BrandElement,
		Observation: r.observe(runID),
	}

	manifestPath := filepath.Join(r.dir, elementDemuxDir, elementIndexAssignment)
	f, err := os.Open(manifestPath)
	if err != nil {
		return ev, missing(BrandElement, "index_assignment", name, manifestPath, err)
	}
	defer func() { _ = f.Close() }()

	table, err := ParseCSVTable(f)
	if err != nil {
		return ev, malformed(BrandElement, "index_assignment", name, manifestPath, err)
	}
	sampleCol := table.Column("SampleName")
	laneCol := table.Column("Lane")
	if sampleCol < 0 || laneCol < 0 {
		return ev, malformed(BrandElement, "index_assignment", name, manifestPath,
			fmt.Errorf("missing SampleName or Lane column"))
	}

	var rows []statustree.Row
	for _, rec := range table.Rows {
		sample := rec[sampleCol]
		if !strings.Contains(sample, "_") {
			// Unassigned reads and bare index names carry no project.
			continue
		}
		rows = append(rows, statustree.Row{Lane: rec[laneCol], Sample: sample, Project: statustree.ProjectOf(sample)})
	}
	tree := statustree.Build(params.FlowcellID, rows)
	if tree.Empty() {
		return ev, malformed(BrandElement, "index_assignment", name, manifestPath,
			fmt.Errorf("no sample rows matched"))
	}
	ev.Tree = tree
	return ev, nil
}

// ElementObservation is the filesystem snapshot of an Element run.
type ElementObservation struct {
	Transfer       TransferStatus
	Demux          DemuxStatus
	SequencingDone bool
}

func (ElementObservation) isObservation() {}

// Classify implements Observation.
func (o ElementObservation) Classify() status.Status {
	switch {
	case o.Transfer == TransferTransferred || o.Transfer == TransferRsyncDone:
		return status.New
	case o.Transfer == TransferInProgress:
		return status.Transferring
	case o.Demux == DemuxFinished || o.Demux == DemuxOngoing:
		return status.Demultiplexing
	case !o.SequencingDone:
		return status.Sequencing
	default:
		return status.Error
	}
}

func (r *ElementRun) observe(runID string) ElementObservation {
	return ElementObservation{
		Transfer:       r.transferStatus(runID),
		Demux:          r.demuxStatus(),
		SequencingDone: exists(filepath.Join(r.dir, elementRunUploaded)),
	}
}

func (r *ElementRun) transferStatus(runID string) TransferStatus {
	if strings.Contains(r.dir, "nosync") || r.inTransferLog(runID) {
		return TransferTransferred
	}
	if b, err := os.ReadFile(filepath.Join(r.dir, elementRsyncExitStatus)); err == nil {
		if strings.TrimSpace(string(b)) == "0" {
			return TransferRsyncDone
		}
	}
	if exists(filepath.Join(r.dir, elementRsyncInProgress)) {
		return TransferInProgress
	}
	return TransferNotStarted
}

func (r *ElementRun) inTransferLog(runID string) bool {
	if r.transferLog == "" {
		return false
	}
	f, err := os.Open(r.transferLog)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) > 0 && fields[0] == runID {
			return true
		}
	}
	return false
}

func (r *ElementRun) demuxStatus() DemuxStatus {
	demux := filepath.Join(r.dir, elementDemuxDir)
	switch {
	case !isDir(demux):
		return DemuxNotStarted
	case exists(filepath.Join(demux, elementIndexAssignment)):
		return DemuxFinished
	default:
		return DemuxOngoing
	}
}
