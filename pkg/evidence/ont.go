package evidence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/3leaps/flowstatus/pkg/status"
	"github.com/3leaps/flowstatus/pkg/statustree"
)

// ONTLane is the lane every ONT sample is recorded on. Nanopore flowcells
// have no lanes.
const ONTLane = "0"

// ErrLIMSNotFound is returned by a LIMSSource when no LIMS document exists
// for a run.
var ErrLIMSNotFound = errors.New("lims document not found")

// LIMSSource returns the sample names loaded on a nanopore run, taken from
// the latest loading entry of the run's LIMS document.
type LIMSSource interface {
	LoadedSamples(ctx context.Context, runName string) ([]string, error)
}

// ONTRun is an Oxford Nanopore run directory.
type ONTRun struct {
	dir  string
	lims LIMSSource
}

var _ Run = (*ONTRun)(nil)

// NewONTRun returns the run variant for dir.
func NewONTRun(dir string, lims LIMSSource) *ONTRun {
	return &ONTRun{dir: filepath.Clean(dir), lims: lims}
}

func (r *ONTRun) Brand() Brand { return BrandONT }
func (r *ONTRun) Dir() string  { return r.dir }
func (r *ONTRun) Name() string { return baseName(r.dir) }
func (r *ONTRun) isRun()       {}

// Collect implements Run. The run name doubles as flowcell id.
func (r *ONTRun) Collect(ctx context.Context) (*Evidence, error) {
	name := r.Name()
	ev := &Evidence{
		RunID:       name,
		Brand:       BrandONT,
		Observation: r.observe(),
	}

	if r.lims == nil {
		return ev, missing(BrandONT, "lims", name, "", fmt.Errorf("no LIMS source configured"))
	}
	samples, err := r.lims.LoadedSamples(ctx, name)
	if err != nil {
		// Lookup failures and absent documents both count as missing; the next
		// pass retries.
		return ev, missing(BrandONT, "lims", name, "", err)
	}

	rows := make([]statustree.Row, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, statustree.Row{Lane: ONTLane, Sample: s, Project: statustree.ProjectOf(s)})
	}
	tree := statustree.Build(name, rows)
	if tree.Empty() {
		return ev, malformed(BrandONT, "lims", name, "", fmt.Errorf("no samples loaded"))
	}
	ev.Tree = tree
	return ev, nil
}

// ONTObservation is the filesystem snapshot of a nanopore run.
type ONTObservation struct {
	Demux DemuxStatus
}

func (ONTObservation) isObservation() {}

// Classify implements Observation.
func (o ONTObservation) Classify() status.Status {
	switch o.Demux {
	case DemuxFinished:
		return status.New
	case DemuxOngoing:
		return status.Sequencing
	default:
		return status.Error
	}
}

func (r *ONTRun) observe() ONTObservation {
	switch {
	case globAny(r.dir, "final_summary*.txt"):
		return ONTObservation{Demux: DemuxFinished}
	case globAny(r.dir, "pod5*", "fastq*", "fast5*", "*.pod5", "report_*"):
		return ONTObservation{Demux: DemuxOngoing}
	default:
		return ONTObservation{Demux: DemuxNotStarted}
	}
}
