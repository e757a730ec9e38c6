package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/3leaps/flowstatus/pkg/status"
	"github.com/3leaps/flowstatus/pkg/statustree"
)

// SamplesheetDirs locates the external, year-bucketed samplesheet directories
// for the Illumina sub-types whose samplesheet is not stored with the run.
type SamplesheetDirs struct {
	HiSeq        string `mapstructure:"hiseq"`
	HiSeqX       string `mapstructure:"xten"`
	NovaSeq      string `mapstructure:"novaseq"`
	NovaSeqXPlus string `mapstructure:"novaseqxplus"`
	NextSeq      string `mapstructure:"nextseq"`
}

func (d SamplesheetDirs) dirFor(s Sequencer) string {
	switch s {
	case SequencerHiSeq:
		return d.HiSeq
	case SequencerHiSeqX:
		return d.HiSeqX
	case SequencerNovaSeq:
		return d.NovaSeq
	case SequencerNovaSeqXPlus:
		return d.NovaSeqXPlus
	case SequencerNextSeq:
		return d.NextSeq
	default:
		return ""
	}
}

var (
	// Sample id and project id in a samplesheet cell, e.g. P12345_101.
	sampleProjectPattern = regexp.MustCompile(`^((P[0-9]{3,5})_[0-9]{3,5})`)
	// MiSeq sheets carry no lane column, so the sample pattern is anchored.
	miseqSampleProjectPattern = regexp.MustCompile(`^((P[0-9]{3,5})_[0-9]{3,5})$`)
	lanePattern               = regexp.MustCompile(`^([1-8]{1,2})$`)
	// Plate well ids (A01..H12) stand in for the lane on single-lane plates.
	wellPattern = regexp.MustCompile(`^[A-H](0?[1-9]|1[0-2])$`)
)

const (
	illuminaDemuxDir    = "Demultiplexing"
	illuminaRTAComplete = "RTAComplete.txt"
)

// IlluminaRun is an Illumina run directory.
type IlluminaRun struct {
	dir          string
	samplesheets SamplesheetDirs
}

var _ Run = (*IlluminaRun)(nil)

// NewIlluminaRun returns the run variant for dir.
func NewIlluminaRun(dir string, samplesheets SamplesheetDirs) *IlluminaRun {
	return &IlluminaRun{dir: filepath.Clean(dir), samplesheets: samplesheets}
}

func (r *IlluminaRun) Brand() Brand { return BrandIllumina }
func (r *IlluminaRun) Dir() string  { return r.dir }
func (r *IlluminaRun) Name() string { return baseName(r.dir) }
func (r *IlluminaRun) isRun()       {}

// Collect implements Run.
func (r *IlluminaRun) Collect(_ context.Context) (*Evidence, error) {
	ev := &Evidence{
		RunID:       r.Name(),
		Brand:       BrandIllumina,
		Observation: r.observe(),
	}
	tree, err := r.manifest()
	if err != nil {
		return ev, err
	}
	ev.Tree = tree
	return ev, nil
}

// IlluminaObservation is the filesystem snapshot of an Illumina run.
type IlluminaObservation struct {
	InNosync     bool
	HasDemuxDir  bool
	HasUnaligned bool
	RTAComplete  bool
}

func (IlluminaObservation) isObservation() {}

// Classify implements Observation. Checks apply in fixed priority order.
func (o IlluminaObservation) Classify() status.Status {
	switch {
	case o.InNosync:
		return status.New
	case o.HasDemuxDir || o.HasUnaligned:
		return status.Demultiplexing
	case !o.RTAComplete:
		return status.Sequencing
	default:
		// Sequencing finished but nothing has picked the run up. Should not
		// happen in a well-formed run; surfaced rather than hidden.
		return status.Error
	}
}

func (r *IlluminaRun) observe() IlluminaObservation {
	return IlluminaObservation{
		InNosync:     strings.Contains(r.dir, "nosync"),
		HasDemuxDir:  exists(filepath.Join(r.dir, illuminaDemuxDir)),
		HasUnaligned: globAny(r.dir, "Unaligned_*"),
		RTAComplete:  exists(filepath.Join(r.dir, illuminaRTAComplete)),
	}
}

// runNameParts holds what the run directory name encodes.
type runNameParts struct {
	flowcell string
	year     string
}

// parseIlluminaRunName extracts the flowcell id and run year from a run
// directory name such as 190201_A00621_0032_BHHFCFDSXX or
// 20231117_LH00202_0032_A22FCNJLT3.
func parseIlluminaRunName(name string) (runNameParts, error) {
	fields := strings.Split(name, "_")
	if len(fields) < 4 {
		return runNameParts{}, fmt.Errorf("run name %q has too few fields", name)
	}

	var year string
	switch date := fields[0]; len(date) {
	case 6:
		year = "20" + date[0:2]
	case 8:
		year = date[0:4]
	default:
		return runNameParts{}, fmt.Errorf("run name %q has unexpected date %q", name, date)
	}

	// NextSeq 2000 (VH) flowcell ids carry no side prefix.
	flowcell := fields[3]
	if !strings.Contains(fields[1], "VH") && len(flowcell) > 1 {
		flowcell = flowcell[1:]
	}
	return runNameParts{flowcell: flowcell, year: year}, nil
}

func (r *IlluminaRun) manifest() (*statustree.Tree, error) {
	name := r.Name()

	parts, err := parseIlluminaRunName(name)
	if err != nil {
		return nil, malformed(BrandIllumina, "run_name", name, "", err)
	}

	rpPath, ok := findRunParameters(r.dir)
	if !ok {
		return nil, missing(BrandIllumina, "run_parameters", name, r.dir,
			fmt.Errorf("no %s", strings.Join(runParametersNames, " or ")))
	}
	rpBytes, err := os.ReadFile(rpPath)
	if err != nil {
		return nil, missing(BrandIllumina, "run_parameters", name, rpPath, err)
	}
	rt, err := runType(rpBytes)
	if err != nil {
		return nil, malformed(BrandIllumina, "run_parameters", name, rpPath, err)
	}
	seq, err := sequencerFor(rt)
	if err != nil {
		return nil, missing(BrandIllumina, "run_parameters", name, rpPath, err)
	}

	ssPath, err := r.samplesheetPath(seq, parts)
	if err != nil {
		return nil, missing(BrandIllumina, "samplesheet", name, ssPath, err)
	}
	ssBytes, err := os.ReadFile(ssPath)
	if err != nil {
		return nil, missing(BrandIllumina, "samplesheet", name, ssPath, err)
	}
	ss, err := ParseSamplesheet(ssBytes)
	if err != nil {
		return nil, malformed(BrandIllumina, "samplesheet", name, ssPath, err)
	}

	miseq := seq == SequencerMiSeq
	if miseq && !ss.DescribesPlatformRun() {
		return nil, malformed(BrandIllumina, "samplesheet", name, ssPath,
			fmt.Errorf("run not labelled as production or application"))
	}

	tree := statustree.Build(parts.flowcell, illuminaRows(ss, miseq))
	if tree.Empty() {
		return nil, malformed(BrandIllumina, "samplesheet", name, ssPath,
			fmt.Errorf("no sample rows matched"))
	}
	return tree, nil
}

func (r *IlluminaRun) samplesheetPath(seq Sequencer, parts runNameParts) (string, error) {
	if seq == SequencerMiSeq {
		candidates := []string{
			filepath.Join(r.dir, "Data", "Intensities", "BaseCalls", "SampleSheet.csv"),
			filepath.Join(r.dir, "SampleSheet.csv"),
		}
		for _, c := range candidates {
			if exists(c) {
				return c, nil
			}
		}
		return candidates[len(candidates)-1], os.ErrNotExist
	}

	base := r.samplesheets.dirFor(seq)
	if base == "" {
		return "", fmt.Errorf("no samplesheet directory configured for %s", seq)
	}
	p := filepath.Join(base, parts.year, parts.flowcell+".csv")
	if !exists(p) {
		return p, os.ErrNotExist
	}
	return p, nil
}

// illuminaRows scans every cell of every data row for a sample id and a lane.
// Column names vary across sheet generations, so cells are matched by shape.
func illuminaRows(ss *Samplesheet, miseq bool) []statustree.Row {
	pattern := sampleProjectPattern
	if miseq {
		pattern = miseqSampleProjectPattern
	}

	var rows []statustree.Row
	for _, rec := range ss.Rows {
		var sample, project, lane, well string
		for _, cell := range rec {
			if m := pattern.FindStringSubmatch(cell); m != nil {
				sample, project = m[1], m[2]
				continue
			}
			if miseq {
				continue
			}
			if m := lanePattern.FindStringSubmatch(cell); m != nil {
				lane = m[1]
			} else if wellPattern.MatchString(cell) {
				well = cell
			}
		}
		if miseq {
			lane = "1"
		} else if lane == "" && well != "" {
			lane = "1"
		}
		if sample == "" || lane == "" {
			continue
		}
		rows = append(rows, statustree.Row{Lane: lane, Sample: sample, Project: project})
	}
	return rows
}
