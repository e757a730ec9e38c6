// Package evidence discovers sequencing run directories and turns what they
// contain into two things: a sample manifest tree and a status observation.
//
// Each instrument brand (Illumina, Element, ONT) is a closed variant of Run.
// The variant is chosen once, at discovery time, from the run directory name.
// Collection performs all filesystem and database I/O; classification of the
// resulting Observation is a pure function.
package evidence

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/flowstatus/pkg/status"
	"github.com/3leaps/flowstatus/pkg/statustree"
)

// Brand identifies the instrument family of a run.
//
// NOTE: these values are persisted as instrument_type on status records.
type Brand string

const (
	BrandIllumina Brand = "illumina"
	BrandElement  Brand = "element"
	BrandONT      Brand = "ont"
)

// Brands lists all supported brands in pass order.
var Brands = []Brand{BrandIllumina, BrandElement, BrandONT}

// Run directory name patterns, one per brand.
var (
	// 6-8 digits, instrument id (optionally ST- prefixed), run number, flowcell
	// (optionally A/B side prefixed). Prefix match.
	illuminaRunPattern = regexp.MustCompile(`^\d{6,8}_[ST-]*\w+\d+_\d+_[AB]?[A-Z0-9\-]+`)
	elementRunPattern  = regexp.MustCompile(`^\d{8}_AV\d+_[A-Za-z0-9_-]+$`)
	ontRunPattern      = regexp.MustCompile(`^\d{8}_\d{4}_[0-9A-Za-z]+_[0-9A-Za-z]+_[0-9A-Za-z]+$`)
)

// MatchesBrand reports whether a run directory name follows brand's naming
// convention.
func MatchesBrand(b Brand, name string) bool {
	switch b {
	case BrandIllumina:
		return illuminaRunPattern.MatchString(name)
	case BrandElement:
		return elementRunPattern.MatchString(name)
	case BrandONT:
		return ontRunPattern.MatchString(name)
	default:
		return false
	}
}

// Run is a discovered run directory of a specific brand.
type Run interface {
	// Brand returns the instrument brand.
	Brand() Brand

	// Dir returns the absolute run directory path.
	Dir() string

	// Name returns the run directory name.
	Name() string

	// Collect gathers the run identifier, status observation and manifest tree.
	//
	// Errors wrapping ErrManifestMissing or ErrManifestMalformed are recoverable
	// and still carry the partial Evidence (identifier and observation).
	// ErrNotReady means the run cannot be identified yet and should be skipped
	// quietly.
	Collect(ctx context.Context) (*Evidence, error)

	isRun()
}

// Evidence is everything a pass needs to reconcile one run.
type Evidence struct {
	// RunID is the run identifier persisted on status records.
	RunID string

	Brand Brand

	// Observation is the filesystem snapshot the status is classified from.
	Observation Observation

	// Tree is the manifest aggregated to flowcell/lane/sample/project.
	Tree *statustree.Tree
}

// Status classifies the evidence observation.
func (e *Evidence) Status() status.Status {
	if e == nil || e.Observation == nil {
		return status.Error
	}
	return e.Observation.Classify()
}

// Observation is a brand-specific, immutable snapshot of run state.
type Observation interface {
	// Classify maps the snapshot to a Status. It performs no I/O.
	Classify() status.Status

	isObservation()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

// globAny reports whether any entry of dir matches one of the patterns.
func globAny(dir string, patterns ...string) bool {
	fsys := os.DirFS(dir)
	for _, p := range patterns {
		matches, err := doublestar.Glob(fsys, p)
		if err == nil && len(matches) > 0 {
			return true
		}
	}
	return false
}

func baseName(dir string) string {
	return filepath.Base(filepath.Clean(dir))
}
