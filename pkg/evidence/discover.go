package evidence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

const (
	nosyncDir   = "nosync"
	archivedDir = "archived"
)

// Config configures run discovery and evidence collection.
type Config struct {
	// DataDirs lists the data roots per brand.
	DataDirs map[Brand][]string

	// Exclude lists doublestar patterns matched against run directory names.
	Exclude []string

	// Samplesheets locates external Illumina samplesheets.
	Samplesheets SamplesheetDirs

	// ElementTransferLog lists already transferred Element run ids.
	ElementTransferLog string
}

// Collector discovers run directories and builds the brand variant for each.
type Collector struct {
	cfg  Config
	lims LIMSSource
	log  *zap.Logger
}

// NewCollector returns a Collector. lims may be nil when no ONT roots are
// configured.
func NewCollector(cfg Config, lims LIMSSource, log *zap.Logger) (*Collector, error) {
	for _, p := range cfg.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{cfg: cfg, lims: lims, log: log}, nil
}

// Discover lists the runs of brand under every configured root, sorted by
// directory name. Runs under a root's nosync child are included; nosync's
// archived child is not. Missing roots are skipped with a warning.
//
// A run name is reported once. A run caught mid-move, present both in a
// root and in its nosync child, is reported from nosync.
func (c *Collector) Discover(ctx context.Context, brand Brand) ([]Run, error) {
	var runs []Run
	seen := map[string]int{}
	for _, root := range c.cfg.DataDirs[brand] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, dir := range []string{root, filepath.Join(root, nosyncDir)} {
			found, err := c.scan(brand, dir)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					c.log.Warn("data root not found", zap.String("brand", string(brand)), zap.String("dir", dir))
					continue
				}
				return nil, fmt.Errorf("scan %s: %w", dir, err)
			}
			for _, r := range found {
				i, dup := seen[r.Name()]
				if !dup {
					seen[r.Name()] = len(runs)
					runs = append(runs, r)
					continue
				}
				c.log.Debug("run found twice", zap.String("run", r.Name()),
					zap.String("dir", r.Dir()), zap.String("other", runs[i].Dir()))
				if inNosync(r.Dir()) && !inNosync(runs[i].Dir()) {
					runs[i] = r
				}
			}
		}
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Name() < runs[j].Name() })
	return runs, nil
}

func inNosync(dir string) bool {
	return filepath.Base(filepath.Dir(dir)) == nosyncDir
}

func (c *Collector) scan(brand Brand, dir string) ([]Run, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var runs []Run
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || name == nosyncDir || name == archivedDir {
			continue
		}
		if !MatchesBrand(brand, name) || c.excluded(name) {
			continue
		}
		runs = append(runs, c.NewRun(brand, filepath.Join(dir, name)))
	}
	return runs, nil
}

func (c *Collector) excluded(name string) bool {
	for _, p := range c.cfg.Exclude {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// NewRun builds the brand variant for a run directory.
func (c *Collector) NewRun(brand Brand, dir string) Run {
	switch brand {
	case BrandElement:
		return NewElementRun(dir, c.cfg.ElementTransferLog)
	case BrandONT:
		return NewONTRun(dir, c.lims)
	default:
		return NewIlluminaRun(dir, c.cfg.Samplesheets)
	}
}
