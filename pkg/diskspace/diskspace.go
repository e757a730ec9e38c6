// Package diskspace reports file system usage of run data roots and the
// mounts they are copied to.
package diskspace

import (
	"fmt"
	"sort"

	"golang.org/x/sys/unix"
)

// Usage is the usage of the file system holding Path.
type Usage struct {
	Path       string  `json:"path"`
	TotalBytes uint64  `json:"total_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	UsedBytes  uint64  `json:"used_bytes"`
	Percent    float64 `json:"used_percent"`
	Error      string  `json:"error,omitempty"`
}

// Over reports whether usage is at or above percent. Unreadable paths are
// never over.
func (u Usage) Over(percent int) bool {
	return u.Error == "" && percent > 0 && u.Percent >= float64(percent)
}

// Stat reads the usage of the file system holding path. Free space is what
// an unprivileged writer can use, as df reports it.
func Stat(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize) // #nosec G115 -- block size is positive
	total := st.Blocks * bsize
	free := st.Bavail * bsize
	used := (st.Blocks - st.Bfree) * bsize

	u := Usage{Path: path, TotalBytes: total, FreeBytes: free, UsedBytes: used}
	if avail := used + free; avail > 0 {
		u.Percent = float64(used) * 100 / float64(avail)
	}
	return u, nil
}

// Check stats every distinct path, sorted by path. A path that cannot be read
// is reported with Error set.
func Check(paths []string) []Usage {
	seen := map[string]bool{}
	var out []Usage
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		u, err := Stat(p)
		if err != nil {
			u = Usage{Path: p, Error: err.Error()}
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
