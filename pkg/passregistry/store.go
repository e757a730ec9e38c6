package passregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Store persists and loads PassRecords.
//
// Directory layout:
//
//	<root>/<pass_id>/pass.json
//	<root>/<pass_id>/report.jsonl (optional)
type Store struct {
	root string
	now  func() time.Time
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root), now: time.Now}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) PassDir(passID string) string {
	return filepath.Join(s.root, passID)
}

func (s *Store) PassPath(passID string) string {
	return filepath.Join(s.PassDir(passID), "pass.json")
}

// ReportPath is where a pass's JSONL report goes by default.
func (s *Store) ReportPath(passID string) string {
	return filepath.Join(s.PassDir(passID), "report.jsonl")
}

func (s *Store) ensureRoot() error {
	if s.root == "" {
		return fmt.Errorf("pass registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Write replaces pass.json via a temp file and rename.
func (s *Store) Write(record *PassRecord) error {
	if record == nil {
		return fmt.Errorf("pass record is nil")
	}
	passID := strings.TrimSpace(record.PassID)
	if passID == "" {
		return fmt.Errorf("pass_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	dir := s.PassDir(passID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create pass dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pass record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "pass.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp pass file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp pass file: %w", err)
	}
	if err := os.Rename(tmpName, s.PassPath(passID)); err != nil {
		return fmt.Errorf("rename pass file: %w", err)
	}
	return nil
}

// Get loads a pass. A running pass whose process no longer exists is
// reported, and rewritten, as unknown.
func (s *Store) Get(passID string) (*PassRecord, error) {
	passID = strings.TrimSpace(passID)
	if passID == "" {
		return nil, fmt.Errorf("pass_id is required")
	}
	b, err := os.ReadFile(s.PassPath(passID))
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("pass.json is empty")
	}

	var record PassRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse pass.json: %w", err)
	}

	if record.State == PassStateRunning && record.PID > 0 && !isProcessAlive(record.PID) {
		record.State = PassStateUnknown
		ended := s.now().UTC()
		record.EndedAt = &ended
		_ = s.Write(&record)
	}
	return &record, nil
}

// List returns all readable passes, newest first. Unreadable entries are
// skipped.
func (s *Store) List() ([]PassRecord, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read passes root: %w", err)
	}

	out := make([]PassRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Prune removes terminal passes beyond the newest keep. Running passes are
// never removed.
func (s *Store) Prune(keep int) (int, error) {
	passes, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for i, p := range passes {
		if i < keep || !p.State.Terminal() {
			continue
		}
		if err := os.RemoveAll(s.PassDir(p.PassID)); err != nil {
			return removed, fmt.Errorf("remove pass %s: %w", p.PassID, err)
		}
		removed++
	}
	return removed, nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks for existence without delivering anything.
	return p.Signal(syscall.Signal(0)) == nil
}
