package position

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SnapshotVersion is the on-disk schema version the store writes and the
// only version it accepts. Unknown versions fail closed.
const SnapshotVersion = 1

// Snapshot is the full set of position records, loaded and saved as one
// atomic unit. There are no partial loads.
type Snapshot struct {
	Version   int         `json:"version"`
	Positions []*Position `json:"positions"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{Version: SnapshotVersion}
}

// Open returns every position still participating in risk budgets.
func (s *Snapshot) Open() []*Position {
	var out []*Position
	for _, p := range s.Positions {
		if p.Status.Live() {
			out = append(out, p)
		}
	}
	return out
}

// Find returns the position with the given id, or nil.
func (s *Snapshot) Find(id string) *Position {
	for _, p := range s.Positions {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// OpenFor returns the live position for (symbol, system), or nil. The
// engine holds at most one per pair.
func (s *Snapshot) OpenFor(symbol string, system int) *Position {
	for _, p := range s.Positions {
		if p.Status.Live() && p.Symbol == symbol && p.System == system {
			return p
		}
	}
	return nil
}

// Validate checks schema invariants across all records.
func (s *Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	seen := make(map[string]bool, len(s.Positions))
	for _, p := range s.Positions {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate position id %s", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// CorruptError means the persisted snapshot cannot be parsed or violates
// schema invariants. The run must abort before any mutation; the store
// never silently drops records.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt position snapshot %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store persists the snapshot as a single JSON file. Every save is atomic
// (temp file + rename) and preceded by a dated backup of the previous file.
type Store struct {
	path       string
	maxBackups int
	now        func() time.Time
}

func NewStore(path string) *Store {
	return &Store{path: path, maxBackups: 7, now: time.Now}
}

func (s *Store) Path() string { return s.path }

// Load reads and validates the snapshot. A missing file yields an empty
// snapshot; anything unreadable or invalid yields *CorruptError.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, &CorruptError{Path: s.path, Err: err}
	}
	if err := snap.Validate(); err != nil {
		return nil, &CorruptError{Path: s.path, Err: err}
	}
	return snap, nil
}

// Save writes the snapshot atomically. A crash mid-write never leaves a
// half-written file: the data lands in a temp file first and replaces the
// snapshot with a rename.
func (s *Store) Save(snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid snapshot: %w", err)
	}
	if err := s.backup(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// backup copies the current snapshot into backups/ with a date suffix,
// keeping at most maxBackups files for rollback.
func (s *Store) backup() error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	dir := filepath.Join(filepath.Dir(s.path), "backups")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	base := filepath.Base(s.path)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	name := fmt.Sprintf("%s_%s%s", stem, s.now().UTC().Format("20060102"), ext)
	dst := filepath.Join(dir, name)

	// One backup per day is enough for rollback.
	if _, err := os.Stat(dst); err == nil {
		return s.pruneBackups(dir, stem, ext)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read snapshot for backup: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return s.pruneBackups(dir, stem, ext)
}

func (s *Store) pruneBackups(dir, stem, ext string) error {
	matches, err := filepath.Glob(filepath.Join(dir, stem+"_*"+ext))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for len(matches) > s.maxBackups {
		if err := os.Remove(matches[0]); err != nil {
			return fmt.Errorf("prune backup: %w", err)
		}
		matches = matches[1:]
	}
	return nil
}
