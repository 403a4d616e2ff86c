// Package guard enforces that at most one orchestrated check runs at a
// time. The lock is a marker file created with O_EXCL holding the owner's
// identity and a UTC acquisition timestamp, so a crashed run's lock can be
// recognized by age and reclaimed.
package guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrBusy means a live lock is held by another run. It is a no-op exit for
// the caller, not an error condition to alarm on.
var ErrBusy = errors.New("another check run holds the lock")

type lockInfo struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Guard is a held run lock. Release it when the run finishes; releasing is
// ownership-checked, so a guard whose lock was since reclaimed by a newer
// run will not remove the newer run's marker.
type Guard struct {
	path      string
	owner     string
	reclaimed bool
}

// Acquire takes the run lock at path for owner. A live lock younger than
// staleness yields ErrBusy. A lock older than staleness is presumed to
// belong to a crashed run and is forcibly reclaimed; Reclaimed() reports
// this so the caller can emit a warning. An unreadable or partial marker is
// treated as contested, never as free.
func Acquire(path, owner string, staleness time.Duration) (*Guard, error) {
	if owner == "" {
		return nil, fmt.Errorf("guard: owner must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("guard: create lock dir: %w", err)
	}

	g := &Guard{path: path, owner: owner}
	err := g.create()
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("guard: create lock: %w", err)
	}

	// A marker exists. Only a readable marker older than the staleness
	// threshold may be reclaimed.
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			// Raced with a release; one retry.
			if err := g.create(); err != nil {
				return nil, ErrBusy
			}
			return g, nil
		}
		return nil, ErrBusy
	}

	if !stale(data, staleness) {
		return nil, ErrBusy
	}

	// Stale lock from a presumed-crashed run. Reclaiming must not race:
	// Mkdir elects exactly one reclaimer, and only the winner may remove
	// the marker, after re-validating it under the election. Everyone else
	// is Busy.
	election := path + ".reclaim"
	if err := os.Mkdir(election, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			// A reclaim is in flight. One abandoned by a crash ages out so
			// a later run can retry.
			if fi, statErr := os.Stat(election); statErr == nil && time.Since(fi.ModTime()) >= staleness {
				_ = os.Remove(election)
			}
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("guard: reclaim election: %w", err)
	}
	defer os.Remove(election)

	// The marker may have been replaced since the first read; only one
	// still past the staleness threshold may be discarded.
	data, readErr = os.ReadFile(path)
	if readErr != nil || !stale(data, staleness) {
		return nil, ErrBusy
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("guard: reclaim stale lock: %w", err)
	}
	if err := g.create(); err != nil {
		return nil, ErrBusy
	}
	g.reclaimed = true
	return g, nil
}

// stale reports whether data is a well-formed marker older than the
// staleness threshold. Partial or garbled markers are never stale: an
// unreadable lock is contested, not free.
func stale(data []byte, staleness time.Duration) bool {
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil || info.AcquiredAt.IsZero() {
		return false
	}
	return time.Since(info.AcquiredAt) >= staleness
}

func (g *Guard) create() error {
	f, err := os.OpenFile(g.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	info := lockInfo{Owner: g.owner, AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(info)
	if err == nil {
		_, err = f.Write(data)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(g.path)
		return fmt.Errorf("write lock marker: %w", err)
	}
	return nil
}

// Reclaimed reports whether acquiring forcibly took over a stale lock.
func (g *Guard) Reclaimed() bool { return g.reclaimed }

// Owner returns the identity the lock was acquired under.
func (g *Guard) Owner() string { return g.owner }

// Release removes the lock marker if it still belongs to this guard's
// owner. A marker owned by someone else (reclaimed since) is left alone.
func (g *Guard) Release() error {
	data, err := os.ReadFile(g.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("guard: read lock for release: %w", err)
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err == nil && info.Owner != g.owner {
		return nil
	}
	if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("guard: remove lock: %w", err)
	}
	return nil
}
