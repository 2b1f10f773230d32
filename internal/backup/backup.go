// Package backup provides scoped snapshots of files about to be mutated.
//
// A snapshot is a sibling file holding the original bytes. Its existence on
// disk is the ground truth for "this file is in an unverified mutated state":
// it is created before the first write and removed only by Release (after
// verification succeeds) or Restore (on any failure path). At most one live
// snapshot exists per file at a time.
package backup

import (
	"errors"
	"fmt"
	"os"
)

// Suffix is appended to the target path to form the snapshot path.
const Suffix = ".retrofit.bak"

// ErrConflict is returned by Acquire when a snapshot already exists for the
// path. That means an earlier run was interrupted between write and
// verification; the engine refuses to guess and leaves both files for manual
// intervention.
var ErrConflict = errors.New("backup already exists")

// RestoreError wraps a failed restore. A file may be left in a broken
// intermediate state; callers must surface this loudly and stop.
type RestoreError struct {
	Path string
	Err  error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restoring %s: %v", e.Path, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// Manager creates snapshots. The zero value is ready to use.
type Manager struct{}

// BackupPath returns the snapshot path for a target path.
func (m *Manager) BackupPath(path string) string {
	return path + Suffix
}

// Acquire copies the current bytes of path to its snapshot location.
//
// Fails with ErrConflict if a snapshot already exists: nested or resumed
// patch attempts on the same file are a caller error, not something to
// auto-heal.
func (m *Manager) Acquire(path string) (*Handle, error) {
	backupPath := m.BackupPath(path)

	if _, err := os.Stat(backupPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrConflict, backupPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking for existing backup %s: %w", backupPath, err)
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := os.WriteFile(backupPath, original, 0o644); err != nil {
		return nil, fmt.Errorf("writing backup %s: %w", backupPath, err)
	}

	return &Handle{path: path, backupPath: backupPath}, nil
}

// Handle is a live snapshot. Exactly one of Release or Restore must be
// called; both are idempotent after the first resolution.
type Handle struct {
	path       string
	backupPath string
	resolved   bool
}

// BackupPath returns the on-disk location of the snapshot.
func (h *Handle) BackupPath() string { return h.backupPath }

// Release deletes the snapshot. Called only after verification succeeds;
// irrevocable, since afterwards the mutated content is the sole copy.
func (h *Handle) Release() error {
	if h.resolved {
		return nil
	}
	if err := os.Remove(h.backupPath); err != nil {
		return fmt.Errorf("removing backup %s: %w", h.backupPath, err)
	}
	h.resolved = true
	return nil
}

// Restore overwrites the target file with the snapshot bytes and deletes the
// snapshot. Called on every failure path after the target was written.
func (h *Handle) Restore() error {
	if h.resolved {
		return nil
	}

	original, err := os.ReadFile(h.backupPath)
	if err != nil {
		return &RestoreError{Path: h.path, Err: fmt.Errorf("reading backup %s: %w", h.backupPath, err)}
	}
	if err := os.WriteFile(h.path, original, 0o644); err != nil {
		return &RestoreError{Path: h.path, Err: err}
	}
	if err := os.Remove(h.backupPath); err != nil {
		return &RestoreError{Path: h.path, Err: fmt.Errorf("removing backup %s: %w", h.backupPath, err)}
	}

	h.resolved = true
	return nil
}
