package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.ex")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAcquireCreatesSnapshot(t *testing.T) {
	path := writeTemp(t, "original content")
	m := &Manager{}

	h, err := m.Acquire(path)
	require.NoError(t, err)

	data, err := os.ReadFile(h.BackupPath())
	require.NoError(t, err)
	assert.Equal(t, "original content", string(data))
	assert.Equal(t, path+Suffix, h.BackupPath())
}

func TestAcquireConflict(t *testing.T) {
	path := writeTemp(t, "original")
	m := &Manager{}

	_, err := m.Acquire(path)
	require.NoError(t, err)

	// A live snapshot means an earlier run never resolved; refuse.
	_, err = m.Acquire(path)
	require.ErrorIs(t, err, ErrConflict)
}

func TestAcquireMissingFile(t *testing.T) {
	m := &Manager{}
	_, err := m.Acquire(filepath.Join(t.TempDir(), "nope.ex"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrConflict)
}

func TestReleaseRemovesSnapshot(t *testing.T) {
	path := writeTemp(t, "original")
	m := &Manager{}

	h, err := m.Acquire(path)
	require.NoError(t, err)
	require.NoError(t, h.Release())

	_, err = os.Stat(h.BackupPath())
	assert.True(t, os.IsNotExist(err))

	// Idempotent after resolution.
	require.NoError(t, h.Release())
}

func TestRestoreRewritesOriginalBytes(t *testing.T) {
	path := writeTemp(t, "original")
	m := &Manager{}

	h, err := m.Acquire(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("mutated"), 0o644))
	require.NoError(t, h.Restore())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	// Snapshot consumed by the restore.
	_, err = os.Stat(h.BackupPath())
	assert.True(t, os.IsNotExist(err))

	// A new acquisition is allowed once the snapshot is gone.
	_, err = m.Acquire(path)
	require.NoError(t, err)
}

func TestRestoreFailureIsTyped(t *testing.T) {
	path := writeTemp(t, "original")
	m := &Manager{}

	h, err := m.Acquire(path)
	require.NoError(t, err)

	// Delete the snapshot out from under the handle.
	require.NoError(t, os.Remove(h.BackupPath()))

	err = h.Restore()
	require.Error(t, err)

	var rerr *RestoreError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, path, rerr.Path)
}
