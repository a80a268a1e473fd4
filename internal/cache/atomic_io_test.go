package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/types"
)

func TestAtomicWrite_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry.cgir")

	require.NoError(t, AtomicWrite(path, []byte("payload"), WriteOptions{Fsync: true}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	// Overwrite is atomic as well: the old file is replaced whole.
	require.NoError(t, AtomicWrite(path, []byte("v2"), WriteOptions{}))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestAtomicWrite_LeavesNoTempOnSuccess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AtomicWrite(filepath.Join(dir, "a"), []byte("x"), WriteOptions{AdvisoryLock: true}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Name())
}

func TestAtomicWrite_SimulatedCrashBeforeRename(t *testing.T) {
	// A temp file left behind by a crashed writer must not affect the target
	// and must be swept by CleanupOrphans.
	dir := t.TempDir()
	target := filepath.Join(dir, "entry.cgir")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0644))

	// Simulate the crash: in-flight temp file never renamed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, tmpPrefix+"entry.cgir.123"), []byte("partial"), 0644))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data, "target unchanged by crashed write")

	assert.Equal(t, 1, CleanupOrphans(dir))
	assert.Equal(t, 0, CleanupOrphans(dir), "second sweep finds nothing")
}

func TestReadWithRetry_Missing(t *testing.T) {
	_, err := ReadWithRetry(filepath.Join(t.TempDir(), "absent"), 2, time.Millisecond, nil)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestReadWithRetry_ValidatorCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0644))

	calls := 0
	_, err := ReadWithRetry(path, 5, time.Millisecond, func(b []byte) error {
		calls++
		return errors.New("not a cache file")
	})
	assert.True(t, errors.Is(err, types.ErrCacheCorrupt))
	assert.Equal(t, 1, calls, "corruption is not retried")
}

func TestReadWithRetry_OK(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "good")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	data, err := ReadWithRetry(path, 3, time.Millisecond, func(b []byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}
