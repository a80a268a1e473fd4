package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"codegraph/internal/logging"
	"codegraph/internal/types"
)

// tmpPrefix marks in-flight writes. CleanupOrphans removes leftovers from
// crashed processes at cache open.
const tmpPrefix = ".tmp_"

// WriteOptions controls AtomicWrite behavior.
type WriteOptions struct {
	// Fsync flushes file contents to stable storage before the rename.
	Fsync bool
	// AdvisoryLock takes an exclusive flock on the temp file during the
	// write when the OS supports it. Lock failures are non-fatal.
	AdvisoryLock bool
}

// AtomicWrite writes data to path using the temp-file + rename pattern: a
// crash at any point leaves either the old contents or the new contents,
// never a partial file. The temp file is created in the same directory so the
// rename stays on one filesystem.
func AtomicWrite(path string, data []byte, opts WriteOptions) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return classifyWriteErr(path, err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+filepath.Base(path)+".")
	if err != nil {
		return classifyWriteErr(path, err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if opts.AdvisoryLock {
		// Best effort: not every filesystem supports flock.
		if err := syscall.Flock(int(tmp.Fd()), syscall.LOCK_EX); err != nil {
			logging.CacheDebug("AtomicWrite: flock unavailable for %s: %v", tmpName, err)
		}
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return classifyWriteErr(path, err)
	}
	if opts.Fsync {
		if err := tmp.Sync(); err != nil {
			cleanup()
			return classifyWriteErr(path, err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return classifyWriteErr(path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return classifyWriteErr(path, err)
	}
	return nil
}

// classifyWriteErr maps OS errors onto the cache sentinels.
func classifyWriteErr(path string, err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%w: writing %s: %v", types.ErrCacheDiskFull, path, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: writing %s: %v", types.ErrCachePermission, path, err)
	default:
		return fmt.Errorf("cache write %s: %w", path, err)
	}
}

// Validator checks freshly read bytes. Returning an error marks the file
// corrupt; corruption is terminal and never retried.
type Validator func([]byte) error

// ReadWithRetry reads path, retrying transient failures (missing file,
// permission, short read races with a concurrent writer) with a fixed
// backoff. A validator failure returns ErrCacheCorrupt immediately.
func ReadWithRetry(path string, maxRetries int, backoff time.Duration, validator Validator) ([]byte, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		if validator != nil {
			if verr := validator(data); verr != nil {
				return nil, fmt.Errorf("%w: %s: %v", types.ErrCacheCorrupt, path, verr)
			}
		}
		return data, nil
	}
	if os.IsNotExist(lastErr) {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, path)
	}
	return nil, fmt.Errorf("cache read %s after %d attempts: %w", path, maxRetries, lastErr)
}

// CleanupOrphans deletes temp files left behind by crashed writers. Returns
// the number of files removed.
func CleanupOrphans(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		logging.Cache("CleanupOrphans: removed %d stale temp files from %s", removed, dir)
	}
	return removed
}
