// Package filelock serializes writers of task documents and replaces files
// atomically, so the state-root watcher sees one settled change per write.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockSuffix is appended to a document path to form its lock file. The
// watcher ignores files with this suffix.
const LockSuffix = ".lock"

// TempPattern names the temp files of AtomicWrite. The watcher ignores them.
const TempPattern = ".tmp-*"

// FileLock is an advisory lock shared with other processes that write the
// same document, e.g. the pipeline updating execution.json.
type FileLock struct {
	flock *flock.Flock
	path  string
}

// NewFileLock creates a lock backed by the file at path
func NewFileLock(path string) *FileLock {
	return &FileLock{
		flock: flock.New(path),
		path:  path,
	}
}

// Lock blocks until the exclusive lock is held
func (fl *FileLock) Lock() error {
	if err := fl.flock.Lock(); err != nil {
		return fmt.Errorf("acquire lock on %s: %w", fl.path, err)
	}
	return nil
}

// TryLock reports whether the lock was acquired without blocking
func (fl *FileLock) TryLock() (bool, error) {
	acquired, err := fl.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock on %s: %w", fl.path, err)
	}
	return acquired, nil
}

// Unlock releases the lock
func (fl *FileLock) Unlock() error {
	if err := fl.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock on %s: %w", fl.path, err)
	}
	return nil
}

// AtomicWrite replaces path with data through a temp file in the same
// directory and a rename. Readers see either the old or the new document,
// never a partial one. Missing parent directories are created.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, TempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}

	// renamed; nothing left to clean up
	tempFile = nil
	return nil
}

// LockAndWrite holds path+LockSuffix while atomically writing path.
// waited reports that another writer held the lock when the call started.
func LockAndWrite(path string, data []byte) (waited bool, err error) {
	lock := NewFileLock(path + LockSuffix)
	acquired, err := lock.TryLock()
	if err != nil {
		return false, err
	}
	if !acquired {
		waited = true
		if err := lock.Lock(); err != nil {
			return waited, err
		}
	}
	defer lock.Unlock()

	return waited, AtomicWrite(path, data)
}
