// Package dirlock enforces caskdb's single-writer-per-directory rule with
// an OS advisory lock, so a second Open against a directory already owned
// by this or another process fails fast instead of corrupting the log.
package dirlock

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Filename is the lock marker's fixed name within a database directory.
const Filename = ".caskdb.lock"

// Lock wraps an exclusive, non-blocking advisory lock on a directory's
// lock marker file.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes an exclusive lock on dir's lock marker, creating the
// marker file if needed. It returns ok=false (with no error) if another
// process already holds it, so callers can report the distinguished
// "directory is locked" condition rather than a generic I/O failure.
func Acquire(dir string) (lock *Lock, ok bool, err error) {
	path := filepath.Join(dir, Filename)
	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %q: %w", path, err)
	}
	if !locked {
		return nil, false, nil
	}

	return &Lock{fl: fl}, true, nil
}

// Release unlocks the directory. It is safe to call on a nil *Lock (a
// no-op), which simplifies cleanup paths that may run before a lock was
// ever acquired.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %q: %w", l.fl.Path(), err)
	}
	return nil
}
