//go:build windows

package scheduler

import (
	"errors"
	"os"
)

// RunLock is the cross-process guard around a check pass. Windows has no
// flock(2), so the lock is the atomic creation of the lock file itself;
// a stale file from a crashed holder must be removed by hand.
type RunLock struct {
	path   string
	locked bool
}

// NewRunLock creates a RunLock on the given path.
func NewRunLock(path string) *RunLock {
	return &RunLock{path: path}
}

// TryLock acquires the lock without blocking. Returns false when another
// process already holds it.
func (l *RunLock) TryLock() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return false, err
	}
	l.locked = true
	return true, nil
}

// Unlock releases the lock and removes the lock file.
func (l *RunLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	l.locked = false
	return nil
}
