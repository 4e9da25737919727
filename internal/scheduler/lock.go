//go:build !windows

package scheduler

import (
	"os"
	"syscall"
)

// RunLock is the cross-process guard around a check pass: two replydesk
// instances pointed at the same home directory must not evaluate the same
// conversations twice. Backed by flock(2), so a crashed holder releases it
// automatically.
type RunLock struct {
	path string
	f    *os.File
}

// NewRunLock creates a RunLock on the given path.
func NewRunLock(path string) *RunLock {
	return &RunLock{path: path}
}

// TryLock acquires the lock without blocking. Returns false when another
// process already holds it.
func (l *RunLock) TryLock() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, err
	}

	l.f = f
	return true, nil
}

// Unlock releases the lock and removes the lock file.
func (l *RunLock) Unlock() error {
	if l.f == nil {
		return nil
	}
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	name := l.f.Name()
	l.f.Close()
	l.f = nil
	os.Remove(name)
	return nil
}
