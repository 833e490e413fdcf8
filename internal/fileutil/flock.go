package fileutil

import (
	"fmt"
	"os"
	"syscall"
)

// Lock provides cross-process mutual exclusion using flock(2), so a daemon
// and a one-shot CLI invocation never interleave read-modify-write cycles on
// the same document.
type Lock struct {
	path string
	file *os.File
}

// NewLock returns an unlocked lock backed by the file at path.
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// Lock acquires an exclusive lock, blocking until available.
func (l *Lock) Lock() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	l.file = f
	return nil
}

// Unlock releases the lock and closes the lock file.
func (l *Lock) Unlock() error {
	if l.file == nil {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("funlock: %w", err)
	}
	return closeErr
}
