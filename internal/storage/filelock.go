package storage

import (
	"errors"
	"fmt"
	"os"
)

// FileLock is an exclusive advisory lock held on a sidecar file.
type FileLock struct {
	file *os.File
}

// Lock blocks until it holds the lock for path. The lock file is path with a
// ".lock" suffix.
func Lock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}
	return &FileLock{file: f}, nil
}

// Unlock releases the lock, leaving the lock file in place. It is safe to call
// on a nil *FileLock and more than once.
func (l *FileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	return errors.Join(unlockFile(f), f.Close())
}
