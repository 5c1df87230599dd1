//go:build unix

package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Acquire takes an exclusive advisory lock on path. The kernel drops the
// lock when the process exits, so a crashed server never leaves a stale one.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, &ErrLockActive{Path: path, Holder: readContent(path)}
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	if err := writeContent(f); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &Lock{path: path, file: f}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return ErrNotHeld
	}
	defer func() { l.file = nil }()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.file.Close()
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to unlock: %w", err)
	}
	return l.file.Close()
}
