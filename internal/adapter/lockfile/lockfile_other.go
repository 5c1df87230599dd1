//go:build !unix

package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Acquire creates path exclusively. Without flock a crashed process leaves
// the file behind and it has to be removed by hand.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, &ErrLockActive{Path: path, Holder: readContent(path)}
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	if err := writeContent(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &Lock{path: path, file: f}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return ErrNotHeld
	}
	f := l.file
	l.file = nil
	f.Close()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
