package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// systemDirs are never accepted as a store root.
var systemDirs = []string{"/", "/etc", "/var", "/usr", "/bin", "/sbin", "/home", "/root", "/boot", "/proc", "/sys", "/dev"}

// Local keeps artifacts as files below one directory.
type Local struct {
	fs  afero.Fs
	dir string
}

func NewLocal(fs afero.Fs, dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	for _, d := range systemDirs {
		if abs == d {
			return nil, fmt.Errorf("refusing to use system directory %s for backups", abs)
		}
	}
	if err := fs.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Local{fs: fs, dir: abs}, nil
}

func (l *Local) Dir() string {
	return l.dir
}

func (l *Local) resolve(location string) (string, error) {
	path := filepath.Clean(location)
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, path)
	}
	if path != l.dir && !strings.HasPrefix(path, l.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("location %s is outside of %s", location, l.dir)
	}
	return path, nil
}

// Put writes r to a temp file next to the target and renames it into place,
// so a partial artifact never shows up under its final name.
func (l *Local) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	path, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := l.fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := afero.TempFile(l.fs, filepath.Dir(path), ".snapkeep-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		l.fs.Remove(tmpPath)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		l.fs.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := l.fs.Rename(tmpPath, path); err != nil {
		l.fs.Remove(tmpPath)
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return path, nil
}

// Delete removes the file at location. A missing file is not an error.
func (l *Local) Delete(_ context.Context, location string) error {
	path, err := l.resolve(location)
	if err != nil {
		return err
	}
	if err := l.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
