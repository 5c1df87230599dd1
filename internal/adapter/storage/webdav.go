package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/studio-b12/gowebdav"
)

type WebDAVOptions struct {
	URL      string
	Username string
	Password string
	Dir      string
}

const webdavScheme = "webdav:"

// WebDAV keeps artifacts on a WebDAV share. Locations have the form
// webdav:/dir/key.
type WebDAV struct {
	client *gowebdav.Client
	dir    string
}

func NewWebDAV(opts WebDAVOptions) (*WebDAV, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("webdav url is required")
	}
	dir := "/" + strings.Trim(opts.Dir, "/")
	return &WebDAV{
		client: gowebdav.NewClient(opts.URL, opts.Username, opts.Password),
		dir:    dir,
	}, nil
}

func (w *WebDAV) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	target := path.Join(w.dir, key)
	if err := w.client.MkdirAll(path.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("webdav mkdir failed: %w", err)
	}
	if err := w.client.WriteStream(target, contextReader{ctx: ctx, r: r}, 0o644); err != nil {
		return "", fmt.Errorf("webdav upload failed: %w", err)
	}
	return webdavScheme + target, nil
}

// Delete removes the file. A missing file is not an error.
func (w *WebDAV) Delete(_ context.Context, location string) error {
	target, ok := strings.CutPrefix(location, webdavScheme)
	if !ok {
		return fmt.Errorf("not a webdav location: %s", location)
	}
	if err := w.client.Remove(target); err != nil && !gowebdav.IsErrNotFound(err) {
		return fmt.Errorf("webdav delete failed: %w", err)
	}
	return nil
}
