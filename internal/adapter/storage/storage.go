// Package storage holds the artifact stores a backup payload can be written
// to: a local directory, an S3 bucket or a WebDAV share.
package storage

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/martijn/snapkeep/internal/core/service"
	"github.com/martijn/snapkeep/pkg/config"
)

var (
	_ service.ArtifactStore = (*Local)(nil)
	_ service.ArtifactStore = (*S3)(nil)
	_ service.ArtifactStore = (*WebDAV)(nil)
)

// New builds the store selected by cfg.Kind.
func New(ctx context.Context, cfg config.StorageConfig) (service.ArtifactStore, error) {
	switch cfg.Kind {
	case "", "local":
		return NewLocal(afero.NewOsFs(), cfg.LocalDir)
	case "s3":
		return NewS3(ctx, S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
	case "webdav":
		return NewWebDAV(WebDAVOptions{
			URL:      cfg.WebDAV.URL,
			Username: cfg.WebDAV.Username,
			Password: cfg.WebDAV.Password,
			Dir:      cfg.WebDAV.Dir,
		})
	}
	return nil, fmt.Errorf("unsupported storage kind %q", cfg.Kind)
}
