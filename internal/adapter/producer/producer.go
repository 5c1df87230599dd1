// Package producer holds the artifact producers: a local tarball builder
// and a client for an external agent on a Unix socket.
package producer

import (
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/core/service"
	"github.com/martijn/snapkeep/pkg/config"
)

// New builds the producer selected by cfg.Kind. store receives archives
// built locally; the socket agent stores its own artifacts.
func New(cfg config.ProducerConfig, store service.ArtifactStore, logger *zap.Logger) (service.ArtifactProducer, error) {
	switch cfg.Kind {
	case "", "archive":
		if cfg.SourceDir == "" {
			return nil, fmt.Errorf("producer.source_dir is required for the archive producer")
		}
		return NewArchive(afero.NewOsFs(), cfg.SourceDir, Compression(cfg.Compression), store, logger), nil
	case "socket":
		return NewSocket(cfg.SocketPath, cfg.SocketTimeout), nil
	}
	return nil, fmt.Errorf("unsupported producer kind %q", cfg.Kind)
}
