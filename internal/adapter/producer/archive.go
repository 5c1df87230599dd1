package producer

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/service"
)

type Compression string

const (
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionNone Compression = "none"
)

func (c Compression) extension() string {
	switch c {
	case CompressionGzip:
		return ".tar.gz"
	case CompressionZstd:
		return ".tar.zst"
	}
	return ".tar"
}

const ioBufferSize = 256 * 1024

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Archive produces a tarball of a source directory and hands it to a store.
// Categories select top-level directories of the source; an empty list
// takes everything.
type Archive struct {
	fs          afero.Fs
	sourceDir   string
	compression Compression
	store       service.ArtifactStore
	logger      *zap.Logger
	now         func() time.Time
}

var _ service.ArtifactProducer = (*Archive)(nil)

func NewArchive(fs afero.Fs, sourceDir string, compression Compression, store service.ArtifactStore, logger *zap.Logger) *Archive {
	if compression == "" {
		compression = CompressionGzip
	}
	return &Archive{
		fs:          fs,
		sourceDir:   filepath.Clean(sourceDir),
		compression: compression,
		store:       store,
		logger:      logger.Named("producer"),
		now:         time.Now,
	}
}

// key is <schedule>/<YYYYmmdd-HHMMSS>-<uuid><ext>.
func (a *Archive) key(req domain.ArtifactRequest, id string, compression Compression) string {
	name := unsafeName.ReplaceAllString(req.ScheduleName, "_")
	if name == "" {
		name = fmt.Sprintf("schedule-%d", req.ScheduleID)
	}
	return fmt.Sprintf("%s/%s-%s%s", name, a.now().UTC().Format("20060102-150405"), id, compression.extension())
}

func (a *Archive) Produce(ctx context.Context, req domain.ArtifactRequest) (domain.ArtifactResult, error) {
	info, err := a.fs.Stat(a.sourceDir)
	if err != nil {
		return domain.ArtifactResult{}, fmt.Errorf("failed to read source directory: %w", err)
	}
	if !info.IsDir() {
		return domain.ArtifactResult{}, fmt.Errorf("source %s is not a directory", a.sourceDir)
	}

	compression := a.compression
	if !req.Compress {
		compression = CompressionNone
	}

	id := uuid.New().String()
	key := a.key(req, id, compression)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	items := make(chan int, 1)
	go func() {
		n, err := a.writeArchive(ctx, pw, req.Categories, compression)
		items <- n
		pw.CloseWithError(err)
	}()

	counter := &countingReader{r: pr}
	location, err := a.store.Put(ctx, key, counter)
	if err != nil {
		// Unblock the writer if the store gave up early.
		pr.CloseWithError(err)
		cancel()
		<-items
		return domain.ArtifactResult{}, fmt.Errorf("failed to store archive: %w", err)
	}
	itemCount := <-items

	a.logger.Info("archive stored",
		zap.Int64("schedule_id", req.ScheduleID),
		zap.Int64("execution_id", req.ExecutionID),
		zap.String("artifact_id", id),
		zap.String("location", location),
		zap.Int64("size", counter.n),
		zap.Int("items", itemCount),
	)
	return domain.ArtifactResult{
		ArtifactID: id,
		Size:       counter.n,
		ItemCount:  itemCount,
		Location:   location,
	}, nil
}

func (a *Archive) compressor(w io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case CompressionZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, nil
	case CompressionGzip:
		gw, err := pgzip.NewWriterLevel(w, pgzip.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		return gw, nil
	}
	return nopWriteCloser{w}, nil
}

// writeArchive streams the selected files as a tar into w and returns the
// number of regular files written.
func (a *Archive) writeArchive(ctx context.Context, w io.Writer, categories []string, compression Compression) (int, error) {
	bw := bufio.NewWriterSize(w, ioBufferSize)
	cw, err := a.compressor(bw, compression)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(cw)

	count := 0
	for _, root := range a.roots(categories) {
		n, err := a.addTree(ctx, tw, root)
		count += n
		if err != nil {
			return count, err
		}
	}

	if err := tw.Close(); err != nil {
		return count, fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := cw.Close(); err != nil {
		return count, fmt.Errorf("failed to close compressor: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return count, fmt.Errorf("failed to flush archive: %w", err)
	}
	return count, nil
}

func (a *Archive) roots(categories []string) []string {
	if len(categories) == 0 {
		return []string{a.sourceDir}
	}
	roots := make([]string, 0, len(categories))
	for _, c := range categories {
		c = filepath.Clean(strings.Trim(c, "/"))
		if c == "." || c == ".." || strings.HasPrefix(c, "../") {
			continue
		}
		roots = append(roots, filepath.Join(a.sourceDir, c))
	}
	return roots
}

func (a *Archive) addTree(ctx context.Context, tw *tar.Writer, root string) (int, error) {
	if _, err := a.fs.Stat(root); os.IsNotExist(err) {
		a.logger.Warn("category directory missing, skipping", zap.String("path", root))
		return 0, nil
	}

	count := 0
	err := afero.Walk(a.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(a.sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to build header for %s: %w", path, err)
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write header for %s: %w", path, err)
		}
		if info.IsDir() {
			return nil
		}

		f, err := a.fs.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to archive %s: %w", path, err)
		}
		count++
		return nil
	})
	return count, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
