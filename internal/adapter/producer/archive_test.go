package producer

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/adapter/storage"
	"github.com/martijn/snapkeep/internal/core/domain"
)

func seedSource(t *testing.T, fs afero.Fs) {
	t.Helper()
	files := map[string]string{
		"/src/nginx/nginx.conf":         "worker_processes 4;",
		"/src/nginx/sites/default.conf": "server {}",
		"/src/postgres/postgresql.conf": "max_connections = 100",
		"/src/redis/redis.conf":         "maxmemory 1gb",
	}
	for path, body := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(body), 0o644))
	}
}

func readEntries(t *testing.T, r io.Reader) map[string]string {
	t.Helper()
	entries := map[string]string{}
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if header.Typeflag == tar.TypeDir {
			continue
		}
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[header.Name] = string(body)
	}
	return entries
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newTestArchive(t *testing.T, compression Compression) (*Archive, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	seedSource(t, fs)
	store, err := storage.NewLocal(fs, "/backups")
	require.NoError(t, err)
	return NewArchive(fs, "/src", compression, store, zap.NewNop()), fs
}

func TestArchiveProducesGzipTarball(t *testing.T) {
	archive, fs := newTestArchive(t, CompressionGzip)

	result, err := archive.Produce(context.Background(), domain.ArtifactRequest{
		ScheduleID:   1,
		ScheduleName: "nightly configs",
		ExecutionID:  7,
		Compress:     true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ArtifactID)
	assert.Equal(t, 4, result.ItemCount)
	assert.True(t, strings.HasPrefix(result.Location, "/backups/nightly_configs/"))
	assert.True(t, strings.HasSuffix(result.Location, result.ArtifactID+".tar.gz"))

	f, err := fs.Open(result.Location)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, info.Size(), result.Size)

	gz, err := pgzip.NewReader(f)
	require.NoError(t, err)
	entries := readEntries(t, gz)
	assert.Equal(t, []string{
		"nginx/nginx.conf",
		"nginx/sites/default.conf",
		"postgres/postgresql.conf",
		"redis/redis.conf",
	}, keys(entries))
	assert.Equal(t, "maxmemory 1gb", entries["redis/redis.conf"])
}

func TestArchiveFiltersCategories(t *testing.T) {
	archive, fs := newTestArchive(t, CompressionZstd)

	result, err := archive.Produce(context.Background(), domain.ArtifactRequest{
		ScheduleName: "web",
		Categories:   []string{"nginx", "missing", "../etc"},
		Compress:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemCount)
	assert.True(t, strings.HasSuffix(result.Location, ".tar.zst"))

	f, err := fs.Open(result.Location)
	require.NoError(t, err)
	defer f.Close()
	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()
	assert.Equal(t, []string{"nginx/nginx.conf", "nginx/sites/default.conf"}, keys(readEntries(t, zr)))
}

func TestArchiveWithoutCompression(t *testing.T) {
	archive, fs := newTestArchive(t, CompressionGzip)

	result, err := archive.Produce(context.Background(), domain.ArtifactRequest{ScheduleName: "plain"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result.Location, ".tar"))

	f, err := fs.Open(result.Location)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, readEntries(t, f), 4)
}

func TestArchiveCancelledLeavesNothing(t *testing.T) {
	archive, fs := newTestArchive(t, CompressionGzip)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := archive.Produce(ctx, domain.ArtifactRequest{ScheduleName: "cancelled", Compress: true})
	require.Error(t, err)

	exists, err := afero.DirExists(fs, "/backups/cancelled")
	require.NoError(t, err)
	if exists {
		entries, err := afero.ReadDir(fs, "/backups/cancelled")
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestArchiveMissingSource(t *testing.T) {
	store, err := storage.NewLocal(afero.NewMemMapFs(), "/backups")
	require.NoError(t, err)
	archive := NewArchive(afero.NewMemMapFs(), "/nowhere", CompressionGzip, store, zap.NewNop())

	_, err = archive.Produce(context.Background(), domain.ArtifactRequest{ScheduleName: "x"})
	assert.Error(t, err)
}
