package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	files := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = string(data)
	}
	return files
}

func TestZip_ArchivesTree(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "1 - first.mp4"), []byte("one"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "2 - second.mp4"), []byte("two"), 0644))

	dst := filepath.Join(t.TempDir(), "job.zip")
	require.NoError(t, NewZip().Archive(context.Background(), src, dst))

	files := readZip(t, dst)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"1 - first.mp4", "sub/2 - second.mp4"}, names)
	assert.Equal(t, "two", files["sub/2 - second.mp4"])
}

func TestZip_EmptyDirectory(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "empty.zip")
	require.NoError(t, NewZip().Archive(context.Background(), t.TempDir(), dst))
	assert.Empty(t, readZip(t, dst))
}

func TestZip_ReplacesExisting(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("fresh"), 0644))

	outDir := t.TempDir()
	dst := filepath.Join(outDir, "job.zip")
	require.NoError(t, os.WriteFile(dst, []byte("stale, not a zip"), 0644))

	require.NoError(t, NewZip().Archive(context.Background(), src, dst))
	assert.Equal(t, map[string]string{"a.txt": "fresh"}, readZip(t, dst))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestZip_MissingSource(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "job.zip")
	err := NewZip().Archive(context.Background(), filepath.Join(t.TempDir(), "missing"), dst)
	assert.Error(t, err)
	assert.NoFileExists(t, dst)
}

func TestZip_Cancelled(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("x"), 0644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dst := filepath.Join(t.TempDir(), "job.zip")
	err := NewZip().Archive(ctx, src, dst)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dst)
}
