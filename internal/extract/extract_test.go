package extract

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, members map[string]string, order ...string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(members[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	x, err := New(nil)
	require.NoError(t, err)
	t.Cleanup(x.Close)
	return x
}

func readDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		out[e.Name()] = string(data)
	}
	return out
}

func TestExtractAllFlattensZipMembers(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "extracted")
	writeZip(t, filepath.Join(in, "a.zip"), map[string]string{
		"nested/dir/prices.csv": "A,B\n1,2\n",
		"readme.txt":            "hello",
		"nested/":               "",
	}, "nested/", "nested/dir/prices.csv", "readme.txt")
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.md"), []byte("ignored"), 0644))

	sum, err := newExtractor(t).ExtractAll(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Archives)
	assert.Equal(t, []string{"prices.csv", "readme.txt"}, sum.Files)
	assert.Equal(t, map[string]string{
		"prices.csv": "A,B\n1,2\n",
		"readme.txt": "hello",
	}, readDir(t, out))
}

func TestExtractAllIsIdempotent(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeZip(t, filepath.Join(in, "a.zip"), map[string]string{"x.csv": "1\n"}, "x.csv")
	writeZip(t, filepath.Join(in, "b.zip"), map[string]string{"y.csv": "2\n"}, "y.csv")

	x := newExtractor(t)
	_, err := x.ExtractAll(context.Background(), in, out)
	require.NoError(t, err)
	first := readDir(t, out)

	_, err = x.ExtractAll(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, first, readDir(t, out))
	assert.Len(t, first, 2)
}

func TestExtractAllLastWriteWins(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeZip(t, filepath.Join(in, "a.zip"), map[string]string{"data.csv": "first"}, "data.csv")
	writeZip(t, filepath.Join(in, "b.zip"), map[string]string{"other/data.csv": "second"}, "other/data.csv")

	sum, err := newExtractor(t).ExtractAll(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, []string{"data.csv", "data.csv"}, sum.Files)
	assert.Equal(t, map[string]string{"data.csv": "second"}, readDir(t, out))
}

func TestExtractAllGzipAndZstd(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write([]byte("gz,data\n"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(in, "one.csv.gz"), gz.Bytes(), 0644))

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zst := enc.EncodeAll([]byte("zst,data\n"), nil)
	require.NoError(t, enc.Close())
	require.NoError(t, os.WriteFile(filepath.Join(in, "two.csv.zst"), zst, 0644))

	sum, err := newExtractor(t).ExtractAll(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Archives)
	assert.Equal(t, map[string]string{
		"one.csv": "gz,data\n",
		"two.csv": "zst,data\n",
	}, readDir(t, out))
}

func TestExtractAllCorruptArchive(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	bad := filepath.Join(in, "bad.zip")
	require.NoError(t, os.WriteFile(bad, []byte("this is not a zip"), 0644))

	_, err := newExtractor(t).ExtractAll(context.Background(), in, out)
	require.Error(t, err)

	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, bad, ee.Path)
}

func TestExtractAllMissingInput(t *testing.T) {
	_, err := newExtractor(t).ExtractAll(context.Background(), filepath.Join(t.TempDir(), "missing"), t.TempDir())
	assert.Error(t, err)
}

func TestExtractAllCancelled(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeZip(t, filepath.Join(in, "a.zip"), map[string]string{"x.csv": "1\n"}, "x.csv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newExtractor(t).ExtractAll(ctx, in, out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, readDir(t, out))
}

func TestFlatName(t *testing.T) {
	name, err := flatName(`win\path\file.csv`)
	require.NoError(t, err)
	assert.Equal(t, "file.csv", name)

	for _, bad := range []string{"", "..", "a/.."} {
		_, err := flatName(bad)
		assert.Error(t, err, bad)
	}
}
