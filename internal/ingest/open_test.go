package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/satdb/internal/store"
)

func writeGzip(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = io.WriteString(zw, content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestOpenPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.tle")
	require.NoError(t, os.WriteFile(path, []byte(issLine1+"\n"+issLine2+"\n"), 0o600))

	rc, err := Open(path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, issLine1+"\n"+issLine2+"\n", string(data))
}

func TestOpenGzipFeedsPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.xml.GZ")
	writeGzip(t, path, ommDocument([]int{7, 8}))

	rc, err := Open(path)
	require.NoError(t, err)
	st := store.NewMemoryStore()
	sum, err := NewPipeline(st).IngestOMM(context.Background(), rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, 2, sum.Inserted)
	assert.Equal(t, 2, st.Len())
}

func TestOpenRejectsCorruptGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.tle.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip at all"), 0o600))
	_, err := Open(path)
	require.Error(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.xml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileExt(t *testing.T) {
	assert.Equal(t, ".gz", fileExt("a/b/c.tle.gz"))
	assert.Equal(t, "", fileExt("dir.d/file"))
	assert.Equal(t, "", fileExt("noext"))
}
