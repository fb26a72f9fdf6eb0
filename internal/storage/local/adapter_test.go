package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varilab/regsync/internal/storage"
)

func newAdapter(t *testing.T) storage.Connection {
	t.Helper()
	conn, err := NewLocalAdapter(storage.Config{Type: ProviderType, BaseDir: t.TempDir()}, "exports")
	require.NoError(t, err)
	return conn
}

func TestNewLocalAdapterRequiresBaseDir(t *testing.T) {
	_, err := NewLocalAdapter(storage.Config{Type: ProviderType}, "exports")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_dir")
}

func TestNewLocalAdapterCreatesBaseDir(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "nested", "exports")
	_, err := NewLocalAdapter(storage.Config{Type: ProviderType, BaseDir: baseDir}, "exports")
	require.NoError(t, err)

	info, err := os.Stat(baseDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestUploadAndDownloadRoundTrip(t *testing.T) {
	conn := newAdapter(t)
	ctx := context.Background()

	objectName := filepath.Join("variant_records", "dt=2026-08-29", "data.parquet")
	err := conn.Upload(ctx, "", objectName, strings.NewReader("payload-bytes"), "application/octet-stream")
	require.NoError(t, err)

	reader, err := conn.Download(ctx, "", objectName)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "payload-bytes", string(data))
}

func TestUploadRejectsPathEscape(t *testing.T) {
	conn := newAdapter(t)

	err := conn.Upload(context.Background(), "", "../outside.txt", strings.NewReader("x"), "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")
}

func TestDownloadMissingObject(t *testing.T) {
	conn := newAdapter(t)
	_, err := conn.Download(context.Background(), "", "missing.parquet")
	assert.Error(t, err)
}
