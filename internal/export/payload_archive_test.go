package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/storage"
	_ "github.com/varilab/regsync/internal/storage/local"
)

func archiverFixture(t *testing.T) (*PayloadArchiver, string) {
	t.Helper()
	baseDir := t.TempDir()

	cfg := config.NewConfig()
	cfg.Regsync.Pipeline.PayloadArchive = config.ArchiveConfig{
		Enabled:    true,
		StorageRef: "exports",
	}
	cfg.Regsync.StorageConfigs = map[string]interface{}{
		"exports": map[string]interface{}{"type": "local", "base_dir": baseDir},
	}

	return NewPayloadArchiver(cfg, storage.NewResolver(cfg)), baseDir
}

func TestArchiveWritesRawPayloads(t *testing.T) {
	archiver, baseDir := archiverFixture(t)
	records := []model.ExportRecord{
		{
			Key:        model.LocalKey{FamilyID: "F001", SubjectID: "S01"},
			AnalysisID: "A100",
			ExportID:   "E200",
			Payload:    []byte(`{"variants":[{"variantId":"V7"}]}`),
		},
		{
			Key:        model.LocalKey{FamilyID: "F001", SubjectID: "S01"},
			AnalysisID: "A100",
			ExportID:   "E201",
			Payload:    []byte(`{"variants":[]}`),
		},
	}

	require.NoError(t, archiver.Archive(context.Background(), records))

	matches, err := filepath.Glob(filepath.Join(baseDir, "payloads", "dt=*", "F001_S01", "*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// The payload is stored byte for byte as received.
	file, err := filepath.Glob(filepath.Join(baseDir, "payloads", "dt=*", "F001_S01", "A100_E200_0.json"))
	require.NoError(t, err)
	require.Len(t, file, 1)
	data := readFile(t, file[0])
	assert.JSONEq(t, `{"variants":[{"variantId":"V7"}]}`, data)
}

func TestArchiveEmptyBatch(t *testing.T) {
	archiver, baseDir := archiverFixture(t)

	require.NoError(t, archiver.Archive(context.Background(), nil))

	matches, err := filepath.Glob(filepath.Join(baseDir, "payloads", "*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestArchiveRequiresStorageRef(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Regsync.Pipeline.PayloadArchive.Enabled = true
	archiver := NewPayloadArchiver(cfg, storage.NewResolver(cfg))

	err := archiver.Archive(context.Background(), []model.ExportRecord{{Payload: []byte("{}")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage_ref")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
