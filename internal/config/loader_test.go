package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("does-not-exist.env", EmbeddedConfig("regsync: {}"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Regsync.Pipeline.ChunkSize)
	assert.Equal(t, 500, cfg.Regsync.Interp.PaceMillis)
	assert.Equal(t, 1, cfg.Regsync.Interp.MaxConcurrency)
	assert.Equal(t, "subjects", cfg.Regsync.Entities.Subjects)
	assert.Equal(t, "subject_mappings", cfg.Regsync.Entities.Mappings)
	assert.Equal(t, "variant_records", cfg.Regsync.Entities.Variants)
	assert.Equal(t, "SNAPPY", cfg.Regsync.Pipeline.Export.CompressionType)
	assert.Equal(t, "INFO", cfg.Regsync.System.Logging.Level)
}

func TestLoadConfigMergesEmbeddedYAML(t *testing.T) {
	embedded := []byte(`
regsync:
  pipeline:
    run_name: weekly-sync
    chunk_size: 250
  interp:
    base_url: https://interp.example.com
    retry:
      max_attempts: 5
  entities:
    variants: custom_variants
`)
	cfg, err := LoadConfig("does-not-exist.env", EmbeddedConfig(embedded))
	require.NoError(t, err)

	assert.Equal(t, "weekly-sync", cfg.Regsync.Pipeline.RunName)
	assert.Equal(t, 250, cfg.Regsync.Pipeline.ChunkSize)
	assert.Equal(t, "https://interp.example.com", cfg.Regsync.Interp.BaseURL)
	assert.Equal(t, 5, cfg.Regsync.Interp.Retry.MaxAttempts)
	assert.Equal(t, "custom_variants", cfg.Regsync.Entities.Variants)

	// Untouched values keep their defaults.
	assert.Equal(t, "subjects", cfg.Regsync.Entities.Subjects)
	assert.Equal(t, 1000, cfg.Regsync.Interp.Retry.InitialInterval)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("REGSYNC_INTERP_BASE_URL", "https://env.example.com")
	t.Setenv("REGSYNC_PIPELINE_CHUNK_SIZE", "50")
	t.Setenv("REGSYNC_TRACING_ENABLED", "true")

	embedded := []byte(`
regsync:
  interp:
    base_url: https://yaml.example.com
`)
	cfg, err := LoadConfig("does-not-exist.env", EmbeddedConfig(embedded))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Regsync.Interp.BaseURL,
		"environment variables take precedence over the embedded file")
	assert.Equal(t, 50, cfg.Regsync.Pipeline.ChunkSize)
	assert.True(t, cfg.Regsync.Tracing.Enabled)
}

func TestLoadConfigExpandsPlaceholders(t *testing.T) {
	t.Setenv("TEST_REGISTRY_TOKEN", "tok-from-env")

	embedded := []byte(`
regsync:
  registry:
    token: ${TEST_REGISTRY_TOKEN}
`)
	cfg, err := LoadConfig("does-not-exist.env", EmbeddedConfig(embedded))
	require.NoError(t, err)
	assert.Equal(t, "tok-from-env", cfg.Regsync.Registry.Token)
}

func TestLoadConfigRejectsInvalidYAML(t *testing.T) {
	_, err := LoadConfig("does-not-exist.env", EmbeddedConfig("regsync: ["))
	assert.Error(t, err)
}

func TestLoadConfigNamedConnections(t *testing.T) {
	embedded := []byte(`
regsync:
  database:
    archive:
      type: sqlite
      database: ":memory:"
  storage:
    exports:
      type: local
      base_dir: /tmp/exports
`)
	cfg, err := LoadConfig("does-not-exist.env", EmbeddedConfig(embedded))
	require.NoError(t, err)

	archive, ok := cfg.Regsync.DatabaseConfigs["archive"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "sqlite", archive["type"])

	exports, ok := cfg.Regsync.StorageConfigs["exports"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/tmp/exports", exports["base_dir"])
}
