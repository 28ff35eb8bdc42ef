package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "./data/engram.db", cfg.Database.Path)
	assert.True(t, cfg.Index.Enabled)
	assert.Equal(t, "http://localhost:11434", cfg.Embedding.OllamaURL)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, 2, cfg.Engine.NumWorkers)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.Interval)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("ENGRAM_DB_PATH", "/tmp/custom.db")
	t.Setenv("ENGRAM_INDEX_ENABLED", "false")
	t.Setenv("ENGRAM_EMBEDDING_DIMENSION", "768")
	t.Setenv("ENGRAM_EMBEDDING_RATE", "2.5")
	t.Setenv("ENGRAM_SHUTDOWN_TIMEOUT", "30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.Database.Path)
	assert.False(t, cfg.Index.Enabled)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, 2.5, cfg.Embedding.RatePerSec)
	assert.Equal(t, 30*time.Second, cfg.Engine.ShutdownTimeout)
}

func TestLoadConfigIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ENGRAM_EMBEDDING_DIMENSION", "not-a-number")
	t.Setenv("ENGRAM_INDEX_ENABLED", "maybe")
	t.Setenv("ENGRAM_RECONCILE_INTERVAL", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.True(t, cfg.Index.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.Interval)
}

func TestLoadConfigYAMLFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	content := []byte(`
database:
  path: /var/lib/engram/engram.db
embedding:
  model: all-minilm
  dimension: 512
engine:
  num_workers: 8
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("ENGRAM_CONFIG_FILE", path)
	t.Setenv("ENGRAM_EMBEDDING_DIMENSION", "768")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/engram/engram.db", cfg.Database.Path)
	assert.Equal(t, "all-minilm", cfg.Embedding.Model)
	assert.Equal(t, 8, cfg.Engine.NumWorkers)
	assert.Equal(t, 768, cfg.Embedding.Dimension, "env var wins over the file")
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	t.Setenv("ENGRAM_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := LoadConfig()
	assert.Error(t, err)
}
