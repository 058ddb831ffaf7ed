package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 5, cfg.Retrieval.K)
	assert.Equal(t, "default", cfg.Retrieval.PromptTemplate)
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "docqa.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DOCQA_CHUNKER_CHUNK_SIZE", "400")
	t.Setenv("DOCQA_CHUNKER_CHUNK_OVERLAP", "40")
	t.Setenv("DOCQA_RETRIEVAL_K", "3")
	t.Setenv("DOCQA_GENERATION_TIMEOUT", "5s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Chunker.ChunkSize)
	assert.Equal(t, 40, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 3, cfg.Retrieval.K)
	assert.Equal(t, 5*time.Second, cfg.Generation.Timeout)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docqa.yaml")
	data := []byte(`
chunker:
  chunk_size: 500
  chunk_overlap: 50
vector_store:
  type: flat
  path: /var/lib/docqa
retrieval:
  k: 3
  prompt_template: quantum_analyst
log:
  format: json
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Chunker.ChunkSize)
	assert.Equal(t, 50, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, "flat", cfg.VectorStore.Type)
	assert.Equal(t, "/var/lib/docqa", cfg.VectorStore.Path)
	assert.Equal(t, "quantum_analyst", cfg.Retrieval.PromptTemplate)
	assert.Equal(t, "json", cfg.Log.Format)
	// untouched keys keep their defaults
	assert.Equal(t, "openai", cfg.Embeddings.Provider)
	assert.Equal(t, 32, cfg.Ingest.EmbedBatchSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"overlap equals size", func(c *Config) { c.Chunker.ChunkOverlap = c.Chunker.ChunkSize }},
		{"overlap above size", func(c *Config) { c.Chunker.ChunkSize, c.Chunker.ChunkOverlap = 100, 150 }},
		{"negative overlap", func(c *Config) { c.Chunker.ChunkOverlap = -1 }},
		{"zero size", func(c *Config) { c.Chunker.ChunkSize = 0 }},
		{"zero k", func(c *Config) { c.Retrieval.K = 0 }},
		{"no template", func(c *Config) { c.Retrieval.PromptTemplate = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
		{"watch without dirs", func(c *Config) { c.Watch.Enabled, c.Watch.BadDir = true, "" }},
		{"temperature too high", func(c *Config) { c.Generation.Temperature = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), types.ErrConfig)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("DOCQA_CHUNKER_CHUNK_OVERLAP", "1000")
	_, err := Load("")
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docqa.yaml")
	cfg := Default()
	cfg.Chunker.ChunkSize = 800
	cfg.Watch.Enabled = true
	cfg.Embeddings.Provider = "ollama"

	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 800, got.Chunker.ChunkSize)
	assert.True(t, got.Watch.Enabled)
	assert.Equal(t, "ollama", got.Embeddings.Provider)
	assert.Equal(t, cfg.Generation.Timeout, got.Generation.Timeout)
	assert.Equal(t, cfg.Watch.Settle, got.Watch.Settle)
}

func TestAPIKey(t *testing.T) {
	t.Setenv("DOCQA_TEST_KEY", "sk-test")
	assert.Equal(t, "sk-test", ProviderConfig{APIKeyEnv: "DOCQA_TEST_KEY"}.APIKey())
	assert.Empty(t, ProviderConfig{}.APIKey())
}
