package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, 2000, cfg.RAG.ChunkSizeChars())
	assert.Equal(t, 320, cfg.RAG.OverlapChars())
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.InDelta(t, 0.5, cfg.RAG.Threshold, 1e-9)
	assert.Equal(t, 10, cfg.Ingest.BatchSize)
	assert.Equal(t, defaultCallDelay, cfg.Embedding.CallDelay)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
embedding:
  provider: http
  base_url: http://embed.local/embed
  base_delay: 250ms
rag:
  chunk_tokens: 100
  overlap_tokens: 10
tiers:
  free:
    max_pages: 3
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderHTTP, cfg.Embedding.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.Embedding.BaseDelay)
	assert.Zero(t, cfg.Embedding.CallDelay, "pacing only applies to the primary provider")
	assert.Equal(t, 400, cfg.RAG.ChunkSizeChars())
	assert.Equal(t, 3, cfg.Limits("free").MaxPages)
	assert.Equal(t, TierLimits{}, cfg.Limits("unknown"))
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("EMBEDDING_API_KEY", "secret")

	cfg, err := LoadConfig(writeConfig(t, "database:\n  url: postgres://file/db\n"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "secret", cfg.Embedding.Key)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown provider", "embedding:\n  provider: word2vec\n"},
		{"overlap too large", "rag:\n  chunk_tokens: 50\n  overlap_tokens: 50\n"},
		{"threshold out of range", "rag:\n  threshold: 1.5\n"},
		{"unknown driver", "database:\n  driver: mysql\n"},
		{"zero chunk size", "rag:\n  chunk_tokens: 0\n"},
		{"zero top_k", "rag:\n  top_k: 0\n"},
		{"zero dimension", "embedding:\n  dimension: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigGeminiKeyWithDefaultProvider(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-secret")
	t.Setenv("EMBEDDING_API_KEY", "")

	cfg, err := LoadConfig(writeConfig(t, "embedding:\n  model: text-embedding-004\n"))
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, cfg.Embedding.Provider)
	assert.Equal(t, "gem-secret", cfg.Embedding.Key)
}

func TestLoadConfigGeminiKeyIgnoredForOtherProviders(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-secret")
	t.Setenv("EMBEDDING_API_KEY", "")

	cfg, err := LoadConfig(writeConfig(t, "embedding:\n  provider: hashing\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Embedding.Key)
}

func TestLoadConfigKeepsExplicitZeros(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
embedding:
  max_retries: 0
  group_size: 0
rag:
  threshold: 0
  overlap_tokens: 0
  snap_window: 0
llm:
  max_context_chars: 0
`))
	require.NoError(t, err)

	assert.Zero(t, cfg.Embedding.MaxRetries)
	assert.Zero(t, cfg.Embedding.GroupSize)
	assert.Zero(t, cfg.RAG.Threshold)
	assert.Zero(t, cfg.RAG.OverlapTokens)
	assert.Zero(t, cfg.RAG.SnapWindow)
	assert.Zero(t, cfg.LLM.MaxContextChars)
	assert.Equal(t, defaultChunkTokens, cfg.RAG.ChunkTokens, "unset keys keep their defaults")
	assert.Equal(t, defaultBaseDelay, cfg.Embedding.BaseDelay)
}
