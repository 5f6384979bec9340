package app

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recommender/internal/cache"
	"recommender/internal/config"
	"recommender/internal/embeddings"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestBuildBackend(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr string
	}{
		{name: "file", cfg: config.Config{CacheProvider: "file", CacheDir: t.TempDir()}},
		{name: "none", cfg: config.Config{CacheProvider: "none"}},
		{name: "redis without addr", cfg: config.Config{CacheProvider: "redis"}, wantErr: "REDIS_ADDR"},
		{name: "postgres without url", cfg: config.Config{CacheProvider: "postgres"}, wantErr: "DB_URL"},
		{name: "unknown", cfg: config.Config{CacheProvider: "s3"}, wantErr: "invalid CACHE_PROVIDER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := buildBackend(tt.cfg, discard)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, b.Close())
		})
	}
}

func TestBuildEmbedder(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr string
	}{
		{name: "ollama", cfg: config.Config{EmbeddingProvider: "ollama", OllamaURL: "http://localhost:11434"}},
		{name: "openai", cfg: config.Config{EmbeddingProvider: "openai", OpenAIKey: "sk-test", EmbeddingModel: embeddings.DefaultOllamaModel}},
		{name: "openai without key", cfg: config.Config{EmbeddingProvider: "openai"}, wantErr: "OPENAI_API_KEY"},
		{name: "unknown", cfg: config.Config{EmbeddingProvider: "stub"}, wantErr: "invalid EMBEDDING_PROVIDER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := buildEmbedder(tt.cfg, discard)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, &embeddings.BreakerEmbedder{}, e)
		})
	}
}

func TestBuildWithoutQueue(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CATALOG_DIR", dir)
	t.Setenv("CACHE_DIR", dir)
	t.Setenv("CACHE_PROVIDER", "file")
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("QUEUE_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	deps, err := Build()
	require.NoError(t, err)
	defer deps.Close()

	assert.Nil(t, deps.Queue)
	assert.NotNil(t, deps.Recommender)
	assert.IsType(t, &cache.Manager{}, deps.Cache)
}
