package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration read from the environment.
type Config struct {
	// Server
	Port      int    `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // "json" or "text"

	// Catalog
	CatalogDir       string `env:"CATALOG_DIR" envDefault:"./data"`
	CatalogCacheSize int    `env:"CATALOG_CACHE_SIZE" envDefault:"64"` // parsed category files kept in memory

	// Embedding cache
	CacheProvider       string `env:"CACHE_PROVIDER" envDefault:"file"` // "file", "redis", "postgres" or "none"
	CacheDir            string `env:"CACHE_DIR" envDefault:"./data"`
	RedisAddr           string `env:"REDIS_ADDR"`
	RedisPassword       string `env:"REDIS_PASSWORD"`
	DBURL               string `env:"DB_URL"`
	PopulateConcurrency int    `env:"POPULATE_CONCURRENCY" envDefault:"4"`

	// Embeddings
	EmbeddingProvider string        `env:"EMBEDDING_PROVIDER" envDefault:"ollama"` // "ollama" or "openai"
	OllamaURL         string        `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	EmbeddingModel    string        `env:"EMBEDDING_MODEL" envDefault:"nomic-embed-text"`
	OpenAIKey         string        `env:"OPENAI_API_KEY"`
	EmbeddingTimeout  time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"30s"`
	EmbeddingRetries  int           `env:"EMBEDDING_RETRIES" envDefault:"2"`

	// Queue (warm-up is disabled when empty)
	QueueURL string `env:"QUEUE_URL"`

	// Recommend endpoint
	DefaultCount int `env:"DEFAULT_COUNT" envDefault:"5"`
	MaxCount     int `env:"MAX_COUNT" envDefault:"50"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
