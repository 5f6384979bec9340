package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"recommender/internal/cache"
	"recommender/internal/catalog"
	"recommender/internal/config"
	"recommender/internal/embeddings"
	"recommender/internal/logger"
	"recommender/internal/queue"
	"recommender/internal/recommend"
)

// Deps bundles the runtime dependencies of the recommender service.
type Deps struct {
	Config      config.Config
	Log         *slog.Logger
	Catalog     catalog.Catalog
	Cache       *cache.Manager
	Recommender recommend.Recommender
	// Queue is nil when QUEUE_URL is unset; warm-up is then disabled.
	Queue queue.Queue

	closers []func() error
}

// Build loads env, config, and shared components.
func Build() (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	log := logger.NewWithFormat(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	deps := Deps{Config: cfg, Log: log}

	cat, err := catalog.NewCSVCatalog(cfg.CatalogDir, cfg.CatalogCacheSize, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	backend, err := buildBackend(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}
	deps.closers = append(deps.closers, backend.Close)

	embedder, err := buildEmbedder(cfg, log)
	if err != nil {
		_ = deps.Close()
		return Deps{}, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	q, err := buildQueue(cfg, log, &deps)
	if err != nil {
		_ = deps.Close()
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}

	mgr := cache.NewManager(backend, embedder, log, cache.Options{
		ProviderTimeout: cfg.EmbeddingTimeout,
		Concurrency:     cfg.PopulateConcurrency,
	})
	deps.Catalog = cat
	deps.Cache = mgr
	deps.Recommender = recommend.NewService(cat, mgr, log)
	deps.Queue = q
	return deps, nil
}

// Close releases backend connections in reverse order of creation.
func (d Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func buildBackend(cfg config.Config, log *slog.Logger) (cache.Backend, error) {
	switch cfg.CacheProvider {
	case "file":
		b, err := cache.NewFileBackend(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		log.Info("using file embedding cache", "dir", cfg.CacheDir)
		return b, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required when CACHE_PROVIDER=redis")
		}
		b, err := cache.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("using Redis embedding cache", "addr", cfg.RedisAddr)
		return b, nil
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when CACHE_PROVIDER=postgres")
		}
		b, err := cache.NewPostgresBackend(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres embedding cache")
		return b, nil
	case "none":
		log.Warn("embedding cache is not persisted; every restart re-embeds the catalog")
		return cache.NewNoOpBackend(), nil
	default:
		return nil, fmt.Errorf("invalid CACHE_PROVIDER: %s (valid options: file, redis, postgres, none)", cfg.CacheProvider)
	}
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	var inner embeddings.Embedder
	switch cfg.EmbeddingProvider {
	case "ollama":
		e, err := embeddings.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel, cfg.EmbeddingRetries, log)
		if err != nil {
			return nil, err
		}
		log.Info("using Ollama embedder", "url", cfg.OllamaURL, "model", cfg.EmbeddingModel)
		inner = e
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
		model := cfg.EmbeddingModel
		if model == embeddings.DefaultOllamaModel {
			model = ""
		}
		e, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(model))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", model)
		inner = e
	default:
		return nil, fmt.Errorf("invalid EMBEDDING_PROVIDER: %s (valid options: ollama, openai)", cfg.EmbeddingProvider)
	}
	return embeddings.NewBreakerEmbedder(inner, embeddings.BreakerSettings{Name: cfg.EmbeddingProvider}, log), nil
}

func buildQueue(cfg config.Config, log *slog.Logger, deps *Deps) (queue.Queue, error) {
	if cfg.QueueURL == "" {
		log.Info("QUEUE_URL not set; cache warm-up disabled")
		return nil, nil
	}
	nc, err := nats.Connect(cfg.QueueURL, nats.Name("recommender"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	deps.closers = append(deps.closers, func() error { nc.Close(); return nil })
	log.Info("using NATS queue")
	return queue.NewNATS(log, nc), nil
}
