package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"recommender/internal/codec"
	"recommender/internal/embeddings"
	"recommender/internal/metrics"
)

const (
	// Key prefix for per-category embedding hashes
	cacheKeyPrefix = "embeddings:"
)

// RedisBackend stores one hash per category: field = item name, value =
// codec-encoded vector. HSETNX keeps the first vector written for a name.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a new Redis cache client
func NewRedisBackend(addr, password string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisBackend{
		client: client,
	}, nil
}

func (c *RedisBackend) Load(ctx context.Context, category string) ([]Record, []ItemFailure, error) {
	fields, err := c.client.HGetAll(ctx, cacheKeyPrefix+category).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis hgetall: %w", err)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		records  []Record
		failures []ItemFailure
	)
	for _, name := range names {
		vec, err := codec.DecodeVector(fields[name])
		if err != nil {
			metrics.CacheRowsSkipped.Inc()
			failures = append(failures, ItemFailure{Category: category, Item: name, Stage: StageDecode, Err: err})
			continue
		}
		records = append(records, Record{Name: name, Vector: vec})
	}
	return records, failures, nil
}

func (c *RedisBackend) Append(ctx context.Context, category, name string, vec embeddings.Vector) error {
	if err := c.client.HSetNX(ctx, cacheKeyPrefix+category, name, codec.EncodeVector(vec)).Err(); err != nil {
		return fmt.Errorf("redis hsetnx: %w", err)
	}
	return nil
}

// Close closes the cache connection
func (c *RedisBackend) Close() error {
	return c.client.Close()
}
