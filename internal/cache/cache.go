package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"recommender/internal/embeddings"
)

// ErrEmbeddingProvider means an item's vector could not be obtained: the
// provider failed, timed out or replied with something unparseable.
var ErrEmbeddingProvider = errors.New("embedding unavailable")

// Backend is the durable side of the embedding cache: one flat, append-only
// collection of vectors per category.
type Backend interface {
	// Load returns every decodable record for the category in write order.
	// Records that cannot be decoded are skipped and reported as failures.
	// A category with nothing stored yields no records and no error.
	Load(ctx context.Context, category string) ([]Record, []ItemFailure, error)

	// Append durably adds one record without rewriting earlier ones.
	Append(ctx context.Context, category, name string, vec embeddings.Vector) error

	// Close releases connections and file handles.
	Close() error
}

// Record is one stored vector.
type Record struct {
	Name   string
	Vector embeddings.Vector
}

// Stage says where a per-item failure happened.
type Stage string

const (
	StageDecode  Stage = "decode"
	StageEmbed   Stage = "embed"
	StagePersist Stage = "persist"
	StageRank    Stage = "rank"
)

// ItemFailure is the tagged result of a per-item operation that failed but
// did not abort the batch it belonged to.
type ItemFailure struct {
	Category string
	Item     string
	Stage    Stage
	Err      error
}

func (f ItemFailure) Error() string {
	if f.Item == "" {
		return fmt.Sprintf("%s %s: %v", f.Category, f.Stage, f.Err)
	}
	return fmt.Sprintf("%s/%s %s: %v", f.Category, f.Item, f.Stage, f.Err)
}

func (f ItemFailure) Unwrap() error { return f.Err }

// Item is a catalog item as the cache sees it: a name and the prompt its
// embedding is generated from.
type Item struct {
	Name   string
	Prompt string
}

// Snapshot is a point-in-time copy of a category's vectors, keyed by
// normalized item name.
type Snapshot map[string]embeddings.Vector

// Get looks up name case-insensitively.
func (s Snapshot) Get(name string) (embeddings.Vector, bool) {
	v, ok := s[NormalizeName(name)]
	return v, ok
}

// NormalizeName is the cache key for an item name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
