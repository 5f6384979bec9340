package cache

import (
	"context"

	"recommender/internal/embeddings"
)

// NoOpBackend persists nothing. Vectors live only in the Manager's memory
// for the lifetime of the process.
type NoOpBackend struct{}

// NewNoOpBackend creates a new no-op backend instance
func NewNoOpBackend() *NoOpBackend {
	return &NoOpBackend{}
}

// Load always returns an empty category
func (NoOpBackend) Load(ctx context.Context, category string) ([]Record, []ItemFailure, error) {
	return nil, nil, nil
}

// Append does nothing and always succeeds
func (NoOpBackend) Append(ctx context.Context, category, name string, vec embeddings.Vector) error {
	return nil
}

// Close does nothing and always succeeds
func (NoOpBackend) Close() error {
	return nil
}
