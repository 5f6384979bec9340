package cache

import (
	"context"

	"github.com/stretchr/testify/mock"

	"recommender/internal/embeddings"
)

// MockBackend is a mock implementation of the Backend interface for testing
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Load(ctx context.Context, category string) ([]Record, []ItemFailure, error) {
	args := m.Called(ctx, category)
	var (
		records  []Record
		failures []ItemFailure
	)
	if v := args.Get(0); v != nil {
		records = v.([]Record)
	}
	if v := args.Get(1); v != nil {
		failures = v.([]ItemFailure)
	}
	return records, failures, args.Error(2)
}

func (m *MockBackend) Append(ctx context.Context, category, name string, vec embeddings.Vector) error {
	args := m.Called(ctx, category, name, vec)
	return args.Error(0)
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}
