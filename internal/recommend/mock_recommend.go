package recommend

import (
	"context"

	"github.com/stretchr/testify/mock"

	"recommender/internal/cache"
)

// MockRecommender is a mock implementation of Recommender using testify/mock.
type MockRecommender struct {
	mock.Mock
}

func (m *MockRecommender) Recommend(ctx context.Context, category, referenceName string, k int) (Response, error) {
	args := m.Called(ctx, category, referenceName, k)
	return args.Get(0).(Response), args.Error(1)
}

func (m *MockRecommender) Warm(ctx context.Context, category string) ([]cache.ItemFailure, error) {
	args := m.Called(ctx, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cache.ItemFailure), args.Error(1)
}
