package catalog

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockCatalog is a mock implementation of Catalog using testify/mock.
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Lookup(ctx context.Context, category, name string) (Entry, bool, error) {
	args := m.Called(ctx, category, name)
	return args.Get(0).(Entry), args.Bool(1), args.Error(2)
}

func (m *MockCatalog) ListAll(ctx context.Context, category string) ([]Entry, error) {
	args := m.Called(ctx, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Entry), args.Error(1)
}
