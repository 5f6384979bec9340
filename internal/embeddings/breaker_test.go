package embeddings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBreakerEmbedderOpensAfterConsecutiveFailures(t *testing.T) {
	next := new(MockEmbedder)
	next.On("Embed", mock.Anything, "x").Return(nil, errors.New("connection refused")).Times(3)

	b := NewBreakerEmbedder(next, BreakerSettings{
		Name:                "test-open",
		ConsecutiveFailures: 3,
		OpenTimeout:         time.Minute,
	}, discardLogger())

	for i := 0; i < 3; i++ {
		_, err := b.Embed(context.Background(), "x")
		require.Error(t, err)
	}

	_, err := b.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	next.AssertExpectations(t)
}

func TestBreakerEmbedderIgnoresParseErrors(t *testing.T) {
	next := new(MockEmbedder)
	next.On("Embed", mock.Anything, "bad").Return(nil, ErrEmbeddingParse).Times(4)
	next.On("Embed", mock.Anything, "good").Return(Vector{1}, nil).Once()

	b := NewBreakerEmbedder(next, BreakerSettings{
		Name:                "test-parse",
		ConsecutiveFailures: 2,
	}, discardLogger())

	for i := 0; i < 4; i++ {
		_, err := b.Embed(context.Background(), "bad")
		assert.ErrorIs(t, err, ErrEmbeddingParse)
	}

	vec, err := b.Embed(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, Vector{1}, vec)
	next.AssertExpectations(t)
}
