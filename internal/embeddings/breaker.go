package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"recommender/internal/metrics"
)

// BreakerSettings tunes BreakerEmbedder. Zero values fall back to defaults.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerEmbedder wraps an Embedder with a circuit breaker so that a dead
// provider fails a category population fast instead of timing out per item.
// Parse errors and caller cancellation do not count as provider failures.
type BreakerEmbedder struct {
	next Embedder
	cb   *gobreaker.CircuitBreaker[Vector]
}

func NewBreakerEmbedder(next Embedder, s BreakerSettings, log *slog.Logger) *BreakerEmbedder {
	if s.Name == "" {
		s.Name = "embedding-provider"
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[Vector](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrEmbeddingParse) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &BreakerEmbedder{next: next, cb: cb}
}

func (b *BreakerEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vec, err := b.cb.Execute(func() (Vector, error) {
		return b.next.Embed(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return vec, err
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
