// Package metrics holds the Prometheus collectors for the embedding cache,
// the embedding provider and recommendation outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheLookups counts in-memory embedding cache lookups by result ("hit", "miss").
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommender_embedding_cache_lookups_total",
			Help: "Embedding cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheRowsSkipped counts durable cache rows that failed to decode on load.
	CacheRowsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommender_embedding_cache_rows_skipped_total",
			Help: "Durable cache rows skipped because they could not be decoded",
		},
	)

	// CacheAppendErrors counts failed durable appends.
	CacheAppendErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommender_embedding_cache_append_errors_total",
			Help: "Durable cache appends that failed",
		},
	)

	// ProviderCalls counts embedding provider calls by outcome ("ok", "error").
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommender_embedding_provider_calls_total",
			Help: "Embedding provider calls by outcome",
		},
		[]string{"outcome"},
	)

	ProviderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recommender_embedding_provider_duration_seconds",
			Help:    "Duration of embedding provider calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recommender_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Recommendations counts recommend calls by outcome
	// ("ok", "empty", "not_found", "unavailable", "error").
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommender_recommendations_total",
			Help: "Recommendation requests by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
