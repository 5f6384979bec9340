package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Vector is an embedding as returned by a provider. All vectors produced by
// one provider/model share the same length.
type Vector []float64

// Embedder defines the embedding interface.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
}

var (
	// ErrProvider reports that the provider call itself failed (transport, status, breaker).
	ErrProvider = errors.New("embedding provider error")
	// ErrEmbeddingParse reports a provider reply without a usable numeric vector.
	ErrEmbeddingParse = errors.New("embedding parse error")
	// ErrDimensionMismatch is returned when two vectors of different length are compared.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrZeroNorm is returned when a vector has no direction, so cosine is undefined.
	ErrZeroNorm = errors.New("embedding has zero norm")
	// ErrNotFinite is returned when a vector holds NaN or Inf, or its score would.
	ErrNotFinite = errors.New("embedding is not finite")
)

// ParseVector extracts the first bracketed, comma-separated list of numbers
// from a raw provider reply, e.g. `{"embedding":[0.1,-0.2]}`.
func ParseVector(raw string) (Vector, error) {
	start := strings.IndexByte(raw, '[')
	if start == -1 {
		return nil, fmt.Errorf("%w: no '[' in response", ErrEmbeddingParse)
	}
	end := strings.IndexByte(raw[start:], ']')
	if end == -1 {
		return nil, fmt.Errorf("%w: no ']' after '['", ErrEmbeddingParse)
	}
	body := strings.TrimSpace(raw[start+1 : start+end])
	if body == "" {
		return nil, fmt.Errorf("%w: empty vector", ErrEmbeddingParse)
	}

	parts := strings.Split(body, ",")
	vec := make(Vector, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrEmbeddingParse, i, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: element %d is not finite", ErrEmbeddingParse, i)
		}
		vec[i] = v
	}
	return vec, nil
}

// Cosine returns dot(a,b) / (|a|*|b|), clamped to [-1, 1].
// Vectors of different length, with zero norm or holding NaN/Inf have no defined similarity.
func Cosine(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	// Each vector is scaled by its largest magnitude first so the sums
	// neither overflow for huge elements nor underflow for tiny ones.
	sa, sb := maxAbs(a), maxAbs(b)
	if math.IsNaN(sa) || math.IsNaN(sb) || math.IsInf(sa, 0) || math.IsInf(sb, 0) {
		return 0, ErrNotFinite
	}
	if sa == 0 || sb == 0 {
		return 0, ErrZeroNorm
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := a[i]/sa, b[i]/sb
		dot += x * y
		normA += x * x
		normB += y * y
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, ErrNotFinite
	}
	return math.Max(-1, math.Min(1, sim)), nil
}

func maxAbs(v Vector) float64 {
	var m float64
	for _, x := range v {
		if math.IsNaN(x) {
			return x
		}
		if ax := math.Abs(x); ax > m {
			m = ax
		}
	}
	return m
}
