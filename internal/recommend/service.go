// Package recommend joins the catalog, the embedding cache and the ranker
// into similar-item recommendations.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"recommender/internal/cache"
	"recommender/internal/catalog"
	"recommender/internal/embeddings"
	"recommender/internal/metrics"
	"recommender/internal/similarity"
)

// ErrUnavailable means the reference item's own vector could not be
// obtained, so no ranking was possible. It is distinct from an empty result.
var ErrUnavailable = errors.New("recommendations unavailable")

// EmbeddingCache is the part of *cache.Manager the service relies on.
type EmbeddingCache interface {
	Load(ctx context.Context, category string) (cache.Snapshot, []cache.ItemFailure, error)
	GetOrCreate(ctx context.Context, category, itemName, prompt string) (embeddings.Vector, error)
	Populate(ctx context.Context, category string, items []cache.Item) []cache.ItemFailure
	Snapshot(category string) cache.Snapshot
}

// Recommender is what the HTTP layer and the warm-up worker consume.
type Recommender interface {
	Recommend(ctx context.Context, category, referenceName string, k int) (Response, error)
	Warm(ctx context.Context, category string) ([]cache.ItemFailure, error)
}

// Result is one recommended item. Similarity is the raw cosine score scaled
// by 100 with its sign kept.
type Result struct {
	Name                 string  `json:"name"`
	Rating               string  `json:"rating"`
	Description          string  `json:"description"`
	Creator              string  `json:"creator"`
	Contributors         string  `json:"contributors"`
	Similarity           float64 `json:"similarity_score"`
	SimilarityPercentage string  `json:"similarity"`
}

// Response carries the ranked results and every per-item failure met on the
// way. Diagnostics never make the request fail.
type Response struct {
	Results     []Result
	Diagnostics []cache.ItemFailure
}

type Service struct {
	catalog catalog.Catalog
	cache   EmbeddingCache
	log     *slog.Logger
}

func NewService(cat catalog.Catalog, ec EmbeddingCache, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{catalog: cat, cache: ec, log: log}
}

// Recommend returns up to k items of category most similar to referenceName.
// An unknown reference yields an empty Response and no error.
func (s *Service) Recommend(ctx context.Context, category, referenceName string, k int) (Response, error) {
	log := s.log.With("category", category, "reference", referenceName)

	ref, ok, err := s.catalog.Lookup(ctx, category, referenceName)
	if err != nil {
		metrics.Recommendations.WithLabelValues("error").Inc()
		return Response{}, fmt.Errorf("lookup %q: %w", referenceName, err)
	}
	if !ok {
		metrics.Recommendations.WithLabelValues("not_found").Inc()
		log.Info("reference item not in catalog")
		return Response{}, nil
	}
	if k <= 0 {
		metrics.Recommendations.WithLabelValues("empty").Inc()
		return Response{}, nil
	}

	query, err := s.cache.GetOrCreate(ctx, category, ref.Name, ref.Prompt())
	if err != nil {
		metrics.Recommendations.WithLabelValues("unavailable").Inc()
		log.Warn("reference embedding unavailable", "err", err)
		return Response{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	entries, err := s.catalog.ListAll(ctx, category)
	if err != nil {
		metrics.Recommendations.WithLabelValues("error").Inc()
		return Response{}, fmt.Errorf("list %s: %w", category, err)
	}
	_, diagnostics, err := s.cache.Load(ctx, category)
	if err != nil {
		metrics.Recommendations.WithLabelValues("error").Inc()
		return Response{}, err
	}
	diagnostics = append(diagnostics, s.cache.Populate(ctx, category, items(entries))...)

	snap := s.cache.Snapshot(category)
	candidates := make(map[string]embeddings.Vector, len(entries))
	byName := make(map[string]catalog.Entry, len(entries))
	for _, e := range entries {
		vec, ok := snap.Get(e.Name)
		if !ok {
			continue
		}
		candidates[e.Name] = vec
		byName[e.Name] = e
	}

	matches, excluded := similarity.Rank(query, candidates, ref.Name, k)
	for _, ex := range excluded {
		log.Warn("candidate not scored", "item", ex.Name, "err", ex.Err)
		diagnostics = append(diagnostics, cache.ItemFailure{
			Category: category, Item: ex.Name, Stage: cache.StageRank, Err: ex.Err,
		})
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		e := byName[m.Name]
		results = append(results, Result{
			Name:                 e.Name,
			Rating:               e.Rating,
			Description:          e.Description,
			Creator:              e.Creator,
			Contributors:         e.Contributors,
			Similarity:           m.Score * 100,
			SimilarityPercentage: FormatPercentage(m.Score),
		})
	}

	if len(results) == 0 {
		metrics.Recommendations.WithLabelValues("empty").Inc()
	} else {
		metrics.Recommendations.WithLabelValues("ok").Inc()
	}
	log.Info("recommendations computed", "requested", k, "returned", len(results), "diagnostics", len(diagnostics))
	return Response{Results: results, Diagnostics: diagnostics}, nil
}

// Warm fills the category's cache for every catalog entry without ranking.
func (s *Service) Warm(ctx context.Context, category string) ([]cache.ItemFailure, error) {
	if err := catalog.ValidateCategory(category); err != nil {
		return nil, err
	}
	entries, err := s.catalog.ListAll(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", category, err)
	}
	_, failures, err := s.cache.Load(ctx, category)
	if err != nil {
		return nil, err
	}
	return append(failures, s.cache.Populate(ctx, category, items(entries))...), nil
}

// FormatPercentage renders a cosine score as a percentage with two decimals.
func FormatPercentage(score float64) string {
	out := fmt.Sprintf("%.2f%%", score*100)
	if out == "-0.00%" {
		return "0.00%"
	}
	return out
}

func items(entries []catalog.Entry) []cache.Item {
	out := make([]cache.Item, 0, len(entries))
	for _, e := range entries {
		out = append(out, cache.Item{Name: e.Name, Prompt: e.Prompt()})
	}
	return out
}
