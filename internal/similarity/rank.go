// Package similarity ranks candidate vectors against a query by cosine
// similarity.
package similarity

import (
	"sort"
	"strings"

	"recommender/internal/embeddings"
)

// Match is one ranked candidate.
type Match struct {
	Name  string
	Score float64
}

// Exclusion is a candidate that could not be scored, e.g. because its
// dimensionality differs from the query's or its norm is zero.
type Exclusion struct {
	Name string
	Err  error
}

// Rank scores every candidate except exclude (compared case-insensitively)
// and returns the k best by descending score. Exact score ties are broken by
// ascending case-insensitive name, then by raw name, so the output never
// depends on map iteration order. k <= 0 yields no matches.
func Rank(query embeddings.Vector, candidates map[string]embeddings.Vector, exclude string, k int) ([]Match, []Exclusion) {
	if k <= 0 {
		return nil, nil
	}

	exclude = strings.TrimSpace(exclude)
	matches := make([]Match, 0, len(candidates))
	var excluded []Exclusion
	for name, vec := range candidates {
		if strings.EqualFold(strings.TrimSpace(name), exclude) {
			continue
		}
		score, err := embeddings.Cosine(query, vec)
		if err != nil {
			excluded = append(excluded, Exclusion{Name: name, Err: err})
			continue
		}
		matches = append(matches, Match{Name: name, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if la != lb {
			return la < lb
		}
		return a.Name < b.Name
	})
	sort.Slice(excluded, func(i, j int) bool { return excluded[i].Name < excluded[j].Name })

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, excluded
}
