package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"recommender/internal/app"
	"recommender/internal/cache"
	"recommender/internal/catalog"
	"recommender/internal/config"
	"recommender/internal/embeddings"
	"recommender/internal/queue"
	"recommender/internal/recommend"
)

func newTestDeps(rec recommend.Recommender, q queue.Queue) app.Deps {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return app.Deps{
		Config:      config.Config{DefaultCount: 5, MaxCount: 50},
		Log:         log,
		Recommender: rec,
		Queue:       q,
		Cache:       cache.NewManager(cache.NewNoOpBackend(), &embeddings.MockEmbedder{}, log, cache.Options{}),
	}
}

func TestRecommendHandler(t *testing.T) {
	beta := recommend.Result{Name: "Beta", Rating: "8.1", Similarity: 0, SimilarityPercentage: "0.00%"}

	tests := []struct {
		name       string
		query      string
		setup      func(*recommend.MockRecommender)
		wantStatus int
		check      func(*testing.T, map[string]any)
	}{
		{
			name:  "success with default count",
			query: "name=Alpha&genre=Drama",
			setup: func(m *recommend.MockRecommender) {
				m.On("Recommend", mock.Anything, "Drama", "Alpha", 5).
					Return(recommend.Response{
						Results: []recommend.Result{beta},
						Diagnostics: []cache.ItemFailure{
							{Category: "Drama", Item: "Wide", Stage: cache.StageRank, Err: embeddings.ErrDimensionMismatch},
						},
					}, nil).Once()
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				results := body["results"].([]any)
				require.Len(t, results, 1)
				first := results[0].(map[string]any)
				assert.Equal(t, "Beta", first["name"])
				assert.Equal(t, "0.00%", first["similarity"])
				diags := body["diagnostics"].([]any)
				require.Len(t, diags, 1)
				assert.Equal(t, "rank", diags[0].(map[string]any)["stage"])
			},
		},
		{
			name:  "count above maximum is clamped",
			query: "name=Alpha&genre=Drama&count=500",
			setup: func(m *recommend.MockRecommender) {
				m.On("Recommend", mock.Anything, "Drama", "Alpha", 50).
					Return(recommend.Response{Results: []recommend.Result{beta}}, nil).Once()
			},
			wantStatus: http.StatusOK,
		},
		{name: "missing name", query: "genre=Drama", wantStatus: http.StatusBadRequest},
		{name: "missing genre", query: "name=Alpha", wantStatus: http.StatusBadRequest},
		{name: "non numeric count", query: "name=Alpha&genre=Drama&count=five", wantStatus: http.StatusBadRequest},
		{name: "negative count", query: "name=Alpha&genre=Drama&count=-1", wantStatus: http.StatusBadRequest},
		{
			name:  "invalid genre",
			query: "name=Alpha&genre=..%2Fetc",
			setup: func(m *recommend.MockRecommender) {
				m.On("Recommend", mock.Anything, "../etc", "Alpha", 5).
					Return(recommend.Response{}, fmt.Errorf("lookup: %w", catalog.ErrInvalidCategory)).Once()
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "unknown item",
			query: "name=Unknown&genre=Drama",
			setup: func(m *recommend.MockRecommender) {
				m.On("Recommend", mock.Anything, "Drama", "Unknown", 5).Return(recommend.Response{}, nil).Once()
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:  "zero count",
			query: "name=Alpha&genre=Drama&count=0",
			setup: func(m *recommend.MockRecommender) {
				m.On("Recommend", mock.Anything, "Drama", "Alpha", 0).Return(recommend.Response{}, nil).Once()
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:  "reference embedding unavailable",
			query: "name=Alpha&genre=Drama",
			setup: func(m *recommend.MockRecommender) {
				m.On("Recommend", mock.Anything, "Drama", "Alpha", 5).
					Return(recommend.Response{}, fmt.Errorf("%w: %w", recommend.ErrUnavailable, cache.ErrEmbeddingProvider)).Once()
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:  "unexpected failure",
			query: "name=Alpha&genre=Drama",
			setup: func(m *recommend.MockRecommender) {
				m.On("Recommend", mock.Anything, "Drama", "Alpha", 5).
					Return(recommend.Response{}, errors.New("disk gone")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recommend.MockRecommender{}
			if tt.setup != nil {
				tt.setup(rec)
			}
			srv := httptest.NewServer(newRouter(newTestDeps(rec, nil)))
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/api/recommend?" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.check != nil {
				var body map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				tt.check(t, body)
			}
			rec.AssertExpectations(t)
		})
	}
}

func TestWarmHandler(t *testing.T) {
	tests := []struct {
		name       string
		genre      string
		withQueue  bool
		setup      func(*queue.MockQueue)
		wantStatus int
	}{
		{name: "no queue configured", genre: "Drama", wantStatus: http.StatusServiceUnavailable},
		{
			name:      "enqueued",
			genre:     "Drama",
			withQueue: true,
			setup: func(q *queue.MockQueue) {
				q.On("Enqueue", mock.Anything, mock.MatchedBy(func(task queue.Task) bool {
					p, err := queue.DecodeWarm(task)
					return err == nil && p.Category == "Drama" && task.Type == queue.TaskTypeWarm
				})).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
		},
		{name: "invalid genre", genre: ".hidden", withQueue: true, wantStatus: http.StatusBadRequest},
		{
			name:      "queue down",
			genre:     "Drama",
			withQueue: true,
			setup: func(q *queue.MockQueue) {
				q.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("nats down")).Times(3)
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var deps app.Deps
			q := &queue.MockQueue{}
			if tt.setup != nil {
				tt.setup(q)
			}
			if tt.withQueue {
				deps = newTestDeps(&recommend.MockRecommender{}, q)
			} else {
				deps = newTestDeps(&recommend.MockRecommender{}, nil)
			}
			srv := httptest.NewServer(newRouter(deps))
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/categories/"+tt.genre+"/warm", "application/json", nil)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			q.AssertExpectations(t)
		})
	}
}

func TestInvalidateHandler(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestDeps(&recommend.MockRecommender{}, nil)))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/categories/Drama/cache", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestWarmTask(t *testing.T) {
	good, err := queue.NewWarmTask("Drama")
	require.NoError(t, err)

	tests := []struct {
		name    string
		task    queue.Task
		setup   func(*recommend.MockRecommender)
		wantErr bool
	}{
		{
			name: "populated",
			task: good,
			setup: func(m *recommend.MockRecommender) {
				m.On("Warm", mock.Anything, "Drama").Return([]cache.ItemFailure{
					{Category: "Drama", Stage: cache.StageDecode, Err: errors.New("bad row")},
				}, nil).Once()
			},
		},
		{
			name: "provider failures are retried",
			task: good,
			setup: func(m *recommend.MockRecommender) {
				m.On("Warm", mock.Anything, "Drama").Return([]cache.ItemFailure{
					{Category: "Drama", Item: "Beta", Stage: cache.StageEmbed, Err: cache.ErrEmbeddingProvider},
				}, nil).Once()
			},
			wantErr: true,
		},
		{
			name: "backend failure is retried",
			task: good,
			setup: func(m *recommend.MockRecommender) {
				m.On("Warm", mock.Anything, "Drama").Return(nil, errors.New("redis down")).Once()
			},
			wantErr: true,
		},
		{name: "garbage payload is dropped", task: queue.Task{Type: queue.TaskTypeWarm, Payload: []byte("{")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recommend.MockRecommender{}
			if tt.setup != nil {
				tt.setup(rec)
			}
			err := warmTask(newTestDeps(rec, nil))(context.Background(), tt.task)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			rec.AssertExpectations(t)
		})
	}
}
