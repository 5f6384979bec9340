package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"recommender/internal/app"
	"recommender/internal/cache"
	"recommender/internal/catalog"
	"recommender/internal/httputil"
	"recommender/internal/metrics"
	"recommender/internal/queue"
	"recommender/internal/recommend"
)

const shutdownTimeout = 15 * time.Second

type recommendQuery struct {
	Name  string `validate:"required,max=500"`
	Genre string `validate:"required,max=100"`
	Count int    `validate:"min=0"`
}

type diagnostic struct {
	Item  string `json:"item,omitempty"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, deps)
	stop()
	if cerr := deps.Close(); cerr != nil {
		deps.Log.Warn("failed to close dependencies", "err", cerr)
	}
	if err != nil {
		deps.Log.Error("server failed", "err", err)
		os.Exit(1)
	}
}

// run serves HTTP and, when a queue is configured, consumes warm-up tasks
// until ctx is cancelled.
func run(ctx context.Context, deps app.Deps) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deps.Log.Info("recommender listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		deps.Log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if deps.Queue != nil {
		g.Go(func() error {
			return deps.Queue.Worker(ctx, queue.TaskTypeWarm, warmTask(deps))
		})
	}
	return g.Wait()
}

func newRouter(deps app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log)

	r.Get("/api/recommend", recommendHandler(deps))
	r.Post("/api/categories/{genre}/warm", warmHandler(deps))
	r.Delete("/api/categories/{genre}/cache", invalidateHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps))
	r.Handle("/metrics", metrics.Handler())
	return r
}

func recommendHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := recommendQuery{
			Name:  r.URL.Query().Get("name"),
			Genre: r.URL.Query().Get("genre"),
			Count: deps.Config.DefaultCount,
		}
		if raw := r.URL.Query().Get("count"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				httputil.Fail(deps.Log, w, "count must be an integer", err, http.StatusBadRequest)
				return
			}
			q.Count = n
		}
		if err := httputil.Validator.Struct(&q); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		if limit := deps.Config.MaxCount; limit > 0 && q.Count > limit {
			q.Count = limit
		}

		resp, err := deps.Recommender.Recommend(r.Context(), q.Genre, q.Name, q.Count)
		switch {
		case errors.Is(err, catalog.ErrInvalidCategory):
			httputil.Fail(deps.Log, w, "invalid genre", err, http.StatusBadRequest)
			return
		case errors.Is(err, recommend.ErrUnavailable):
			httputil.Fail(deps.Log, w, "recommendations unavailable; please retry", err, http.StatusServiceUnavailable)
			return
		case err != nil:
			httputil.Fail(deps.Log, w, "failed to compute recommendations", err, http.StatusInternalServerError)
			return
		}
		if len(resp.Results) == 0 {
			httputil.Fail(deps.Log, w, "no recommendations found", nil, http.StatusNotFound)
			return
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"name":        q.Name,
			"genre":       q.Genre,
			"results":     resp.Results,
			"diagnostics": diagnostics(resp.Diagnostics),
		})
	}
}

func warmHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		genre := chi.URLParam(r, "genre")
		if deps.Queue == nil {
			httputil.Fail(deps.Log, w, "cache warm-up is not configured", nil, http.StatusServiceUnavailable)
			return
		}
		if err := catalog.ValidateCategory(genre); err != nil {
			httputil.Fail(deps.Log, w, "invalid genre", err, http.StatusBadRequest)
			return
		}

		task, err := queue.NewWarmTask(genre)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to build warm-up task", err, http.StatusInternalServerError)
			return
		}
		if err := queue.EnqueueWithRetry(r.Context(), deps.Queue, task, 3, 200*time.Millisecond); err != nil {
			httputil.Fail(deps.Log, w, "failed to enqueue warm-up; please retry", err, http.StatusServiceUnavailable)
			return
		}

		deps.Log.Info("warm-up enqueued", "genre", genre, "task_id", task.ID)
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"task_id": task.ID.String(),
			"genre":   genre,
		})
	}
}

func invalidateHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		genre := chi.URLParam(r, "genre")
		if err := catalog.ValidateCategory(genre); err != nil {
			httputil.Fail(deps.Log, w, "invalid genre", err, http.StatusBadRequest)
			return
		}
		deps.Cache.Invalidate(genre)
		w.WriteHeader(http.StatusNoContent)
	}
}

// warmTask populates the task's category. Undecodable tasks are dropped;
// a run with provider failures is returned as an error so the queue retries it.
func warmTask(deps app.Deps) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		p, err := queue.DecodeWarm(task)
		if err != nil {
			deps.Log.Error("dropping warm-up task", "id", task.ID, "err", err)
			return nil
		}

		failures, err := deps.Recommender.Warm(ctx, p.Category)
		if errors.Is(err, catalog.ErrInvalidCategory) {
			deps.Log.Error("dropping warm-up task", "id", task.ID, "genre", p.Category, "err", err)
			return nil
		}
		if err != nil {
			return err
		}

		var embedFailures int
		for _, f := range failures {
			if f.Stage == cache.StageEmbed {
				embedFailures++
			}
		}
		deps.Log.Info("warm-up finished", "genre", p.Category, "failures", len(failures))
		if embedFailures > 0 {
			return fmt.Errorf("warm %s: %d items without embedding", p.Category, embedFailures)
		}
		return nil
	}
}

func diagnostics(failures []cache.ItemFailure) []diagnostic {
	out := make([]diagnostic, 0, len(failures))
	for _, f := range failures {
		out = append(out, diagnostic{Item: f.Item, Stage: string(f.Stage), Error: f.Err.Error()})
	}
	return out
}
