package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"recommender/internal/embeddings"
	"recommender/internal/metrics"
)

const (
	defaultProviderTimeout = 30 * time.Second
	defaultConcurrency     = 4
)

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	// ProviderTimeout bounds every embedding provider call.
	ProviderTimeout time.Duration
	// Concurrency bounds parallel provider calls during Populate.
	Concurrency int
}

// Manager owns the per-category embedding caches. A category is loaded from
// the Backend once, on first use, and then grows as misses are resolved.
//
// At most one provider call is in flight per (category, item); concurrent
// callers for the same key share its result. Callers that give up early do
// not cancel the shared call or the durable append that follows it.
type Manager struct {
	backend  Backend
	embedder embeddings.Embedder
	log      *slog.Logger
	timeout  time.Duration
	workers  int

	mu         sync.Mutex
	categories map[string]*categoryCache
	// pending holds vectors resolved while their category was invalidated
	// and not yet reloaded; the reload merges them.
	pending map[string]map[string]embeddings.Vector

	loads   singleflight.Group
	flights singleflight.Group
}

type categoryCache struct {
	mu       sync.RWMutex
	vectors  map[string]embeddings.Vector
	failures []ItemFailure
}

func NewManager(backend Backend, embedder embeddings.Embedder, log *slog.Logger, opts Options) *Manager {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		backend:    backend,
		embedder:   embedder,
		log:        log,
		timeout:    opts.ProviderTimeout,
		workers:    opts.Concurrency,
		categories: make(map[string]*categoryCache),
		pending:    make(map[string]map[string]embeddings.Vector),
	}
}

// Load returns the category's cache, reading durable storage on first use.
// The failures are the rows skipped while decoding durable storage.
func (m *Manager) Load(ctx context.Context, category string) (Snapshot, []ItemFailure, error) {
	cc, err := m.category(ctx, category)
	if err != nil {
		return nil, nil, err
	}
	cc.mu.RLock()
	failures := append([]ItemFailure(nil), cc.failures...)
	cc.mu.RUnlock()
	return cc.snapshot(), failures, nil
}

// GetOrCreate returns the cached vector for itemName, generating it from
// prompt and persisting it on a miss. Provider failures wrap
// ErrEmbeddingProvider.
func (m *Manager) GetOrCreate(ctx context.Context, category, itemName, prompt string) (embeddings.Vector, error) {
	cc, err := m.category(ctx, category)
	if err != nil {
		return nil, err
	}

	key := NormalizeName(itemName)
	if vec, ok := cc.get(key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return vec, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	ch := m.flights.DoChan(category+"\x00"+key, func() (any, error) {
		// A flight for this key may have finished between the lookup above and now.
		if vec, ok := cc.get(key); ok {
			return vec, nil
		}

		vec, err := m.generate(ctx, prompt)
		if err != nil {
			return nil, err
		}

		if err := m.backend.Append(context.WithoutCancel(ctx), category, itemName, vec); err != nil {
			metrics.CacheAppendErrors.Inc()
			m.log.Error("failed to persist embedding", "category", category, "item", itemName, "err", err)
		}
		m.publish(category, key, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrEmbeddingProvider, itemName, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(embeddings.Vector), nil
	}
}

// Populate resolves a vector for every item not cached yet. Items whose
// vector cannot be obtained are reported and skipped; the rest proceed.
func (m *Manager) Populate(ctx context.Context, category string, items []Item) []ItemFailure {
	cc, err := m.category(ctx, category)
	if err != nil {
		return []ItemFailure{{Category: category, Stage: StageDecode, Err: err}}
	}

	var (
		mu       sync.Mutex
		failures []ItemFailure
		g        errgroup.Group
		seen     = make(map[string]struct{}, len(items))
		pending  int
	)
	g.SetLimit(m.workers)

	for _, it := range items {
		key := NormalizeName(it.Name)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := cc.get(key); ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			mu.Lock()
			failures = append(failures, ItemFailure{Category: category, Stage: StageEmbed,
				Err: fmt.Errorf("population interrupted: %w", err)})
			mu.Unlock()
			break
		}

		pending++
		g.Go(func() error {
			if _, err := m.GetOrCreate(ctx, category, it.Name, it.Prompt); err != nil {
				m.log.Warn("skipping item without embedding", "category", category, "item", it.Name, "err", err)
				mu.Lock()
				failures = append(failures, ItemFailure{Category: category, Item: it.Name, Stage: StageEmbed, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if pending > 0 {
		m.log.Info("embedding cache populated", "category", category, "requested", pending, "failed", len(failures))
	}
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Item < failures[j].Item })
	return failures
}

// Snapshot copies the category's in-memory vectors. A category that was
// never loaded yields an empty snapshot.
func (m *Manager) Snapshot(category string) Snapshot {
	if cc := m.cached(category); cc != nil {
		return cc.snapshot()
	}
	return Snapshot{}
}

// Invalidate drops the in-memory copy of a category; the next access reloads
// it from durable storage. Durable entries are never rewritten.
func (m *Manager) Invalidate(category string) {
	m.mu.Lock()
	delete(m.categories, category)
	m.mu.Unlock()
	m.log.Info("embedding cache invalidated", "category", category)
}

// publish adds vec to the category's current cache, which differs from the
// one a flight started with if the category was invalidated meanwhile.
func (m *Manager) publish(category, key string, vec embeddings.Vector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cc := m.categories[category]; cc != nil {
		cc.put(key, vec)
		return
	}
	if m.pending[category] == nil {
		m.pending[category] = make(map[string]embeddings.Vector)
	}
	m.pending[category][key] = vec
}

func (m *Manager) cached(category string) *categoryCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.categories[category]
}

func (m *Manager) category(ctx context.Context, category string) (*categoryCache, error) {
	if cc := m.cached(category); cc != nil {
		return cc, nil
	}

	ch := m.loads.DoChan(category, func() (any, error) {
		if cc := m.cached(category); cc != nil {
			return cc, nil
		}
		records, failures, err := m.backend.Load(context.WithoutCancel(ctx), category)
		if err != nil {
			return nil, fmt.Errorf("load %s embedding cache: %w", category, err)
		}

		cc := &categoryCache{
			vectors:  make(map[string]embeddings.Vector, len(records)),
			failures: failures,
		}
		// Duplicate rows: the last one decoded wins.
		for _, r := range records {
			cc.vectors[NormalizeName(r.Name)] = r.Vector
		}
		for _, f := range failures {
			m.log.Warn("skipping cache row", "category", category, "item", f.Item, "err", f.Err)
		}
		m.log.Info("embedding cache loaded", "category", category, "entries", len(cc.vectors), "skipped", len(failures))

		m.mu.Lock()
		for key, vec := range m.pending[category] {
			if _, ok := cc.vectors[key]; !ok {
				cc.vectors[key] = vec
			}
		}
		delete(m.pending, category)
		m.categories[category] = cc
		m.mu.Unlock()
		return cc, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*categoryCache), nil
	}
}

func (m *Manager) generate(ctx context.Context, prompt string) (embeddings.Vector, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	start := time.Now()
	vec, err := m.embedder.Embed(callCtx, prompt)
	metrics.ProviderDuration.Observe(time.Since(start).Seconds())

	if err == nil && len(vec) == 0 {
		err = fmt.Errorf("%w: empty vector", embeddings.ErrEmbeddingParse)
	}
	if err != nil {
		metrics.ProviderCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingProvider, err)
	}
	metrics.ProviderCalls.WithLabelValues("ok").Inc()
	return vec, nil
}

func (c *categoryCache) get(key string) (embeddings.Vector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vectors[key]
	return v, ok
}

func (c *categoryCache) put(key string, vec embeddings.Vector) {
	c.mu.Lock()
	c.vectors[key] = vec
	c.mu.Unlock()
}

func (c *categoryCache) snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(Snapshot, len(c.vectors))
	for k, v := range c.vectors {
		out[k] = v
	}
	return out
}
