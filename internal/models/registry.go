package models

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/n0madic/go-qwenmock/internal/codec"
	"github.com/n0madic/go-qwenmock/internal/pool"
	"github.com/n0madic/go-qwenmock/internal/types"
)

// cacheTTL is how long to cache the remote model list before background refresh.
const cacheTTL = 5 * time.Minute

// backgroundFetchTimeout bounds refreshes that outlive the triggering request.
const backgroundFetchTimeout = 60 * time.Second

// FetchFunc returns the upstream model ids.
type FetchFunc func(ctx context.Context) ([]string, error)

// PoolFetcher fetches the model list through the next client in p.
func PoolFetcher(p *pool.Pool) FetchFunc {
	return func(ctx context.Context) ([]string, error) {
		client, err := p.SelectNext(ctx)
		if err != nil {
			return nil, err
		}
		list, err := client.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		return list.IDs, nil
	}
}

// Registry fetches and caches the available model list from the upstream.
type Registry struct {
	mu        sync.RWMutex
	fetchMu   sync.Mutex // prevents concurrent fetches
	fetch     FetchFunc
	thinking  map[string]bool
	models    []string
	lastFetch time.Time
	now       func() time.Time
}

// NewRegistry creates a registry. thinking lists the models that get a
// -thinking variant in ModelList; nil means DefaultThinkingModels.
func NewRegistry(fetch FetchFunc, thinking []string) *Registry {
	if thinking == nil {
		thinking = DefaultThinkingModels()
	}
	return &Registry{fetch: fetch, thinking: thinkingSet(thinking), now: time.Now}
}

// GetModels returns the cached remote model list, refreshing if needed.
// If no cache is available, first call blocks to fetch. On stale cache, refreshes
// in background and returns the cached value immediately. Falls back to the static
// catalog if the remote fetch fails or produces an empty list.
func (r *Registry) GetModels(ctx context.Context) []string {
	r.mu.RLock()
	age := r.now().Sub(r.lastFetch)
	cached := r.models
	r.mu.RUnlock()

	if len(cached) == 0 {
		r.fetchMu.Lock()
		r.mu.RLock()
		cached = r.models
		r.mu.RUnlock()
		if len(cached) == 0 {
			if err := r.doFetch(ctx); err != nil {
				slog.Warn("models fetch failed, using static fallback", "error", err)
			}
			r.mu.RLock()
			cached = r.models
			r.mu.RUnlock()
		}
		r.fetchMu.Unlock()

		if len(cached) == 0 {
			return StaticFallback()
		}
		return cached
	}

	if age >= cacheTTL {
		go func() {
			if !r.fetchMu.TryLock() {
				return
			}
			defer r.fetchMu.Unlock()
			bg, cancel := context.WithTimeout(context.Background(), backgroundFetchTimeout)
			defer cancel()
			if err := r.doFetch(bg); err != nil {
				slog.Warn("background models refresh failed", "error", err)
			}
		}()
	}

	return cached
}

// Refresh forces an immediate synchronous fetch and returns the result.
// Returns the fetched models on success, or the static fallback on error.
func (r *Registry) Refresh(ctx context.Context) ([]string, error) {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()
	err := r.doFetch(ctx)
	r.mu.RLock()
	result := r.models
	r.mu.RUnlock()
	if len(result) == 0 {
		return StaticFallback(), err
	}
	return result, err
}

// ModelList returns the OpenAI-shaped model list, thinking variants included.
func (r *Registry) ModelList(ctx context.Context) types.ModelList {
	return codec.BuildModelList(r.GetModels(ctx), r.thinking)
}

// IsPopulated reports whether the registry has remote data (not just static fallback).
func (r *Registry) IsPopulated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models) > 0
}

// IsThinkingCapable reports whether model has a -thinking variant.
func (r *Registry) IsThinkingCapable(model string) bool {
	return r.thinking[strings.ToLower(strings.TrimSpace(model))]
}

// doFetch calls the upstream and replaces the cache. An empty result keeps
// the previous cache. Caller must hold fetchMu.
func (r *Registry) doFetch(ctx context.Context) error {
	if r.fetch == nil {
		return fmt.Errorf("no model source configured")
	}
	ids, err := r.fetch(ctx)
	if err != nil {
		return fmt.Errorf("models fetch failed: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("models endpoint returned an empty list")
	}

	r.mu.Lock()
	r.models = ids
	r.lastFetch = r.now()
	r.mu.Unlock()
	return nil
}
