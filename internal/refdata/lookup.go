package refdata

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/verdictlabs/verdict/model"
)

// LookupCache resolves reference-data collections to dropdown option lists
// with TTL caching. Only active entities are offered as options.
type LookupCache struct {
	store      Store
	defaultTTL time.Duration
	maxEntries int
	onHit      func(kind string)
	onMiss     func(kind string)

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	options   []model.OptionDescriptor
	expiresAt time.Time
}

// LookupOption configures a LookupCache.
type LookupOption func(*LookupCache)

// WithLookupObserver registers hooks invoked on every cache hit and miss.
func WithLookupObserver(onHit, onMiss func(kind string)) LookupOption {
	return func(lc *LookupCache) {
		lc.onHit = onHit
		lc.onMiss = onMiss
	}
}

// NewLookupCache creates a lookup cache over the given store.
func NewLookupCache(store Store, defaultTTL time.Duration, maxEntries int, opts ...LookupOption) *LookupCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	lc := &LookupCache{
		store:      store,
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(lc)
	}
	return lc
}

// Options resolves a collection to its option list, filtered by query.
func (lc *LookupCache) Options(
	ctx context.Context,
	rctx *model.RequestContext,
	kind model.RefKind,
	query string,
) ([]model.OptionDescriptor, error) {
	if !model.KnownRefKind(kind) {
		return nil, model.NewNotFoundError(fmt.Sprintf("lookup %q not found", kind))
	}

	cacheKey := buildCacheKey(kind, rctx.TenantID)
	if options, hit := lc.getFromCache(cacheKey); hit {
		if lc.onHit != nil {
			lc.onHit(string(kind))
		}
		return filterOptions(options, query), nil
	}
	if lc.onMiss != nil {
		lc.onMiss(string(kind))
	}

	// Cache miss: load every active entity of the collection.
	page, err := lc.store.List(ctx, rctx.TenantID, kind, model.RefFilters{
		Lifecycle: model.LifecycleActive,
		Page:      1,
		PerPage:   1000,
	})
	if err != nil {
		return nil, err
	}

	options := make([]model.OptionDescriptor, 0, len(page.Items))
	for _, entity := range page.Items {
		options = append(options, model.OptionDescriptor{
			Value: entity.ID,
			Label: entity.Name,
		})
	}

	lc.putInCache(cacheKey, options, lc.defaultTTL)
	return filterOptions(options, query), nil
}

// buildCacheKey scopes the cache entry to the collection and tenant.
func buildCacheKey(kind model.RefKind, tenantID string) string {
	return fmt.Sprintf("lookup:%s:%s", kind, tenantID)
}

// getFromCache returns cached options if the entry exists and hasn't
// expired.
func (lc *LookupCache) getFromCache(key string) ([]model.OptionDescriptor, bool) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	entry, exists := lc.cache[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.options, true
}

// putInCache stores options in the cache with TTL.
func (lc *LookupCache) putInCache(key string, options []model.OptionDescriptor, ttl time.Duration) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	// Evict expired entries if at capacity.
	if len(lc.cache) >= lc.maxEntries {
		lc.evictExpired()
	}

	lc.cache[key] = cacheEntry{
		options:   options,
		expiresAt: time.Now().Add(ttl),
	}
}

// evictExpired removes expired entries. Must be called with mu held.
func (lc *LookupCache) evictExpired() {
	now := time.Now()
	for k, v := range lc.cache {
		if now.After(v.expiresAt) {
			delete(lc.cache, k)
		}
	}
}

// Invalidate removes the cache entries for a collection. With an empty
// tenant id, every tenant's entry for the collection is dropped.
func (lc *LookupCache) Invalidate(kind model.RefKind, tenantID string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	prefix := fmt.Sprintf("lookup:%s:", kind)
	for k := range lc.cache {
		if strings.HasPrefix(k, prefix) {
			if tenantID == "" || strings.HasSuffix(k, ":"+tenantID) {
				delete(lc.cache, k)
			}
		}
	}
}

// CacheLen returns the number of entries in the cache. For testing.
func (lc *LookupCache) CacheLen() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return len(lc.cache)
}

// filterOptions filters options by query (case-insensitive match on label).
func filterOptions(options []model.OptionDescriptor, query string) []model.OptionDescriptor {
	if query == "" {
		return options
	}

	q := strings.ToLower(query)
	var filtered []model.OptionDescriptor
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Label), q) {
			filtered = append(filtered, opt)
		}
	}
	return filtered
}
