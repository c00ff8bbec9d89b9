package storage

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/vjranagit/keyframes/pkg/curveset"
)

// CurveCache implements an LRU cache of decoded curve sets
type CurveCache struct {
	capacity int
	ttl      time.Duration
	mu       sync.Mutex
	cache    map[string]*cacheEntry
	lru      *list.List
}

// cacheEntry represents a cached curve set
type cacheEntry struct {
	key       string
	set       curveset.CurveSet
	timestamp time.Time
	element   *list.Element
}

// NewCurveCache creates a new curve cache
func NewCurveCache(capacity int, ttl time.Duration) *CurveCache {
	return &CurveCache{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[string]*cacheEntry),
		lru:      list.New(),
	}
}

// Get retrieves a cached curve set
func (cc *CurveCache) Get(name string) (curveset.CurveSet, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	entry, exists := cc.cache[name]
	if !exists {
		return nil, false
	}

	// Check if entry has expired
	if time.Since(entry.timestamp) > cc.ttl {
		cc.removeLocked(name)
		return nil, false
	}

	// Move to front of LRU list (most recently used)
	cc.lru.MoveToFront(entry.element)

	return entry.set, true
}

// Put stores a curve set in the cache
func (cc *CurveCache) Put(name string, set curveset.CurveSet) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if entry, exists := cc.cache[name]; exists {
		entry.set = set
		entry.timestamp = time.Now()
		cc.lru.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{
		key:       name,
		set:       set,
		timestamp: time.Now(),
	}
	entry.element = cc.lru.PushFront(entry)
	cc.cache[name] = entry

	// Evict oldest entry if cache is full
	if cc.lru.Len() > cc.capacity {
		if oldest := cc.lru.Back(); oldest != nil {
			cc.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}
}

// Remove drops a curve set from the cache
func (cc *CurveCache) Remove(name string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.removeLocked(name)
}

// removeLocked removes an entry from the cache (must hold lock)
func (cc *CurveCache) removeLocked(name string) {
	if entry, exists := cc.cache[name]; exists {
		cc.lru.Remove(entry.element)
		delete(cc.cache, name)
	}
}

// Clear clears all cache entries
func (cc *CurveCache) Clear() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.cache = make(map[string]*cacheEntry)
	cc.lru = list.New()
}

// Size returns the current cache size
func (cc *CurveCache) Size() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.cache)
}

// Stats returns cache statistics
func (cc *CurveCache) Stats() CacheStats {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	expired := 0
	for _, entry := range cc.cache {
		if time.Since(entry.timestamp) > cc.ttl {
			expired++
		}
	}

	return CacheStats{
		Size:     len(cc.cache),
		Capacity: cc.capacity,
		Expired:  expired,
	}
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
	Expired  int `json:"expired"`
}

// CachedArchive wraps an archive with a curve set cache
type CachedArchive struct {
	Archive
	cache  *CurveCache
	hits   uint64
	misses uint64
	mu     sync.RWMutex
}

// NewCachedArchive creates a cached archive wrapper
func NewCachedArchive(archive Archive, capacity int, ttl time.Duration) *CachedArchive {
	return &CachedArchive{
		Archive: archive,
		cache:   NewCurveCache(capacity, ttl),
	}
}

// Put stores through to the archive and invalidates the cached copy
func (ca *CachedArchive) Put(ctx context.Context, name string, set curveset.CurveSet) error {
	err := ca.Archive.Put(ctx, name, set)
	ca.cache.Remove(name)
	return err
}

// Delete removes from the archive and the cache
func (ca *CachedArchive) Delete(ctx context.Context, name string) error {
	err := ca.Archive.Delete(ctx, name)
	ca.cache.Remove(name)
	return err
}

// Get checks the cache before reading the archive. Cached sets are shared and
// must not be modified.
func (ca *CachedArchive) Get(ctx context.Context, name string) (curveset.CurveSet, error) {
	if set, ok := ca.cache.Get(name); ok {
		ca.mu.Lock()
		ca.hits++
		ca.mu.Unlock()
		return set, nil
	}

	ca.mu.Lock()
	ca.misses++
	ca.mu.Unlock()

	set, err := ca.Archive.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	ca.cache.Put(name, set)

	return set, nil
}

// CacheStats returns cache statistics with the hit and miss counters
func (ca *CachedArchive) CacheStats() (CacheStats, uint64, uint64) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.cache.Stats(), ca.hits, ca.misses
}

// CacheHitRate returns the cache hit rate as a percentage
func (ca *CachedArchive) CacheHitRate() float64 {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	total := ca.hits + ca.misses
	if total == 0 {
		return 0.0
	}

	return float64(ca.hits) / float64(total) * 100.0
}
