package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vjranagit/keyframes/pkg/curveset"
)

func TestCurveCache(t *testing.T) {
	cache := NewCurveCache(100, 1*time.Minute)

	// Test cache miss
	if _, ok := cache.Get("walk"); ok {
		t.Error("Expected cache miss, got hit")
	}

	set := curveset.CurveSet{
		{Entity: "Hip", Channel: "tx"}: line(0, 10),
	}
	cache.Put("walk", set)

	cached, ok := cache.Get("walk")
	if !ok {
		t.Fatal("Expected cache hit, got miss")
	}

	if len(cached) != 1 {
		t.Errorf("Expected 1 channel, got %d", len(cached))
	}
}

func TestCurveCacheTTL(t *testing.T) {
	// Short TTL for testing
	cache := NewCurveCache(100, 100*time.Millisecond)

	cache.Put("walk", curveset.CurveSet{})

	if _, ok := cache.Get("walk"); !ok {
		t.Error("Expected cache hit")
	}

	// Wait for expiry
	time.Sleep(150 * time.Millisecond)

	if _, ok := cache.Get("walk"); ok {
		t.Error("Expected cache miss after TTL expiry")
	}
}

func TestCurveCacheLRUEviction(t *testing.T) {
	cache := NewCurveCache(3, 1*time.Minute)

	for i := 0; i < 4; i++ {
		cache.Put(fmt.Sprintf("clip_%d", i), curveset.CurveSet{})
	}

	if cache.Size() != 3 {
		t.Errorf("Expected cache size 3, got %d", cache.Size())
	}

	if _, ok := cache.Get("clip_0"); ok {
		t.Error("Expected clip_0 to be evicted")
	}

	if _, ok := cache.Get("clip_3"); !ok {
		t.Error("Expected clip_3 to be in cache")
	}
}

func TestCacheStats(t *testing.T) {
	cache := NewCurveCache(100, 1*time.Minute)

	stats := cache.Stats()
	if stats.Size != 0 {
		t.Errorf("Expected initial size 0, got %d", stats.Size)
	}

	for i := 0; i < 10; i++ {
		cache.Put(fmt.Sprintf("clip_%d", i), curveset.CurveSet{})
	}

	stats = cache.Stats()
	if stats.Size != 10 {
		t.Errorf("Expected size 10, got %d", stats.Size)
	}

	if stats.Capacity != 100 {
		t.Errorf("Expected capacity 100, got %d", stats.Capacity)
	}
}

func TestCachedArchive(t *testing.T) {
	archive := openTestArchive(t)
	cached := NewCachedArchive(archive, 10, time.Minute)
	ctx := context.Background()

	set := curveset.CurveSet{
		{Entity: "Hip", Channel: "tx"}: line(0, 6, 12),
	}
	if err := cached.Put(ctx, "walk", set); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := cached.Get(ctx, "walk"); err != nil {
			t.Fatalf("Failed to get: %v", err)
		}
	}

	_, hits, misses := cached.CacheStats()
	if hits != 2 || misses != 1 {
		t.Errorf("Expected 2 hits and 1 miss, got %d hits and %d misses", hits, misses)
	}

	// A new put must not be shadowed by the cached copy
	replaced := curveset.CurveSet{
		{Entity: "Hip", Channel: "ty"}: line(0, 12),
	}
	if err := cached.Put(ctx, "walk", replaced); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	got, err := cached.Get(ctx, "walk")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if _, ok := got[curveset.ChannelID{Entity: "Hip", Channel: "ty"}]; !ok {
		t.Error("Expected the replaced curve set")
	}

	if err := cached.Delete(ctx, "walk"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := cached.Get(ctx, "walk"); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("Expected ErrClipNotFound after delete, got %v", err)
	}

	if rate := cached.CacheHitRate(); rate <= 0 || rate >= 100 {
		t.Errorf("Expected hit rate between 0 and 100, got %f", rate)
	}
}
