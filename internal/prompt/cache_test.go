package prompt

import (
	"sync"
	"testing"
	"time"

	"github.com/troika-ai/troika/internal/provider"
)

func cacheClock(at time.Time) (func() time.Time, func(d time.Duration)) {
	var mu sync.Mutex
	now := at
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		}
}

func TestCacheKey(t *testing.T) {
	k1 := CacheKey(provider.Reasoner, "what is the trend")
	k2 := CacheKey(provider.Technical, "what is the trend")
	k3 := CacheKey(provider.Reasoner, "what is the trend?")

	if len(k1) != 16 {
		t.Errorf("key length = %d, want 16", len(k1))
	}
	if k1 == k2 {
		t.Error("different providers must produce different keys")
	}
	if k1 == k3 {
		t.Error("different prompts must produce different keys")
	}
	if k1 != CacheKey(provider.Reasoner, "what is the trend") {
		t.Error("key derivation must be deterministic")
	}
}

func TestCacheRoundTripWithinTTL(t *testing.T) {
	nowFn, advance := cacheClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	c := NewResponseCache(DefaultCacheTTL, DefaultCacheEntries, WithCacheNow(nowFn))

	resp := &provider.Response{Success: true, Content: "cached answer", Channel: "deepseek"}
	c.Put("k1", resp)

	advance(299 * time.Second)
	got, ok := c.Get("k1")
	if !ok {
		t.Fatal("expected hit within TTL")
	}
	if got.Content != "cached answer" || !got.Success {
		t.Errorf("got %+v", got)
	}

	advance(2 * time.Second)
	if _, ok := c.Get("k1"); ok {
		t.Error("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be dropped on read, len = %d", c.Len())
	}
}

func TestCacheZeroTTLAlwaysMisses(t *testing.T) {
	c := NewResponseCache(0, 8)
	c.Put("k", &provider.Response{Content: "x"})
	if _, ok := c.Get("k"); ok {
		t.Error("zero TTL must never hit")
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewResponseCache(time.Hour, 2)
	c.Put("a", &provider.Response{Content: "a"})
	c.Put("b", &provider.Response{Content: "b"})

	// Touch a so b becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}

	c.Put("c", &provider.Response{Content: "c"})
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should have survived")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be present")
	}
}

func TestCacheReturnsIsolatedMetadata(t *testing.T) {
	c := NewResponseCache(time.Hour, 8)
	c.Put("k", &provider.Response{
		Content:  "x",
		Metadata: map[string]any{"model": "deepseek-chat"},
	})

	first, _ := c.Get("k")
	first.Metadata["cache_hit"] = true

	second, _ := c.Get("k")
	if _, ok := second.Metadata["cache_hit"]; ok {
		t.Error("caller annotations must not leak back into the cache")
	}
	if second.Metadata["model"] != "deepseek-chat" {
		t.Error("original metadata should be preserved")
	}
}

func TestCachePurge(t *testing.T) {
	c := NewResponseCache(time.Hour, 8)
	c.Put("a", &provider.Response{Content: "a"})
	c.Put("b", &provider.Response{Content: "b"})
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("len = %d after purge", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("purged entry still readable")
	}
}
