package prompt

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/troika-ai/troika/internal/metrics"
	"github.com/troika-ai/troika/internal/provider"
)

// Response cache defaults.
const (
	DefaultCacheTTL     = 300 * time.Second
	DefaultCacheEntries = 256
)

// CacheKey derives the cache key for a provider/prompt pair.
func CacheKey(kind provider.Kind, prompt string) string {
	sum := sha256.Sum256([]byte(kind.Name() + "\x00" + prompt))
	return hex.EncodeToString(sum[:])[:16]
}

type cacheItem struct {
	key        string
	resp       *provider.Response
	insertedAt time.Time
}

// ResponseCache is a TTL-bounded LRU for provider responses. A hit moves
// the entry to the recent end; inserting past capacity evicts the least
// recently used entry. Entries expire TTL after insertion regardless of
// reads, so a TTL of zero disables caching entirely.
type ResponseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	ll      *list.List // front = least recently used
	items   map[string]*list.Element
	metrics *metrics.Registry
	nowFunc func() time.Time
}

// CacheOption configures optional ResponseCache behaviour.
type CacheOption func(*ResponseCache)

// WithCacheMetrics records hit/miss/store/evict counts.
func WithCacheMetrics(reg *metrics.Registry) CacheOption {
	return func(c *ResponseCache) { c.metrics = reg }
}

// WithCacheNow overrides the clock, for tests.
func WithCacheNow(fn func() time.Time) CacheOption {
	return func(c *ResponseCache) { c.nowFunc = fn }
}

// NewResponseCache creates a cache holding at most maxEntries responses for
// at most ttl each.
func NewResponseCache(ttl time.Duration, maxEntries int, opts ...CacheOption) *ResponseCache {
	c := &ResponseCache{
		ttl:     ttl,
		max:     maxEntries,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy-safe view of the cached response for key, if present
// and fresh. The returned response shares content but not metadata with the
// stored entry, so callers may annotate it.
func (c *ResponseCache) Get(key string) (*provider.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.record("miss")
		return nil, false
	}
	item := el.Value.(*cacheItem)
	if c.nowFunc().Sub(item.insertedAt) >= c.ttl {
		c.ll.Remove(el)
		delete(c.items, key)
		c.record("miss")
		return nil, false
	}

	c.ll.MoveToBack(el)
	c.record("hit")
	return cloneResponse(item.resp), true
}

// Put stores a response under key, evicting the least recently used entry
// when the cache is full.
func (c *ResponseCache) Put(key string, resp *provider.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		item := el.Value.(*cacheItem)
		item.resp = resp
		item.insertedAt = c.nowFunc()
		c.ll.MoveToBack(el)
		c.record("store")
		return
	}

	if c.max > 0 && c.ll.Len() >= c.max {
		oldest := c.ll.Front()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheItem).key)
			c.record("evict")
		}
	}

	c.items[key] = c.ll.PushBack(&cacheItem{
		key:        key,
		resp:       resp,
		insertedAt: c.nowFunc(),
	})
	c.record("store")
}

// Len returns the number of cached entries, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Purge drops every entry.
func (c *ResponseCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

func (c *ResponseCache) record(op string) {
	if c.metrics != nil {
		c.metrics.CacheOps.WithLabelValues("response", op).Inc()
	}
}

// cloneResponse copies the response struct plus the fields a caller is
// allowed to mutate (metadata, usage). Content and citations are shared
// read-only.
func cloneResponse(r *provider.Response) *provider.Response {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	if r.Usage != nil {
		u := *r.Usage
		cp.Usage = &u
	}
	return &cp
}
