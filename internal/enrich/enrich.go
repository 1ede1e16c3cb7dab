// Package enrich adds current market context to agent requests. A research
// consultation is cached per symbol/strategy pair with a TTL, concurrent
// misses for the same key collapse into a single provider call, and the
// relevance heuristic keeps purely historical or computational tasks from
// paying for research at all.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/troika-ai/troika/internal/events"
	"github.com/troika-ai/troika/internal/metrics"
	"github.com/troika-ai/troika/internal/provider"
)

const defaultTTL = 300 * time.Second

// Sender dispatches one provider request. Satisfied by dispatch.Dispatcher.
type Sender interface {
	Send(ctx context.Context, req provider.Request) *provider.Response
}

var (
	errTimeout     = errors.New("enrichment timed out")
	errUnavailable = errors.New("research provider unavailable")
)

// Context keys attached to the enriched context alongside market_context.
const (
	statusTimeout     = "timeout"
	statusUnavailable = "unavailable"
	statusParseError  = "parse_error"
)

type cacheEntry struct {
	at      time.Time
	context map[string]any
}

// Enricher consults the research provider for market context and caches the
// parsed result. Safe for concurrent use.
type Enricher struct {
	sender  Sender
	ttl     time.Duration
	mode    Mode
	logger  *slog.Logger
	metrics *metrics.Registry
	bus     *events.Bus
	nowFunc func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry

	group singleflight.Group
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithTTL sets the cache entry lifetime. Default 300 s.
func WithTTL(d time.Duration) Option {
	return func(e *Enricher) {
		if d > 0 {
			e.ttl = d
		}
	}
}

// WithMode sets the relevance mode. Default ModeAuto.
func WithMode(m Mode) Option {
	return func(e *Enricher) { e.mode = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Enricher) { e.logger = l }
}

// WithMetrics records enrichment cache operations.
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Enricher) { e.metrics = m }
}

// WithEventBus publishes a refresh event per successful consultation.
func WithEventBus(b *events.Bus) Option {
	return func(e *Enricher) { e.bus = b }
}

// WithNow overrides the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(e *Enricher) { e.nowFunc = fn }
}

// New creates an Enricher backed by the given sender.
func New(sender Sender, opts ...Option) *Enricher {
	e := &Enricher{
		sender:  sender,
		ttl:     defaultTTL,
		mode:    ModeAuto,
		logger:  slog.Default(),
		nowFunc: time.Now,
		cache:   make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enrich returns base extended with market_context and provenance fields.
// Cache hits are served within the TTL; a miss consults the research
// provider under a hard timeout. Consultation failures attach a
// market_context_status marker instead of failing the caller, and nothing
// is cached for them.
func (e *Enricher) Enrich(ctx context.Context, symbol, strategyType string, base map[string]any) map[string]any {
	key := symbol + ":" + strategyType
	now := e.nowFunc()
	out := cloneContext(base)

	if entry, ok := e.lookup(key, now); ok {
		e.recordCacheOp("hit")
		out["market_context"] = cloneValue(entry.context)
		out["market_context_cache_hit"] = true
		out["market_context_age_s"] = now.Sub(entry.at).Seconds()
		return out
	}
	e.recordCacheOp("miss")

	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.fetch(ctx, key, symbol, strategyType)
	})
	if err != nil {
		status := statusUnavailable
		switch {
		case errors.Is(err, errTimeout):
			status = statusTimeout
		case errors.Is(err, errUnavailable):
			status = statusUnavailable
		default:
			status = statusParseError
		}
		e.logger.Warn("enrichment failed", "key", key, "status", status, "error", err)
		out["market_context_status"] = status
		return out
	}

	out["market_context"] = cloneValue(v.(map[string]any))
	out["market_context_cache_hit"] = false
	return out
}

// fetch consults the research provider, parses the JSON payload, and caches
// it. Runs inside the singleflight group, so concurrent misses share one
// call.
func (e *Enricher) fetch(ctx context.Context, key, symbol, strategyType string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.EnrichTimeout)
	defer cancel()

	resp := e.sender.Send(ctx, provider.Request{
		Provider: provider.Research,
		TaskType: "market_context",
		Prompt:   consultationPrompt(symbol, strategyType),
	})
	if !resp.Success {
		if ctx.Err() != nil {
			return nil, errTimeout
		}
		return nil, fmt.Errorf("%w: %s", errUnavailable, resp.Error)
	}

	parsed, err := ParseMarketContext(resp.Content)
	if err != nil {
		return nil, err
	}

	e.store(key, parsed)
	e.recordCacheOp("store")
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:     events.EventEnrichmentRefresh,
			Provider: provider.Research.Name(),
			CacheKey: key,
		})
	}
	e.logger.Debug("market context refreshed", "key", key)
	return parsed, nil
}

// Invalidate removes cached entries. An empty symbol clears everything;
// otherwise every entry for that symbol goes, across strategy types.
// Returns the number of entries removed.
func (e *Enricher) Invalidate(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if symbol == "" {
		n := len(e.cache)
		e.cache = make(map[string]cacheEntry)
		e.recordCacheOpN("evict", n)
		return n
	}

	prefix := symbol + ":"
	n := 0
	for k := range e.cache {
		if strings.HasPrefix(k, prefix) {
			delete(e.cache, k)
			n++
		}
	}
	e.recordCacheOpN("evict", n)
	return n
}

// Len returns the number of live cache entries.
func (e *Enricher) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

func (e *Enricher) lookup(key string, now time.Time) (cacheEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache[key]
	if !ok || now.Sub(entry.at) >= e.ttl {
		return cacheEntry{}, false
	}
	return entry, true
}

// store inserts the entry and sweeps out anything expired while it holds
// the lock anyway.
func (e *Enricher) store(key string, ctx map[string]any) {
	now := e.nowFunc()
	e.mu.Lock()
	defer e.mu.Unlock()

	for k, entry := range e.cache {
		if now.Sub(entry.at) >= e.ttl {
			delete(e.cache, k)
		}
	}
	e.cache[key] = cacheEntry{at: now, context: ctx}
}

func (e *Enricher) recordCacheOp(op string) {
	if e.metrics != nil {
		e.metrics.CacheOps.WithLabelValues("enrichment", op).Inc()
	}
}

func (e *Enricher) recordCacheOpN(op string, n int) {
	if e.metrics != nil && n > 0 {
		e.metrics.CacheOps.WithLabelValues("enrichment", op).Add(float64(n))
	}
}

func cloneContext(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+4)
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
