package enrich

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/troika-ai/troika/internal/events"
	"github.com/troika-ai/troika/internal/metrics"
	"github.com/troika-ai/troika/internal/provider"
)

const contextJSON = `{
	"regime": "trending",
	"trend_direction": "bullish",
	"key_news": ["ETF inflows accelerating"],
	"sentiment": {"direction": "bullish", "score": 0.7},
	"risk_factors": ["funding overheated"],
	"macro_events": ["FOMC minutes Wednesday"],
	"volatility_assessment": "elevated but orderly",
	"confidence": 0.8
}`

type fakeSender struct {
	mu      sync.Mutex
	calls   int
	delay   time.Duration
	fn      func(ctx context.Context, req provider.Request) *provider.Response
	lastReq provider.Request
}

func (f *fakeSender) Send(ctx context.Context, req provider.Request) *provider.Response {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	return f.fn(ctx, req)
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okSender(content string) *fakeSender {
	return &fakeSender{fn: func(_ context.Context, _ provider.Request) *provider.Response {
		return &provider.Response{Success: true, Content: content}
	}}
}

func TestEnrichMissThenHit(t *testing.T) {
	sender := okSender(contextJSON)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := New(sender,
		WithTTL(60*time.Second),
		WithMetrics(metrics.New()),
		WithNow(func() time.Time { return now }),
	)

	base := map[string]any{"strategy": "momentum"}
	out := e.Enrich(context.Background(), "BTC-USDT", "momentum", base)

	mc, ok := out["market_context"].(map[string]any)
	if !ok {
		t.Fatalf("market_context missing: %v", out)
	}
	if mc["regime"] != "trending" {
		t.Errorf("regime = %v", mc["regime"])
	}
	if out["market_context_cache_hit"] != false {
		t.Errorf("first call should not be a cache hit")
	}
	if out["strategy"] != "momentum" {
		t.Errorf("base context not carried over: %v", out)
	}
	if sender.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", sender.callCount())
	}

	req := sender.lastReq
	if req.Provider != provider.Research || req.TaskType != "market_context" {
		t.Errorf("unexpected request routing: %+v", req)
	}
	if !strings.Contains(req.Prompt, "BTC-USDT") || !strings.Contains(req.Prompt, `"regime"`) {
		t.Errorf("consultation prompt incomplete:\n%s", req.Prompt)
	}

	now = now.Add(10 * time.Second)
	out = e.Enrich(context.Background(), "BTC-USDT", "momentum", base)
	if out["market_context_cache_hit"] != true {
		t.Fatalf("second call should hit the cache: %v", out)
	}
	if age := out["market_context_age_s"].(float64); age != 10 {
		t.Errorf("cache age = %v, want 10", age)
	}
	if sender.callCount() != 1 {
		t.Errorf("cache hit still reached the provider")
	}
}

func TestEnrichExpiryRefetches(t *testing.T) {
	sender := okSender(contextJSON)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := New(sender, WithTTL(60*time.Second), WithNow(func() time.Time { return now }))

	e.Enrich(context.Background(), "BTC-USDT", "momentum", nil)
	now = now.Add(61 * time.Second)
	out := e.Enrich(context.Background(), "BTC-USDT", "momentum", nil)

	if out["market_context_cache_hit"] != false {
		t.Errorf("expired entry served as a hit")
	}
	if sender.callCount() != 2 {
		t.Errorf("calls = %d, want 2", sender.callCount())
	}
}

func TestEnrichKeysBySymbolAndStrategy(t *testing.T) {
	sender := okSender(contextJSON)
	e := New(sender)

	e.Enrich(context.Background(), "BTC-USDT", "momentum", nil)
	e.Enrich(context.Background(), "BTC-USDT", "mean_reversion", nil)
	e.Enrich(context.Background(), "ETH-USDT", "momentum", nil)

	if sender.callCount() != 3 {
		t.Errorf("calls = %d, want 3 distinct keys", sender.callCount())
	}
	if e.Len() != 3 {
		t.Errorf("cache len = %d, want 3", e.Len())
	}
}

func TestEnrichProviderFailureNotCached(t *testing.T) {
	sender := &fakeSender{fn: func(_ context.Context, _ provider.Request) *provider.Response {
		return &provider.Response{Success: false, Error: "API error (status 503): upstream down", ErrorKind: provider.ErrKindServer}
	}}
	e := New(sender)

	out := e.Enrich(context.Background(), "BTC-USDT", "momentum", nil)
	if out["market_context_status"] != "unavailable" {
		t.Errorf("status = %v, want unavailable", out["market_context_status"])
	}
	if _, ok := out["market_context"]; ok {
		t.Errorf("failed consultation attached a market context")
	}
	if e.Len() != 0 {
		t.Errorf("failure was cached")
	}

	e.Enrich(context.Background(), "BTC-USDT", "momentum", nil)
	if sender.callCount() != 2 {
		t.Errorf("calls = %d, want 2 after uncached failure", sender.callCount())
	}
}

func TestEnrichTimeoutMarker(t *testing.T) {
	sender := &fakeSender{fn: func(ctx context.Context, _ provider.Request) *provider.Response {
		<-ctx.Done()
		return &provider.Response{Success: false, Error: "context deadline exceeded", ErrorKind: provider.ErrKindCancelled}
	}}
	e := New(sender)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := e.Enrich(ctx, "BTC-USDT", "momentum", nil)
	if out["market_context_status"] != "timeout" {
		t.Errorf("status = %v, want timeout", out["market_context_status"])
	}
	if e.Len() != 0 {
		t.Errorf("timeout was cached")
	}
}

func TestEnrichParseFailureMarker(t *testing.T) {
	sender := okSender("I could not find structured data, sorry.")
	e := New(sender)

	out := e.Enrich(context.Background(), "BTC-USDT", "momentum", nil)
	if out["market_context_status"] != "parse_error" {
		t.Errorf("status = %v, want parse_error", out["market_context_status"])
	}
	if e.Len() != 0 {
		t.Errorf("unparseable response was cached")
	}
}

func TestEnrichPublishesRefreshEvent(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	e := New(okSender(contextJSON), WithEventBus(bus))
	e.Enrich(context.Background(), "BTC-USDT", "momentum", nil)

	select {
	case ev := <-sub.C:
		if ev.Type != events.EventEnrichmentRefresh {
			t.Errorf("event type = %s", ev.Type)
		}
		if ev.CacheKey != "BTC-USDT:momentum" {
			t.Errorf("cache key = %s", ev.CacheKey)
		}
		if ev.Provider != "perplexity" {
			t.Errorf("provider = %s", ev.Provider)
		}
	default:
		t.Fatal("no refresh event published")
	}
}

func TestEnrichConcurrentMissesShareOneCall(t *testing.T) {
	sender := okSender(contextJSON)
	sender.delay = 100 * time.Millisecond
	e := New(sender)

	var wg sync.WaitGroup
	outs := make([]map[string]any, 4)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = e.Enrich(context.Background(), "BTC-USDT", "momentum", nil)
		}(i)
	}
	wg.Wait()

	if sender.callCount() != 1 {
		t.Errorf("calls = %d, want 1 shared consultation", sender.callCount())
	}
	for i, out := range outs {
		if _, ok := out["market_context"]; !ok {
			t.Errorf("caller %d missing market context: %v", i, out)
		}
	}
}

func TestEnrichCopiesAreIsolated(t *testing.T) {
	e := New(okSender(contextJSON))
	base := map[string]any{"nested": map[string]any{"keep": true}}

	first := e.Enrich(context.Background(), "BTC-USDT", "momentum", base)
	first["nested"].(map[string]any)["keep"] = false
	first["market_context"].(map[string]any)["regime"] = "mutated"

	if base["nested"].(map[string]any)["keep"] != true {
		t.Errorf("caller's base context was mutated")
	}

	second := e.Enrich(context.Background(), "BTC-USDT", "momentum", base)
	if second["market_context"].(map[string]any)["regime"] != "trending" {
		t.Errorf("cached entry was mutated through a returned copy")
	}
}

func TestInvalidate(t *testing.T) {
	e := New(okSender(contextJSON))
	ctx := context.Background()
	e.Enrich(ctx, "BTC-USDT", "momentum", nil)
	e.Enrich(ctx, "BTC-USDT", "mean_reversion", nil)
	e.Enrich(ctx, "ETH-USDT", "momentum", nil)

	if n := e.Invalidate("BTC-USDT"); n != 2 {
		t.Errorf("Invalidate(BTC-USDT) = %d, want 2", n)
	}
	if e.Len() != 1 {
		t.Errorf("cache len = %d, want 1", e.Len())
	}

	if n := e.Invalidate(""); n != 1 {
		t.Errorf("Invalidate() = %d, want 1", n)
	}
	if e.Len() != 0 {
		t.Errorf("cache not empty after full invalidation")
	}
}

func TestStoreSweepsExpiredEntries(t *testing.T) {
	sender := okSender(contextJSON)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := New(sender, WithTTL(60*time.Second), WithNow(func() time.Time { return now }))

	e.Enrich(context.Background(), "BTC-USDT", "momentum", nil)
	now = now.Add(2 * time.Minute)
	e.Enrich(context.Background(), "ETH-USDT", "momentum", nil)

	if e.Len() != 1 {
		t.Errorf("cache len = %d, want 1 after sweep", e.Len())
	}
}
