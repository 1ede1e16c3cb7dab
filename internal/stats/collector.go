// Package stats keeps rolling per-request samples and aggregates them into
// the windowed summaries and lifetime totals served by the snapshot surface.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Sample is a single data point recorded for one dispatched request.
type Sample struct {
	Timestamp        time.Time
	Provider         string
	Model            string
	Channel          string
	LatencyMS        float64
	CostUSD          float64
	Success          bool
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
	CacheHitTokens   int
}

// Window defines a named time window for aggregation.
type Window struct {
	Name     string
	Duration time.Duration
}

// DefaultWindows returns the standard set of rolling windows.
func DefaultWindows() []Window {
	return []Window{
		{Name: "1m", Duration: time.Minute},
		{Name: "5m", Duration: 5 * time.Minute},
		{Name: "1h", Duration: time.Hour},
		{Name: "24h", Duration: 24 * time.Hour},
	}
}

// Aggregate holds computed stats for a time window.
type Aggregate struct {
	Window           string  `json:"window"`
	Provider         string  `json:"provider,omitempty"`
	Model            string  `json:"model,omitempty"`
	RequestCount     int     `json:"request_count"`
	ErrorCount       int     `json:"error_count"`
	ErrorRate        float64 `json:"error_rate"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
	P50LatencyMS     float64 `json:"p50_latency_ms"`
	P95LatencyMS     float64 `json:"p95_latency_ms"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	ReasoningTokens  int     `json:"reasoning_tokens,omitempty"`
	CacheHitTokens   int     `json:"cache_hit_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens"`
}

// Totals is the lifetime accumulation for one provider, independent of the
// rolling windows.
type Totals struct {
	Requests         int64   `json:"requests"`
	Errors           int64   `json:"errors"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	ReasoningTokens  int64   `json:"reasoning_tokens"`
	CacheHitTokens   int64   `json:"cache_hit_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Collector maintains rolling samples plus lifetime totals per provider.
type Collector struct {
	mu      sync.RWMutex
	samples []Sample
	totals  map[string]*Totals
	maxAge  time.Duration // oldest sample to keep
	windows []Window
	nowFunc func() time.Time
}

// NewCollector creates a new stats collector.
func NewCollector() *Collector {
	return &Collector{
		totals:  make(map[string]*Totals),
		windows: DefaultWindows(),
		maxAge:  25 * time.Hour, // keep slightly more than largest window
		nowFunc: time.Now,
	}
}

// Record adds a new sample and folds it into the provider's totals.
func (c *Collector) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = c.nowFunc().UTC()
	}
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.addTotalsLocked(s)
	c.mu.Unlock()
}

// Seed bulk-loads historical samples (e.g. from the store on startup) so the
// snapshot surface is not blank after a restart.
func (c *Collector) Seed(samples []Sample) {
	c.mu.Lock()
	c.samples = append(c.samples, samples...)
	for _, s := range samples {
		c.addTotalsLocked(s)
	}
	c.mu.Unlock()
}

func (c *Collector) addTotalsLocked(s Sample) {
	t := c.totals[s.Provider]
	if t == nil {
		t = &Totals{}
		c.totals[s.Provider] = t
	}
	t.Requests++
	if !s.Success {
		t.Errors++
	}
	t.PromptTokens += int64(s.PromptTokens)
	t.CompletionTokens += int64(s.CompletionTokens)
	t.ReasoningTokens += int64(s.ReasoningTokens)
	t.CacheHitTokens += int64(s.CacheHitTokens)
	t.CostUSD += s.CostUSD
}

// Prune removes samples older than maxAge. Totals are unaffected.
func (c *Collector) Prune() {
	cutoff := c.nowFunc().Add(-c.maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(cutoff)
}

// pruneLocked removes expired samples. Caller must hold c.mu (write lock).
func (c *Collector) pruneLocked(cutoff time.Time) {
	i := 0
	for i < len(c.samples) && c.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.samples = c.samples[i:]
	}
}

// samplesAfterPrune acquires a write lock, prunes expired samples, and
// returns a copy of the current data. This avoids the lock gap that exists
// when Prune() and a read lock are acquired separately.
func (c *Collector) samplesAfterPrune() []Sample {
	cutoff := c.nowFunc().Add(-c.maxAge)
	c.mu.Lock()
	c.pruneLocked(cutoff)
	cp := make([]Sample, len(c.samples))
	copy(cp, c.samples)
	c.mu.Unlock()
	return cp
}

// ByProvider returns aggregated stats for all windows grouped by provider.
func (c *Collector) ByProvider() map[string][]Aggregate {
	return c.grouped(func(s Sample) string { return s.Provider }, func(a *Aggregate, key string) {
		a.Provider = key
	})
}

// ByModel returns aggregated stats for all windows grouped by model.
func (c *Collector) ByModel() map[string][]Aggregate {
	return c.grouped(func(s Sample) string { return s.Model }, func(a *Aggregate, key string) {
		a.Model = key
	})
}

func (c *Collector) grouped(keyOf func(Sample) string, label func(*Aggregate, string)) map[string][]Aggregate {
	samples := c.samplesAfterPrune()

	now := c.nowFunc()
	result := make(map[string][]Aggregate)

	for _, w := range c.windows {
		cutoff := now.Add(-w.Duration)

		byKey := make(map[string][]Sample)
		for _, s := range samples {
			if s.Timestamp.After(cutoff) {
				byKey[keyOf(s)] = append(byKey[keyOf(s)], s)
			}
		}

		for key, group := range byKey {
			a := computeAggregate(w.Name, group)
			label(&a, key)
			result[w.Name] = append(result[w.Name], a)
		}
	}

	return result
}

// Global returns aggregate stats across all providers and models.
func (c *Collector) Global() []Aggregate {
	samples := c.samplesAfterPrune()

	now := c.nowFunc()
	var result []Aggregate

	for _, w := range c.windows {
		cutoff := now.Add(-w.Duration)
		var group []Sample
		for _, s := range samples {
			if s.Timestamp.After(cutoff) {
				group = append(group, s)
			}
		}
		if len(group) > 0 {
			result = append(result, computeAggregate(w.Name, group))
		}
	}

	return result
}

// ProviderTotals returns a copy of the lifetime totals keyed by provider.
func (c *Collector) ProviderTotals() map[string]Totals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Totals, len(c.totals))
	for k, v := range c.totals {
		out[k] = *v
	}
	return out
}

// SampleCount returns the total number of stored samples.
func (c *Collector) SampleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}

func computeAggregate(window string, group []Sample) Aggregate {
	a := Aggregate{
		Window:       window,
		RequestCount: len(group),
	}

	var totalLatency float64
	latencies := make([]float64, 0, len(group))

	for _, s := range group {
		totalLatency += s.LatencyMS
		latencies = append(latencies, s.LatencyMS)
		a.TotalCostUSD += s.CostUSD
		a.PromptTokens += s.PromptTokens
		a.CompletionTokens += s.CompletionTokens
		a.ReasoningTokens += s.ReasoningTokens
		a.CacheHitTokens += s.CacheHitTokens
		if !s.Success {
			a.ErrorCount++
		}
	}
	a.TotalTokens = a.PromptTokens + a.CompletionTokens

	if a.RequestCount > 0 {
		a.AvgLatencyMS = totalLatency / float64(a.RequestCount)
		a.ErrorRate = float64(a.ErrorCount) / float64(a.RequestCount)
	}

	sort.Float64s(latencies)
	a.P50LatencyMS = percentile(latencies, 0.5)
	a.P95LatencyMS = percentile(latencies, 0.95)

	return a
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
