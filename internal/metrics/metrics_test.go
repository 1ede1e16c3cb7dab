package metrics

import (
	"testing"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if r.reg == nil {
		t.Fatal("expected non-nil prometheus registry")
	}
	if r.RequestsTotal == nil {
		t.Fatal("expected non-nil RequestsTotal counter")
	}
	if r.RequestSeconds == nil {
		t.Fatal("expected non-nil RequestSeconds histogram")
	}
	if r.CooldownsTotal == nil {
		t.Fatal("expected non-nil CooldownsTotal counter")
	}
	if r.BreakerState == nil {
		t.Fatal("expected non-nil BreakerState gauge")
	}
}

func TestHandlerNonNil(t *testing.T) {
	r := New()
	if r.Handler() == nil {
		t.Fatal("expected non-nil http.Handler from Handler()")
	}
}

func TestMetricsCanBeCollected(t *testing.T) {
	r := New()

	r.RequestsTotal.WithLabelValues("deepseek", "success").Inc()
	r.RequestSeconds.WithLabelValues("deepseek").Observe(1.5)
	r.TokensTotal.WithLabelValues("deepseek", "prompt").Add(1200)
	r.CostUSD.WithLabelValues("deepseek").Add(0.0021)
	r.CooldownsTotal.WithLabelValues("qwen", "rate_limit").Inc()
	r.PoolCredentials.WithLabelValues("qwen", "healthy").Set(3)
	r.BreakerState.WithLabelValues("perplexity").Set(2)
	r.CacheOps.WithLabelValues("response", "hit").Inc()
	r.SanitizerRedactions.Inc()
	r.DeliberationsTotal.WithLabelValues("consensus").Inc()
	r.DeliberationRounds.Observe(2)

	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one metric family after recording values")
	}

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	want := []string{
		"troika_requests_total",
		"troika_request_seconds",
		"troika_tokens_total",
		"troika_cost_usd_total",
		"troika_cooldowns_total",
		"troika_credential_pool",
		"troika_breaker_state",
		"troika_cache_ops_total",
		"troika_sanitizer_redactions_total",
		"troika_deliberations_total",
		"troika_deliberation_rounds",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("expected metric %q in gathered metrics", name)
		}
	}
}

func TestMultipleRegistriesAreIndependent(t *testing.T) {
	r1 := New()
	r2 := New()

	r1.RequestsTotal.WithLabelValues("deepseek", "success").Inc()

	mfs, err := r2.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil && m.GetCounter().GetValue() > 0 {
				t.Error("r2 should not have any non-zero counters")
			}
		}
	}
}
