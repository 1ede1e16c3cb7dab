package credential

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/troika-ai/troika/internal/provider"
	"github.com/troika-ai/troika/internal/secrets"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPreflightDisablesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer sk-good" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"pong"}}]}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	t.Setenv("DEEPSEEK_API_KEY", "sk-good")
	t.Setenv("DEEPSEEK_API_KEY_2", "sk-bad")

	store := secrets.NewEnvStore()
	probe := NewHTTPProbe(srv.Client(), func(provider.Kind) string { return srv.URL })
	p := NewPool(provider.Reasoner, store, DiscoverSecretNames(store, provider.Reasoner),
		WithProbe(probe), WithLogger(quietLogger()))

	results := p.PreflightValidate(context.Background())
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].OK || results[0].Disabled {
		t.Errorf("credential 0 should pass: %+v", results[0])
	}
	if results[1].OK || !results[1].Disabled {
		t.Errorf("credential 1 should be disabled: %+v", results[1])
	}

	m := p.Metrics()
	if m.Total != 2 || m.Healthy != 1 || m.Disabled != 1 {
		t.Errorf("pool metrics after preflight = %+v", m)
	}
}

func TestPreflightTransientFailureKeepsCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	t.Setenv("QWEN_API_KEY", "sk-x")
	store := secrets.NewEnvStore()
	probe := NewHTTPProbe(srv.Client(), func(provider.Kind) string { return srv.URL })
	p := NewPool(provider.Technical, store, []string{"QWEN_API_KEY"},
		WithProbe(probe), WithLogger(quietLogger()))

	results := p.PreflightValidate(context.Background())
	if results[0].OK {
		t.Error("probe against a 500 should not report ok")
	}
	if results[0].Disabled {
		t.Error("transient server failure must not disable the credential")
	}
	if m := p.Metrics(); m.Healthy != 1 {
		t.Errorf("credential should stay healthy, metrics = %+v", m)
	}
}

func TestPreflightMissingSecret(t *testing.T) {
	store := secrets.NewEnvStore()
	p := NewPool(provider.Research, store, []string{"PERPLEXITY_API_KEY"},
		WithProbe(func(context.Context, provider.Kind, string) error {
			t.Error("probe should not run without a resolvable secret")
			return nil
		}),
		WithLogger(quietLogger()))

	results := p.PreflightValidate(context.Background())
	if results[0].OK || results[0].Disabled {
		t.Errorf("unexpected result: %+v", results[0])
	}
	if results[0].Error == "" {
		t.Error("expected a secret resolution error")
	}
}

func TestPreflightProbeUsesBearerAndTinyPayload(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	probe := NewHTTPProbe(srv.Client(), func(provider.Kind) string { return srv.URL })
	if err := probe(context.Background(), provider.Research, "pplx-key"); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if gotAuth.Load() != "Bearer pplx-key" {
		t.Errorf("Authorization = %v", gotAuth.Load())
	}
}

func TestProberLoopRunsAndStopsCleanly(t *testing.T) {
	var probes atomic.Int64
	probe := func(context.Context, provider.Kind, string) error {
		probes.Add(1)
		return nil
	}

	t.Setenv("DEEPSEEK_API_KEY", "sk-1")
	store := secrets.NewEnvStore()
	pool := NewPool(provider.Reasoner, store, []string{"DEEPSEEK_API_KEY"},
		WithProbe(probe), WithLogger(quietLogger()))

	prober := NewProber([]*Pool{pool}, 20*time.Millisecond, quietLogger())
	prober.Start()
	time.Sleep(70 * time.Millisecond)
	prober.Stop()

	n := probes.Load()
	if n < 2 {
		t.Errorf("expected initial probe plus ticks, got %d", n)
	}
	time.Sleep(50 * time.Millisecond)
	if probes.Load() != n {
		t.Error("probes continued after Stop()")
	}
}

func TestPreflightAuthClassification(t *testing.T) {
	// A 403 is an auth failure as much as a 401.
	probe := func(context.Context, provider.Kind, string) error {
		return &provider.StatusError{StatusCode: http.StatusForbidden, Body: "forbidden"}
	}
	t.Setenv("DEEPSEEK_API_KEY", "sk-1")
	p := NewPool(provider.Reasoner, secrets.NewEnvStore(), []string{"DEEPSEEK_API_KEY"},
		WithProbe(probe), WithLogger(quietLogger()))

	results := p.PreflightValidate(context.Background())
	if !results[0].Disabled {
		t.Error("403 should disable the credential")
	}

	// Plain transport errors must not.
	probeNet := func(context.Context, provider.Kind, string) error {
		return errors.New("dial tcp: connection refused")
	}
	t.Setenv("QWEN_API_KEY", "sk-2")
	p2 := NewPool(provider.Technical, secrets.NewEnvStore(), []string{"QWEN_API_KEY"},
		WithProbe(probeNet), WithLogger(quietLogger()))
	if res := p2.PreflightValidate(context.Background()); res[0].Disabled {
		t.Error("network error should not disable the credential")
	}
}
