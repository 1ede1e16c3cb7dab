package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowUpToBurst(t *testing.T) {
	l := New(5, 5, time.Second)
	defer l.Stop()

	for i := range 5 {
		if !l.Allow("client") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("client") {
		t.Fatal("request 6 should be denied")
	}
}

func TestRefillAfterInterval(t *testing.T) {
	now := time.Now()
	l := New(2, 5, time.Second, WithNow(func() time.Time { return now }))
	defer l.Stop()

	for range 5 {
		l.Allow("client")
	}
	if l.Allow("client") {
		t.Fatal("should be denied after exhaustion")
	}

	now = now.Add(time.Second)
	if !l.Allow("client") {
		t.Fatal("should be allowed after one interval")
	}
	// One interval at rate 2 minus the request just spent leaves one token.
	if !l.Allow("client") {
		t.Fatal("second token from the refill should be available")
	}
	if l.Allow("client") {
		t.Fatal("refill should not exceed the rate")
	}

	// A long idle period refills to burst, no further.
	now = now.Add(time.Hour)
	for i := range 5 {
		if !l.Allow("client") {
			t.Fatalf("token %d after long idle should be available", i+1)
		}
	}
	if l.Allow("client") {
		t.Fatal("bucket should cap at burst")
	}
}

func TestClientsAreIndependent(t *testing.T) {
	l := New(1, 1, time.Second)
	defer l.Stop()

	if !l.Allow("10.0.0.1") {
		t.Fatal("first client should be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("first client should be throttled")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("second client has its own bucket")
	}
}

func TestMiddleware(t *testing.T) {
	l := New(2, 2, time.Second)
	defer l.Stop()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := range 2 {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Real-IP", "10.0.0.1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: code = %d, want 200", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
}

func TestMiddlewareKeysByHostNotPort(t *testing.T) {
	l := New(1, 1, time.Second)
	defer l.Stop()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Same host, different ephemeral ports: one bucket.
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.7:41001"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first request code = %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.7:41002"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same host code = %d, want 429", rr.Code)
	}
}

func TestEvictionRemovesStalestClient(t *testing.T) {
	now := time.Now()
	l := New(1, 1, time.Hour, WithMaxKeys(3), WithNow(func() time.Time { return now }))
	defer l.Stop()

	l.Allow("A")
	now = now.Add(time.Millisecond)
	l.Allow("B")
	now = now.Add(time.Millisecond)
	l.Allow("C")

	if l.Len() != 3 {
		t.Fatalf("buckets = %d, want 3", l.Len())
	}

	// Touch A so B becomes the stalest, then add D to force an eviction.
	now = now.Add(time.Millisecond)
	l.Allow("A")
	now = now.Add(time.Millisecond)
	l.Allow("D")

	if l.Len() != 3 {
		t.Fatalf("buckets after eviction = %d, want 3", l.Len())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets["B"]; ok {
		t.Error("B should have been evicted")
	}
	for _, key := range []string{"A", "C", "D"} {
		if _, ok := l.buckets[key]; !ok {
			t.Errorf("%s should still be tracked", key)
		}
	}
}
