// Package ratelimit provides an in-memory per-client token bucket limiter
// used as inbound middleware. Clients are keyed by IP; requests over the
// limit get 429 with a Retry-After hint.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultMaxKeys = 100000

// Limiter is a per-client token bucket rate limiter.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     int           // tokens added per interval
	burst    int           // bucket capacity
	interval time.Duration // refill interval
	maxKeys  int           // cap on tracked clients before evicting the stalest
	stop     chan struct{}
	counter  prometheus.Counter
	nowFunc  func() time.Time
}

type bucket struct {
	tokens   int
	lastFill time.Time
	lastSeen time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCounter sets a counter incremented on each rejected request.
func WithCounter(c prometheus.Counter) Option {
	return func(l *Limiter) { l.counter = c }
}

// WithMaxKeys caps the number of tracked clients.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) { l.maxKeys = n }
}

// WithNow overrides the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(l *Limiter) { l.nowFunc = fn }
}

// New creates a rate limiter allowing rate requests per interval with the
// given burst capacity, and starts its background sweep.
func New(rate, burst int, interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		burst:    burst,
		interval: interval,
		maxKeys:  defaultMaxKeys,
		stop:     make(chan struct{}),
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	go l.sweep()
	return l
}

// Middleware enforces the limit per client IP, preferring X-Real-IP and
// falling back to the connection address.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			if l.counter != nil {
				l.counter.Inc()
			}
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Allow consumes one token from the client's bucket, reporting whether the
// request may proceed.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictStalest()
		}
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}
	b.lastSeen = now

	// Refill whole intervals elapsed since the last fill.
	if elapsed := now.Sub(b.lastFill); elapsed >= l.interval {
		b.tokens += int(elapsed/l.interval) * l.rate
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
		b.lastFill = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// evictStalest removes the least recently seen client. Caller holds l.mu.
func (l *Limiter) evictStalest() {
	var stalest string
	var at time.Time
	first := true
	for k, b := range l.buckets {
		if first || b.lastSeen.Before(at) {
			stalest, at = k, b.lastSeen
			first = false
		}
	}
	if !first {
		delete(l.buckets, stalest)
	}
}

// Len reports the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop terminates the background sweep goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.nowFunc().Add(-10 * time.Minute)
			for k, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
