package credential

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/troika-ai/troika/internal/events"
	"github.com/troika-ai/troika/internal/metrics"
	"github.com/troika-ai/troika/internal/provider"
	"github.com/troika-ai/troika/internal/secrets"
)

// Cooldown durations.
const (
	baseCooldown  = 5 * time.Second   // doubled per level when no duration is given
	maxCooldown   = 300 * time.Second // cap for Retry-After and the doubling rule
	pressureRatio = 0.5
	alertDebounce = 60 * time.Second
)

// cooldownTiers is the backoff ladder for rate-limit and server-error
// cooldowns without an explicit Retry-After, indexed by the credential's
// cooldown level and saturating at the top tier.
var cooldownTiers = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
	600 * time.Second,
}

// AlertFunc is invoked when too many of a pool's credentials are cooling.
type AlertFunc func(providerName string, cooling, total int)

// PoolMetrics is a point-in-time summary of one provider's pool.
type PoolMetrics struct {
	Provider         string  `json:"provider"`
	Total            int     `json:"total"`
	Healthy          int     `json:"healthy"`
	Degraded         int     `json:"degraded"`
	Disabled         int     `json:"disabled"`
	Cooling          int     `json:"cooling"`
	CooldownEvents   int64   `json:"cooldown_events"`
	RateLimitEvents  int64   `json:"rate_limit_events"`
	AlertsTriggered  int64   `json:"alerts_triggered"`
	NextAvailableInS float64 `json:"next_available_in_s,omitempty"`
}

// CredentialView is a copy of one credential's state for snapshots.
type CredentialView struct {
	Index          int       `json:"index"`
	SecretName     string    `json:"secret_name"`
	Health         Health    `json:"health"`
	ErrorCount     int       `json:"error_count"`
	RequestCount   int64     `json:"request_count"`
	CoolingEvents  int64     `json:"cooling_events"`
	CooldownLevel  int       `json:"cooldown_level"`
	Cooling        bool      `json:"cooling"`
	LastUsed       time.Time `json:"last_used,omitempty"`
	CooldownUntil  time.Time `json:"cooldown_until,omitempty"`
	CooldownReason string    `json:"cooldown_reason,omitempty"`
}

// Pool owns the credentials for a single provider. All state mutations go
// through the pool mutex, which also serializes the weighted selection pass
// so at most one acquisition publishes a choice at a time.
type Pool struct {
	kind    provider.Kind
	secrets secrets.Store
	logger  *slog.Logger

	alertFunc AlertFunc
	bus       *events.Bus
	metrics   *metrics.Registry
	probe     ProbeFunc
	nowFunc   func() time.Time

	mu              sync.Mutex
	rng             *rand.Rand
	creds           []*Credential
	cooldownEvents  int64
	rateLimitEvents int64
	alertsTriggered int64
	lastAlertAt     time.Time
}

// Option configures optional Pool behaviour.
type Option func(*Pool)

// WithEventBus attaches an event bus so cooldown, disable and pressure
// transitions are published.
func WithEventBus(bus *events.Bus) Option {
	return func(p *Pool) { p.bus = bus }
}

// WithMetrics attaches a metrics registry to keep pool gauges current.
func WithMetrics(reg *metrics.Registry) Option {
	return func(p *Pool) { p.metrics = reg }
}

// WithAlertFunc registers the pressure alert callback.
func WithAlertFunc(fn AlertFunc) Option {
	return func(p *Pool) { p.alertFunc = fn }
}

// WithProbe overrides the preflight probe, mainly for tests.
func WithProbe(fn ProbeFunc) Option {
	return func(p *Pool) { p.probe = fn }
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithNow overrides the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(p *Pool) { p.nowFunc = fn }
}

// WithRand seeds the selection sampler, for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(p *Pool) { p.rng = r }
}

// NewPool builds a pool with one healthy credential per secret name.
func NewPool(kind provider.Kind, store secrets.Store, secretNames []string, opts ...Option) *Pool {
	p := &Pool{
		kind:    kind,
		secrets: store,
		logger:  slog.Default(),
		nowFunc: time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i, name := range secretNames {
		p.creds = append(p.creds, &Credential{
			Provider:   kind,
			Index:      i,
			SecretName: name,
			Health:     Healthy,
		})
	}
	for _, opt := range opts {
		opt(p)
	}
	p.mu.Lock()
	p.updateGaugesLocked(p.nowFunc())
	p.mu.Unlock()
	return p
}

// DiscoverSecretNames scans the store for indexed key names
// (PREFIX_API_KEY, PREFIX_API_KEY_2, ...) and stops at the first gap.
func DiscoverSecretNames(store secrets.Store, kind provider.Kind) []string {
	var names []string
	for i := 0; ; i++ {
		name := secrets.IndexedName(kind.EnvPrefix(), i)
		if !store.HasKey(name, true) {
			break
		}
		names = append(names, name)
	}
	return names
}

// Kind returns the provider this pool serves.
func (p *Pool) Kind() provider.Kind { return p.kind }

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Key resolves the secret material for a credential from the store.
func (p *Pool) Key(c *Credential) (string, error) {
	return p.secrets.DecryptedKey(c.SecretName)
}

// Acquire selects a usable credential by weighted random sampling, or nil
// when every credential is disabled or cooling (including the empty pool).
// Acquisition itself stamps nothing; use is recorded by the Mark calls.
func (p *Pool) Acquire(ctx context.Context) *Credential {
	if ctx.Err() != nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFunc()
	p.maybeExitCooldownLocked(now)

	var usable []*Credential
	for _, c := range p.creds {
		if c.Usable(now) {
			usable = append(usable, c)
		}
	}
	p.updateGaugesLocked(now)
	if len(usable) == 0 {
		return nil
	}

	weights := make([]float64, len(usable))
	var total float64
	for i, c := range usable {
		weights[i] = SelectionWeight(c, now)
		total += weights[i]
	}

	r := p.rng.Float64() * total
	for i, c := range usable {
		r -= weights[i]
		if r < 0 {
			return c
		}
	}
	return usable[len(usable)-1]
}

// MarkSuccess records a successful request: the error count decays, the
// cooldown level decays when not cooling, and a degraded credential with a
// low enough error count is promoted back to healthy. Disabled credentials
// stay disabled.
func (p *Pool) MarkSuccess(c *Credential) {
	p.mu.Lock()
	now := p.nowFunc()

	c.RequestCount++
	c.LastUsed = now
	if c.ErrorCount > 0 {
		c.ErrorCount--
	}
	if !c.cooling(now) && c.CooldownLevel > 0 {
		c.CooldownLevel--
	}
	if c.Health == Degraded && c.ErrorCount < healthyBelow {
		c.Health = Healthy
	}

	p.updateGaugesLocked(now)
	p.mu.Unlock()
}

// MarkNetworkError records a connection or timeout failure. No cooldown.
func (p *Pool) MarkNetworkError(c *Credential) {
	p.markErrorNoCooldown(c, "network error")
}

// MarkClientError records a non-auth 4xx failure. No cooldown.
func (p *Pool) MarkClientError(c *Credential) {
	p.markErrorNoCooldown(c, "client error")
}

func (p *Pool) markErrorNoCooldown(c *Credential, reason string) {
	p.mu.Lock()
	now := p.nowFunc()
	disabled := p.recordErrorLocked(c, now)
	p.updateGaugesLocked(now)
	p.mu.Unlock()

	if disabled {
		p.publishDisabled(c, reason)
	}
}

// MarkRateLimit records a throttling or backoff-worthy failure and puts the
// credential into cooldown. An explicit Retry-After wins (capped at 300 s);
// otherwise the duration comes from the backoff ladder at the credential's
// current cooldown level.
func (p *Pool) MarkRateLimit(c *Credential, retryAfter *time.Duration) {
	p.mu.Lock()
	now := p.nowFunc()

	disabled := p.recordErrorLocked(c, now)
	p.rateLimitEvents++

	var d time.Duration
	reason := "backoff"
	if retryAfter != nil && *retryAfter > 0 {
		d = *retryAfter
		if d > maxCooldown {
			d = maxCooldown
		}
		reason = "rate_limit"
	} else {
		tier := c.CooldownLevel
		if tier >= len(cooldownTiers) {
			tier = len(cooldownTiers) - 1
		}
		d = cooldownTiers[tier]
	}

	alert := p.beginCooldownLocked(c, now, d, reason)
	cooling, total := p.coolingCountLocked(now), len(p.creds)
	p.updateGaugesLocked(now)
	p.mu.Unlock()

	p.publishCooldown(c, d, reason)
	if disabled {
		p.publishDisabled(c, reason)
	}
	if alert {
		p.publishPressure(cooling, total)
	}
}

// MarkAuthError disables the credential immediately. Only an explicit
// Reset revives it.
func (p *Pool) MarkAuthError(c *Credential) {
	p.mu.Lock()
	now := p.nowFunc()

	c.RequestCount++
	c.ErrorCount++
	c.LastErrorAt = now
	was := c.Health
	c.Health = Disabled

	p.updateGaugesLocked(now)
	p.mu.Unlock()

	if was != Disabled {
		p.publishDisabled(c, "auth error")
	}
}

// BeginCooldown puts a credential into cooldown for d (the level-doubling
// default when d <= 0). Exposed for callers that apply out-of-band
// throttling decisions.
func (p *Pool) BeginCooldown(c *Credential, d time.Duration, reason string) {
	p.mu.Lock()
	now := p.nowFunc()
	alert := p.beginCooldownLocked(c, now, d, reason)
	if !c.CooldownUntil.IsZero() {
		d = c.CooldownUntil.Sub(now)
	}
	cooling, total := p.coolingCountLocked(now), len(p.creds)
	p.updateGaugesLocked(now)
	p.mu.Unlock()

	p.publishCooldown(c, d, reason)
	if alert {
		p.publishPressure(cooling, total)
	}
}

// Reset restores a credential to healthy with cleared counters. This is the
// external reset path for disabled credentials (rotated or re-funded keys).
func (p *Pool) Reset(index int) error {
	p.mu.Lock()
	if index < 0 || index >= len(p.creds) {
		p.mu.Unlock()
		return fmt.Errorf("credential index %d out of range (pool size %d)", index, len(p.creds))
	}
	c := p.creds[index]
	c.Health = Healthy
	c.ErrorCount = 0
	c.CooldownLevel = 0
	c.CooldownUntil = time.Time{}
	c.CooldownReason = ""
	p.updateGaugesLocked(p.nowFunc())
	p.mu.Unlock()

	p.logger.Info("credential reset",
		slog.String("provider", p.kind.Name()),
		slog.Int("index", index),
	)
	return nil
}

// Metrics returns a point-in-time summary of the pool.
func (p *Pool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFunc()
	m := PoolMetrics{
		Provider:        p.kind.Name(),
		Total:           len(p.creds),
		CooldownEvents:  p.cooldownEvents,
		RateLimitEvents: p.rateLimitEvents,
		AlertsTriggered: p.alertsTriggered,
	}

	var next time.Duration = -1
	for _, c := range p.creds {
		switch c.Health {
		case Healthy:
			m.Healthy++
		case Degraded:
			m.Degraded++
		case Disabled:
			m.Disabled++
		}
		if c.cooling(now) {
			m.Cooling++
			if d := c.CooldownUntil.Sub(now); next < 0 || d < next {
				next = d
			}
		}
	}
	if next > 0 {
		m.NextAvailableInS = next.Seconds()
	}
	return m
}

// Snapshot returns a copy of every credential's state, in index order.
func (p *Pool) Snapshot() []CredentialView {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFunc()
	views := make([]CredentialView, 0, len(p.creds))
	for _, c := range p.creds {
		views = append(views, CredentialView{
			Index:          c.Index,
			SecretName:     c.SecretName,
			Health:         c.Health,
			ErrorCount:     c.ErrorCount,
			RequestCount:   c.RequestCount,
			CoolingEvents:  c.CoolingEvents,
			CooldownLevel:  c.CooldownLevel,
			Cooling:        c.cooling(now),
			LastUsed:       c.LastUsed,
			CooldownUntil:  c.CooldownUntil,
			CooldownReason: c.CooldownReason,
		})
	}
	return views
}

// --- internals (pool mutex held) ---

func (p *Pool) maybeExitCooldownLocked(now time.Time) {
	for _, c := range p.creds {
		if !c.CooldownUntil.IsZero() && !c.CooldownUntil.After(now) {
			p.clearCooldownLocked(c)
		}
	}
}

func (p *Pool) clearCooldownLocked(c *Credential) {
	if c.CooldownLevel > 0 {
		c.CooldownLevel--
	}
	c.CooldownUntil = time.Time{}
	c.CooldownReason = ""
}

func (p *Pool) recordErrorLocked(c *Credential, now time.Time) (disabled bool) {
	c.RequestCount++
	c.ErrorCount++
	c.LastErrorAt = now

	switch {
	case c.Health == Disabled:
	case c.ErrorCount >= disabledAt:
		c.Health = Disabled
		disabled = true
	case c.ErrorCount >= degradedAt:
		c.Health = Degraded
	}
	return disabled
}

func (p *Pool) beginCooldownLocked(c *Credential, now time.Time, d time.Duration, reason string) (alert bool) {
	if d <= 0 {
		d = baseCooldown << uint(c.CooldownLevel)
		if d > maxCooldown {
			d = maxCooldown
		}
	}
	c.CooldownUntil = now.Add(d)
	c.CooldownReason = reason
	c.CoolingEvents++
	if c.CooldownLevel < maxCooldownLevel {
		c.CooldownLevel++
	}
	p.cooldownEvents++

	cooling, total := p.coolingCountLocked(now), len(p.creds)
	if total > 0 &&
		float64(cooling)/float64(total) >= pressureRatio &&
		now.Sub(p.lastAlertAt) >= alertDebounce {
		p.lastAlertAt = now
		p.alertsTriggered++
		alert = true
	}
	return alert
}

func (p *Pool) coolingCountLocked(now time.Time) int {
	n := 0
	for _, c := range p.creds {
		if c.cooling(now) {
			n++
		}
	}
	return n
}

func (p *Pool) updateGaugesLocked(now time.Time) {
	if p.metrics == nil {
		return
	}
	var healthy, degraded, disabled, cooling float64
	for _, c := range p.creds {
		switch c.Health {
		case Healthy:
			healthy++
		case Degraded:
			degraded++
		case Disabled:
			disabled++
		}
		if c.cooling(now) {
			cooling++
		}
	}
	name := p.kind.Name()
	p.metrics.PoolCredentials.WithLabelValues(name, "healthy").Set(healthy)
	p.metrics.PoolCredentials.WithLabelValues(name, "degraded").Set(degraded)
	p.metrics.PoolCredentials.WithLabelValues(name, "disabled").Set(disabled)
	p.metrics.PoolCredentials.WithLabelValues(name, "cooling").Set(cooling)
}

// --- event and metric emission (called outside the pool mutex) ---

func (p *Pool) publishCooldown(c *Credential, d time.Duration, reason string) {
	p.logger.Warn("credential cooling down",
		slog.String("provider", p.kind.Name()),
		slog.Int("index", c.Index),
		slog.Float64("cooldown_s", d.Seconds()),
		slog.String("reason", reason),
	)
	if p.metrics != nil {
		p.metrics.CooldownsTotal.WithLabelValues(p.kind.Name(), reason).Inc()
	}
	if p.bus != nil {
		p.bus.Publish(events.Event{
			Type:            events.EventCredentialCooldown,
			Provider:        p.kind.Name(),
			CredentialIndex: c.Index,
			SecretName:      c.SecretName,
			Reason:          reason,
			CooldownSecs:    d.Seconds(),
		})
	}
}

func (p *Pool) publishDisabled(c *Credential, reason string) {
	p.logger.Warn("credential disabled",
		slog.String("provider", p.kind.Name()),
		slog.Int("index", c.Index),
		slog.String("reason", reason),
	)
	if p.bus != nil {
		p.bus.Publish(events.Event{
			Type:            events.EventCredentialDisabled,
			Provider:        p.kind.Name(),
			CredentialIndex: c.Index,
			SecretName:      c.SecretName,
			Reason:          reason,
		})
	}
}

func (p *Pool) publishPressure(cooling, total int) {
	p.logger.Warn("credential pool under pressure",
		slog.String("provider", p.kind.Name()),
		slog.Int("cooling", cooling),
		slog.Int("total", total),
	)
	if p.metrics != nil {
		p.metrics.PressureAlerts.WithLabelValues(p.kind.Name()).Inc()
	}
	if p.bus != nil {
		p.bus.Publish(events.Event{
			Type:     events.EventPressureAlert,
			Provider: p.kind.Name(),
			Cooling:  cooling,
			Total:    total,
		})
	}
	if p.alertFunc != nil {
		p.alertFunc(p.kind.Name(), cooling, total)
	}
}
