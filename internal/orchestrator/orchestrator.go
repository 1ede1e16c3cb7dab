// Package orchestrator composes the service core: provider adapters and
// credential pools behind the dispatcher, the market-context enricher, the
// deliberation engine, and the shared accounting fabric of metrics, events,
// rolling stats, and the audit store. The HTTP surface and the durable
// workflow path both operate on this one object.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/troika-ai/troika/internal/credential"
	"github.com/troika-ai/troika/internal/deliberate"
	"github.com/troika-ai/troika/internal/dispatch"
	"github.com/troika-ai/troika/internal/enrich"
	"github.com/troika-ai/troika/internal/events"
	"github.com/troika-ai/troika/internal/metrics"
	"github.com/troika-ai/troika/internal/prompt"
	"github.com/troika-ai/troika/internal/provider"
	"github.com/troika-ai/troika/internal/secrets"
	"github.com/troika-ai/troika/internal/stats"
	"github.com/troika-ai/troika/internal/store"
)

// Config holds the orchestrator's tunables. Zero values select the
// package defaults noted per field.
type Config struct {
	// ReasoningDir is where reasoner traces are persisted. Empty disables.
	ReasoningDir string

	// TechnicalThinking allows thinking mode on technical-provider requests.
	TechnicalThinking bool

	// ResponseCacheTTL and ResponseCacheSize bound the identical-prompt
	// response cache. Defaults: 300 s, 256 entries.
	ResponseCacheTTL  time.Duration
	ResponseCacheSize int

	// EnrichTTL is the market-context cache lifetime, default 300 s.
	// EnrichMode gates which questions consult research at all.
	EnrichTTL  time.Duration
	EnrichMode enrich.Mode

	// StatsSeedWindow is how far back SeedStats replays outcome rows,
	// default 24 h.
	StatsSeedWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.ResponseCacheTTL <= 0 {
		c.ResponseCacheTTL = prompt.DefaultCacheTTL
	}
	if c.ResponseCacheSize <= 0 {
		c.ResponseCacheSize = prompt.DefaultCacheEntries
	}
	if c.StatsSeedWindow <= 0 {
		c.StatsSeedWindow = 24 * time.Hour
	}
	return c
}

// Orchestrator owns the composed service. Register providers before serving;
// everything else is safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	secrets secrets.Store
	logger  *slog.Logger
	nowFunc func() time.Time

	metrics    *metrics.Registry
	bus        *events.Bus
	stats      *stats.Collector
	cache      *prompt.ResponseCache
	store      store.Store
	dispatcher *dispatch.Dispatcher
	enricher   *enrich.Enricher
	engine     *deliberate.Engine

	startedAt time.Time
	kinds     []provider.Kind // registration order, for stable snapshots
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore attaches the audit store. Without one the service still runs;
// outcomes, alerts, and deliberation summaries are simply not persisted.
func WithStore(s store.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithNow overrides the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFunc = fn }
}

// New builds the composed core around a secrets store. Providers are wired
// in afterwards with RegisterProvider.
func New(sec secrets.Store, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg.withDefaults(),
		secrets: sec,
		logger:  slog.Default(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.startedAt = o.nowFunc()

	o.metrics = metrics.New()
	o.bus = events.NewBus()
	o.stats = stats.NewCollector()
	o.cache = prompt.NewResponseCache(o.cfg.ResponseCacheTTL, o.cfg.ResponseCacheSize,
		prompt.WithCacheMetrics(o.metrics))

	o.dispatcher = dispatch.New(
		dispatch.WithCache(o.cache),
		dispatch.WithMetrics(o.metrics),
		dispatch.WithEventBus(o.bus),
		dispatch.WithStore(o.store),
		dispatch.WithStats(o.stats),
		dispatch.WithLogger(o.logger),
		dispatch.WithReasoningDir(o.cfg.ReasoningDir),
		dispatch.WithTechnicalThinking(o.cfg.TechnicalThinking),
	)

	enrichOpts := []enrich.Option{
		enrich.WithMode(o.cfg.EnrichMode),
		enrich.WithLogger(o.logger),
		enrich.WithMetrics(o.metrics),
		enrich.WithEventBus(o.bus),
	}
	if o.cfg.EnrichTTL > 0 {
		enrichOpts = append(enrichOpts, enrich.WithTTL(o.cfg.EnrichTTL))
	}
	o.enricher = enrich.New(o.dispatcher, enrichOpts...)

	o.engine = deliberate.New(o.dispatcher,
		deliberate.WithEnricher(o.enricher),
		deliberate.WithMetrics(o.metrics),
		deliberate.WithEventBus(o.bus),
		deliberate.WithStore(o.store),
		deliberate.WithLogger(o.logger),
	)
	return o
}

// RegisterProvider builds the credential pool for the adapter's provider
// and wires both into the dispatcher. Pools share the orchestrator's event
// bus, metrics, and pressure-alert sink. An empty secretNames slice still
// registers the provider; its requests fail with no_credential until keys
// appear and the process restarts.
func (o *Orchestrator) RegisterProvider(a dispatch.Adapter, secretNames []string, poolOpts ...credential.Option) *credential.Pool {
	kind := a.Kind()
	opts := []credential.Option{
		credential.WithEventBus(o.bus),
		credential.WithMetrics(o.metrics),
		credential.WithAlertFunc(o.recordPressureAlert),
		credential.WithLogger(o.logger),
	}
	opts = append(opts, poolOpts...)
	pool := credential.NewPool(kind, o.secrets, secretNames, opts...)
	o.dispatcher.RegisterProvider(a, pool)
	o.kinds = append(o.kinds, kind)
	o.logger.Info("provider registered",
		slog.String("provider", kind.Name()),
		slog.Int("credentials", len(secretNames)))
	return pool
}

// Providers returns the registered kinds in registration order.
func (o *Orchestrator) Providers() []provider.Kind {
	out := make([]provider.Kind, len(o.kinds))
	copy(out, o.kinds)
	return out
}

// Send dispatches a single-shot request.
func (o *Orchestrator) Send(ctx context.Context, req provider.Request) *provider.Response {
	return o.dispatcher.Send(ctx, req)
}

// Stream dispatches the SSE variant, invoking the callbacks per delta.
func (o *Orchestrator) Stream(ctx context.Context, req provider.Request, onReasoning, onContent func(string)) *provider.Response {
	return o.dispatcher.SendStream(ctx, req, onReasoning, onContent)
}

// Deliberate runs the multi-round protocol in process.
func (o *Orchestrator) Deliberate(ctx context.Context, p deliberate.Params) (*deliberate.Result, error) {
	return o.engine.Deliberate(ctx, p)
}

// Enrich returns base extended with market context for the symbol.
func (o *Orchestrator) Enrich(ctx context.Context, symbol, strategyType string, base map[string]any) map[string]any {
	return o.enricher.Enrich(ctx, symbol, strategyType, base)
}

// InvalidateEnrichment drops cached market context. An empty symbol clears
// the whole cache; otherwise only that symbol's entries go. Returns how
// many entries were removed.
func (o *Orchestrator) InvalidateEnrichment(symbol string) int {
	return o.enricher.Invalidate(symbol)
}

// Preflight probes every registered credential concurrently and disables
// the ones that fail authentication, keyed by provider name.
func (o *Orchestrator) Preflight(ctx context.Context) map[string][]credential.ProbeResult {
	out := make(map[string][]credential.ProbeResult, len(o.kinds))
	for _, k := range o.kinds {
		pool := o.dispatcher.Pool(k)
		if pool == nil || pool.Size() == 0 {
			continue
		}
		out[k.Name()] = pool.PreflightValidate(ctx)
	}
	return out
}

// SeedStats replays recent outcome rows into the rolling-stats collector so
// a restart does not blank the snapshot surface.
func (o *Orchestrator) SeedStats(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	since := o.nowFunc().Add(-o.cfg.StatsSeedWindow)
	rows, err := o.store.ListOutcomesSince(ctx, since)
	if err != nil {
		return fmt.Errorf("seed stats: %w", err)
	}
	samples := make([]stats.Sample, 0, len(rows))
	for _, r := range rows {
		samples = append(samples, sampleFromOutcome(r))
	}
	o.stats.Seed(samples)
	o.logger.Info("stats seeded", slog.Int("samples", len(samples)))
	return nil
}

// Engine exposes the deliberation engine for the durable workflow path.
func (o *Orchestrator) Engine() *deliberate.Engine { return o.engine }

// Events exposes the event bus for SSE tailing.
func (o *Orchestrator) Events() *events.Bus { return o.bus }

// Metrics exposes the prometheus registry for the scrape endpoint.
func (o *Orchestrator) Metrics() *metrics.Registry { return o.metrics }

// Stats exposes the rolling-window collector.
func (o *Orchestrator) Stats() *stats.Collector { return o.stats }

// Store exposes the audit store, nil when persistence is off.
func (o *Orchestrator) Store() store.Store { return o.store }

// recordPressureAlert persists one row per fired pool-pressure alert. The
// pool has already debounced, logged, and published it.
func (o *Orchestrator) recordPressureAlert(providerName string, cooling, total int) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := store.PressureAlertRecord{
		Timestamp: o.nowFunc().UTC(),
		Provider:  providerName,
		Cooling:   cooling,
		Total:     total,
	}
	if err := o.store.LogPressureAlert(ctx, rec); err != nil {
		o.logger.Warn("persist pressure alert", "error", err)
	}
}

func sampleFromOutcome(r store.OutcomeRecord) stats.Sample {
	return stats.Sample{
		Timestamp:        r.Timestamp,
		Provider:         r.Provider,
		Model:            r.Model,
		Channel:          r.Channel,
		LatencyMS:        r.LatencyMS,
		CostUSD:          r.CostUSD,
		Success:          r.Success,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		ReasoningTokens:  r.ReasoningTokens,
		CacheHitTokens:   r.CacheHitTokens,
	}
}
