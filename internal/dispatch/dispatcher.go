// Package dispatch is the single entry point for provider calls. A request
// flows through prompt sanitation and optimization, the response cache, the
// per-provider circuit breaker, credential acquisition, the provider
// adapter, and finally outcome accounting (credential marking, metrics,
// events, persistence). Provider failures come back as data in the
// Response, never as Go errors, so every caller sees one uniform shape.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/troika-ai/troika/internal/breaker"
	"github.com/troika-ai/troika/internal/credential"
	"github.com/troika-ai/troika/internal/events"
	"github.com/troika-ai/troika/internal/metrics"
	"github.com/troika-ai/troika/internal/prompt"
	"github.com/troika-ai/troika/internal/provider"
	"github.com/troika-ai/troika/internal/stats"
	"github.com/troika-ai/troika/internal/store"
)

// Response channels. Cache hits keep the channel of the stored response and
// are marked through metadata instead.
const (
	ChannelChat   = "chat"
	ChannelStream = "stream"
)

// Adapter is one provider-specific client. Execute performs a single-shot
// chat completion; ExecuteStream consumes the SSE variant, invoking the
// callbacks once per delta. Adapters without a streaming path return
// provider.ErrStreamUnsupported from ExecuteStream.
type Adapter interface {
	Kind() provider.Kind
	Execute(ctx context.Context, req provider.Request, apiKey string) (*provider.Result, error)
	ExecuteStream(ctx context.Context, req provider.Request, apiKey string, onReasoning, onContent func(string)) (*provider.Result, error)
}

// Dispatcher routes requests to registered provider adapters. Safe for
// concurrent use once every provider is registered.
type Dispatcher struct {
	adapters map[provider.Kind]Adapter
	pools    map[provider.Kind]*credential.Pool
	breakers map[provider.Kind]*breaker.Breaker

	cache           *prompt.ResponseCache
	metrics         *metrics.Registry
	bus             *events.Bus
	store           store.Store
	stats           *stats.Collector
	logger          *slog.Logger
	reasoningDir    string
	thinkingAllowed bool
	breakerOpts     []breaker.Option

	nowFunc func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCache installs the response cache consulted before single-shot calls.
func WithCache(c *prompt.ResponseCache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

// WithMetrics wires request, token, cost, and breaker instruments.
func WithMetrics(m *metrics.Registry) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithEventBus publishes request and breaker events to the given bus.
func WithEventBus(b *events.Bus) Option {
	return func(d *Dispatcher) { d.bus = b }
}

// WithStore persists one outcome row per dispatched request.
func WithStore(s store.Store) Option {
	return func(d *Dispatcher) { d.store = s }
}

// WithStats feeds the in-memory rolling-window collector.
func WithStats(c *stats.Collector) Option {
	return func(d *Dispatcher) { d.stats = c }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithReasoningDir sets the directory reasoning traces are written to.
// Empty disables persistence.
func WithReasoningDir(dir string) Option {
	return func(d *Dispatcher) { d.reasoningDir = dir }
}

// WithTechnicalThinking allows the complexity heuristic to enable thinking
// mode on technical-provider requests. Off, thinking requests are
// suppressed and counted.
func WithTechnicalThinking(allowed bool) Option {
	return func(d *Dispatcher) { d.thinkingAllowed = allowed }
}

// WithBreakerOptions applies extra options to every provider breaker
// created by RegisterProvider.
func WithBreakerOptions(opts ...breaker.Option) Option {
	return func(d *Dispatcher) { d.breakerOpts = opts }
}

// New creates an empty Dispatcher; wire providers with RegisterProvider.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		adapters: make(map[provider.Kind]Adapter),
		pools:    make(map[provider.Kind]*credential.Pool),
		breakers: make(map[provider.Kind]*breaker.Breaker),
		logger:   slog.Default(),
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RegisterProvider adds an adapter with its credential pool and gives the
// provider a fresh circuit breaker. Not safe to call concurrently with
// dispatching.
func (d *Dispatcher) RegisterProvider(a Adapter, pool *credential.Pool) {
	k := a.Kind()
	d.adapters[k] = a
	d.pools[k] = pool
	d.breakers[k] = d.newBreaker(k)
}

// Breaker returns the circuit breaker for a registered provider, or nil.
func (d *Dispatcher) Breaker(k provider.Kind) *breaker.Breaker {
	return d.breakers[k]
}

// Pool returns the credential pool for a registered provider, or nil.
func (d *Dispatcher) Pool(k provider.Kind) *credential.Pool {
	return d.pools[k]
}

// Send dispatches a single-shot request. Failures are data: the response
// always comes back non-nil with Success and ErrorKind describing the
// outcome.
func (d *Dispatcher) Send(ctx context.Context, req provider.Request) *provider.Response {
	return d.dispatch(ctx, req, false, nil, nil)
}

// SendStream dispatches the SSE variant, invoking onReasoning and onContent
// once per delta as they arrive. The returned response carries the fully
// concatenated text. Providers without a streaming path fail fast without
// consuming a credential.
func (d *Dispatcher) SendStream(ctx context.Context, req provider.Request, onReasoning, onContent func(string)) *provider.Response {
	return d.dispatch(ctx, req, true, onReasoning, onContent)
}

func (d *Dispatcher) dispatch(ctx context.Context, req provider.Request, stream bool, onReasoning, onContent func(string)) *provider.Response {
	start := d.nowFunc()
	kind := req.Provider
	name := kind.Name()
	requestID := uuid.NewString()
	ctx = provider.WithRequestID(ctx, requestID)

	adapter, ok := d.adapters[kind]
	if !ok {
		return d.fail(ctx, failCtx{req: req, start: start, requestID: requestID, stream: stream},
			provider.ErrKindClient, fmt.Sprintf("no adapter registered for provider %s", name))
	}
	pool := d.pools[kind]

	if stream && !provider.SupportsStreaming(kind) {
		return d.fail(ctx, failCtx{req: req, start: start, requestID: requestID, stream: stream},
			provider.ErrKindClient, fmt.Sprintf("%s: %s", name, provider.ErrStreamUnsupported))
	}

	req = d.prepare(req)

	cacheKey := prompt.CacheKey(kind, req.Prompt)
	if !stream && d.cache != nil {
		if resp, ok := d.cache.Get(cacheKey); ok {
			if resp.Metadata == nil {
				resp.Metadata = map[string]any{}
			}
			resp.Metadata["cache_hit"] = true
			d.countOutcome(name, "cache_hit")
			d.logger.Debug("response cache hit", "provider", name, "key", cacheKey)
			return resp
		}
	}

	br := d.breakers[kind]
	if br != nil && !br.Allow() {
		return d.fail(ctx, failCtx{req: req, start: start, requestID: requestID, stream: stream},
			provider.ErrKindCircuit, fmt.Sprintf("%s: %s", name, provider.ErrCircuitOpen))
	}

	cred := pool.Acquire(ctx)
	if cred == nil {
		if br != nil {
			br.CancelProbe()
		}
		return d.fail(ctx, failCtx{req: req, start: start, requestID: requestID, stream: stream},
			provider.ErrKindNoCred, fmt.Sprintf("no active %s credentials", name))
	}

	apiKey, err := pool.Key(cred)
	if err != nil {
		// The slot points at a secret that cannot be read; treat it like a
		// dead key so the pool stops handing it out.
		pool.MarkAuthError(cred)
		if br != nil {
			br.CancelProbe()
		}
		return d.fail(ctx, failCtx{req: req, start: start, requestID: requestID, cred: cred, stream: stream},
			provider.ErrKindNoCred, fmt.Sprintf("read secret for %s[%d]: %v", name, cred.Index, err))
	}

	var result *provider.Result
	var execErr error
	if stream {
		result, execErr = adapter.ExecuteStream(ctx, req, apiKey, onReasoning, onContent)
	} else {
		result, execErr = adapter.Execute(ctx, req, apiKey)
	}
	latency := d.nowFunc().Sub(start)

	if execErr != nil {
		errKind := provider.Classify(execErr)
		if errKind == provider.ErrKindNetwork && ctx.Err() != nil {
			// The caller's own deadline ended the call mid-flight. The
			// adapter's per-request timeout runs on a child context, so a
			// live parent here means a genuine provider timeout and a dead
			// one means the caller walked away.
			errKind = provider.ErrKindCancelled
		}
		d.markCredential(pool, cred, errKind, execErr)
		if br != nil {
			if errKind == provider.ErrKindNetwork || errKind == provider.ErrKindServer {
				br.RecordFailure()
			} else {
				// Rate-limit, auth, client, parse, and cancelled outcomes
				// say nothing about provider liveness; a half-open probe
				// ending here must hand its slot back.
				br.CancelProbe()
			}
		}
		d.logger.Warn("provider request failed",
			"provider", name,
			"task_type", req.TaskType,
			"credential", cred.Index,
			"error_kind", string(errKind),
			"latency_ms", latency.Seconds()*1000,
			"error", execErr)
		return d.fail(ctx, failCtx{req: req, start: start, requestID: requestID, cred: cred, latency: latency, stream: stream},
			errKind, execErr.Error())
	}

	pool.MarkSuccess(cred)
	if br != nil {
		br.RecordSuccess()
	}

	resp := d.buildResponse(req, result, stream, requestID, cred.Index, latency)

	d.account(ctx, req, resp, requestID, result.Model)

	if resp.Success && !stream && d.cache != nil {
		d.cache.Put(cacheKey, resp)
	}
	return resp
}

// prepare runs the text pipeline: per-segment sanitation, code and metrics
// composition, a final sanitation pass over the composed prompt, and the
// technical-provider thinking gate. The request is copied; the caller's is
// never mutated.
func (d *Dispatcher) prepare(req provider.Request) provider.Request {
	redactions := 0

	p, n := prompt.Sanitize(req.Prompt)
	redactions += n

	if req.Code != "" {
		c, n := prompt.Sanitize(req.Code)
		redactions += n
		p = p + "\n\nCode:\n```\n" + c + "\n```"
		req.Code = c
	}

	if req.Context != nil {
		clean, n := prompt.SanitizeValue(req.Context)
		redactions += n
		req.Context = clean.(map[string]any)
	}

	if m, ok := req.Context["metrics"].(map[string]any); ok {
		p = prompt.OptimizePrompt(req.Provider, p, m)
	}

	p, n = prompt.Sanitize(p)
	redactions += n
	req.Prompt = p

	if redactions > 0 {
		if d.metrics != nil {
			d.metrics.SanitizerRedactions.Add(float64(redactions))
		}
		d.logger.Warn("prompt sanitized", "provider", req.Provider.Name(), "redactions", redactions)
	}

	if req.Provider == provider.Technical {
		if req.ThinkingMode && !d.thinkingAllowed {
			req.ThinkingMode = false
			if d.metrics != nil {
				d.metrics.ThinkingSkipped.Inc()
			}
		}
		if prompt.ShouldEnableThinking(req.Prompt, d.thinkingAllowed) {
			req.ThinkingMode = true
		}
	}
	return req
}

// buildResponse turns an adapter result into the uniform response: content
// extraction with its fallback chain, token usage, and the per-provider
// extras (reasoning trace, citations, tool calls).
func (d *Dispatcher) buildResponse(req provider.Request, result *provider.Result, stream bool, requestID string, credIndex int, latency time.Duration) *provider.Response {
	idx := credIndex
	resp := &provider.Response{
		Success:         true,
		Channel:         ChannelChat,
		CredentialIndex: &idx,
		LatencyMS:       latency.Seconds() * 1000,
		Timestamp:       d.nowFunc().UTC(),
		Metadata:        map[string]any{"model": result.Model},
	}
	if result.ReasoningMode {
		resp.Metadata["reasoning_mode"] = true
	}

	if stream {
		resp.Channel = ChannelStream
		resp.Content = result.Content
		resp.ReasoningContent = result.ReasoningContent
	} else {
		content, ok := extractContent(result.Raw)
		if !ok {
			resp.Success = false
			resp.ErrorKind = provider.ErrKindParse
			resp.Error = "no recognizable content field in provider response"
			resp.Content = rawDump(result.Raw)
			return resp
		}
		resp.Content = content
		resp.ReasoningContent = extractReasoning(result.Raw)
		resp.ToolCalls = extractToolCalls(result.Raw)
		resp.Usage = extractUsage(req.Provider, result.Model, result.Raw)
	}

	if req.Provider == provider.Research && !stream {
		resp.Citations = extractCitations(result.Raw)
	}

	if req.Provider == provider.Reasoner && resp.ReasoningContent != "" && d.reasoningDir != "" {
		path, err := writeReasoningLog(d.reasoningDir, requestID, d.nowFunc(), resp.ReasoningContent)
		if err != nil {
			d.logger.Warn("persist reasoning trace", "error", err)
		} else {
			resp.Metadata["reasoning_log"] = path
		}
	}
	return resp
}

// account records the outcome everywhere it is observed: prometheus, the
// event bus, the rolling stats window, and the outcome table.
func (d *Dispatcher) account(ctx context.Context, req provider.Request, resp *provider.Response, requestID, model string) {
	name := req.Provider.Name()

	outcome := "success"
	if !resp.Success {
		outcome = string(resp.ErrorKind)
	}
	d.countOutcome(name, outcome)
	if d.metrics != nil {
		d.metrics.RequestSeconds.WithLabelValues(name).Observe(resp.LatencyMS / 1000)
		if u := resp.Usage; u != nil {
			d.metrics.TokensTotal.WithLabelValues(name, "prompt").Add(float64(u.PromptTokens))
			d.metrics.TokensTotal.WithLabelValues(name, "completion").Add(float64(u.CompletionTokens))
			if u.ReasoningTokens > 0 {
				d.metrics.TokensTotal.WithLabelValues(name, "reasoning").Add(float64(u.ReasoningTokens))
			}
			if u.CostUSD != nil {
				d.metrics.CostUSD.WithLabelValues(name).Add(*u.CostUSD)
			}
		}
	}

	if d.bus != nil {
		ev := events.Event{
			Type:      events.EventRequestSuccess,
			Provider:  name,
			TaskType:  req.TaskType,
			LatencyMs: resp.LatencyMS,
			RequestID: requestID,
		}
		if resp.CredentialIndex != nil {
			ev.CredentialIndex = *resp.CredentialIndex
		}
		if !resp.Success {
			ev.Type = events.EventRequestError
			ev.ErrorKind = string(resp.ErrorKind)
			ev.ErrorMsg = resp.Error
		} else if u := resp.Usage; u != nil && u.CostUSD != nil {
			ev.CostUSD = *u.CostUSD
		}
		d.bus.Publish(ev)
	}

	if d.stats != nil {
		s := stats.Sample{
			Timestamp: resp.Timestamp,
			Provider:  name,
			Model:     model,
			Channel:   resp.Channel,
			LatencyMS: resp.LatencyMS,
			Success:   resp.Success,
		}
		if u := resp.Usage; u != nil {
			s.PromptTokens = u.PromptTokens
			s.CompletionTokens = u.CompletionTokens
			s.ReasoningTokens = u.ReasoningTokens
			s.CacheHitTokens = u.CacheHitTokens
			if u.CostUSD != nil {
				s.CostUSD = *u.CostUSD
			}
		}
		d.stats.Record(s)
	}

	if d.store != nil {
		rec := store.OutcomeRecord{
			Timestamp:       resp.Timestamp,
			RequestID:       requestID,
			Provider:        name,
			Model:           model,
			TaskType:        req.TaskType,
			Channel:         resp.Channel,
			Success:         resp.Success,
			ErrorKind:       string(resp.ErrorKind),
			LatencyMS:       resp.LatencyMS,
			CredentialIndex: resp.CredentialIndex,
		}
		if u := resp.Usage; u != nil {
			rec.PromptTokens = u.PromptTokens
			rec.CompletionTokens = u.CompletionTokens
			rec.ReasoningTokens = u.ReasoningTokens
			rec.CacheHitTokens = u.CacheHitTokens
			if u.CostUSD != nil {
				rec.CostUSD = *u.CostUSD
			}
		}
		// Outcome rows outlive the request; a cancelled caller still gets
		// accounted for.
		if err := d.store.LogOutcome(context.WithoutCancel(ctx), rec); err != nil {
			d.logger.Warn("persist request outcome", "error", err)
		}
	}
}

// failCtx carries what is known about a request at the point it failed.
type failCtx struct {
	req       provider.Request
	start     time.Time
	requestID string
	cred      *credential.Credential
	latency   time.Duration
	stream    bool
}

// fail builds the uniform failure response and routes it through the same
// accounting paths successful responses take.
func (d *Dispatcher) fail(ctx context.Context, fc failCtx, kind provider.ErrorKind, msg string) *provider.Response {
	name := fc.req.Provider.Name()
	channel := ChannelChat
	if fc.stream {
		channel = ChannelStream
	}
	latency := fc.latency
	if latency == 0 {
		latency = d.nowFunc().Sub(fc.start)
	}
	resp := &provider.Response{
		Success:   false,
		Channel:   channel,
		Error:     msg,
		ErrorKind: kind,
		LatencyMS: latency.Seconds() * 1000,
		Timestamp: d.nowFunc().UTC(),
	}
	if fc.cred != nil {
		idx := fc.cred.Index
		resp.CredentialIndex = &idx
	}

	d.countOutcome(name, string(kind))
	if d.metrics != nil && fc.latency > 0 {
		// Only calls that reached the provider contribute latency samples.
		d.metrics.RequestSeconds.WithLabelValues(name).Observe(latency.Seconds())
	}

	if d.bus != nil {
		ev := events.Event{
			Type:      events.EventRequestError,
			Provider:  name,
			TaskType:  fc.req.TaskType,
			LatencyMs: resp.LatencyMS,
			ErrorKind: string(kind),
			ErrorMsg:  msg,
			RequestID: fc.requestID,
		}
		if fc.cred != nil {
			ev.CredentialIndex = fc.cred.Index
		}
		d.bus.Publish(ev)
	}

	if d.stats != nil {
		d.stats.Record(stats.Sample{
			Timestamp: resp.Timestamp,
			Provider:  name,
			Channel:   channel,
			LatencyMS: resp.LatencyMS,
			Success:   false,
		})
	}

	if d.store != nil {
		rec := store.OutcomeRecord{
			Timestamp:       resp.Timestamp,
			RequestID:       fc.requestID,
			Provider:        name,
			TaskType:        fc.req.TaskType,
			Channel:         channel,
			Success:         false,
			ErrorKind:       string(kind),
			LatencyMS:       resp.LatencyMS,
			CredentialIndex: resp.CredentialIndex,
		}
		if err := d.store.LogOutcome(context.WithoutCancel(ctx), rec); err != nil {
			d.logger.Warn("persist request outcome", "error", err)
		}
	}
	return resp
}

// markCredential applies the error-class-specific pool action.
func (d *Dispatcher) markCredential(pool *credential.Pool, cred *credential.Credential, kind provider.ErrorKind, err error) {
	switch kind {
	case provider.ErrKindAuth:
		pool.MarkAuthError(cred)
	case provider.ErrKindRateLimit:
		var retryAfter *time.Duration
		var se *provider.StatusError
		if errors.As(err, &se) {
			if ra, ok := se.RetryAfter(); ok {
				retryAfter = &ra
			}
		}
		pool.MarkRateLimit(cred, retryAfter)
	case provider.ErrKindServer:
		pool.MarkRateLimit(cred, nil)
	case provider.ErrKindClient:
		pool.MarkClientError(cred)
	case provider.ErrKindCancelled:
		// The caller walked away; the credential did nothing wrong.
	default:
		pool.MarkNetworkError(cred)
	}
}

func (d *Dispatcher) countOutcome(name, outcome string) {
	if d.metrics != nil {
		d.metrics.RequestsTotal.WithLabelValues(name, outcome).Inc()
	}
}

func (d *Dispatcher) newBreaker(k provider.Kind) *breaker.Breaker {
	name := k.Name()
	opts := append([]breaker.Option{}, d.breakerOpts...)
	opts = append(opts, breaker.WithOnStateChange(func(from, to breaker.State) {
		if to == breaker.Open {
			d.logger.Warn("circuit breaker opened", "provider", name, "from", from.String())
		} else {
			d.logger.Info("circuit breaker transition", "provider", name, "from", from.String(), "to", to.String())
		}
		if d.metrics != nil {
			d.metrics.BreakerState.WithLabelValues(name).Set(breakerGauge(to))
		}
		if d.bus != nil {
			d.bus.Publish(events.Event{
				Type:     events.EventBreakerTransition,
				Provider: name,
				OldState: from.String(),
				NewState: to.String(),
			})
		}
	}))
	return breaker.New(opts...)
}

// breakerGauge follows the troika_breaker_state encoding: 0 closed,
// 1 half-open, 2 open.
func breakerGauge(s breaker.State) float64 {
	switch s {
	case breaker.HalfOpen:
		return 1
	case breaker.Open:
		return 2
	default:
		return 0
	}
}
