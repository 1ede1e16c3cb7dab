package credential

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/troika-ai/troika/internal/provider"
)

// ProbeFunc sends a minimal authenticated request to a provider and returns
// the transport or status error, if any.
type ProbeFunc func(ctx context.Context, kind provider.Kind, apiKey string) error

// ProbeResult is the outcome of one credential's preflight probe.
type ProbeResult struct {
	Provider   string `json:"provider"`
	Index      int    `json:"index"`
	SecretName string `json:"secret_name"`
	OK         bool   `json:"ok"`
	Disabled   bool   `json:"disabled,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewHTTPProbe builds the default probe: a one-token chat completion against
// the provider's cheapest model. baseURL may be nil for the production
// endpoints; tests point it at a local server.
func NewHTTPProbe(client *http.Client, baseURL func(provider.Kind) string) ProbeFunc {
	if client == nil {
		client = &http.Client{Timeout: provider.PreflightTimeout}
	}
	if baseURL == nil {
		baseURL = provider.BaseURL
	}
	return func(ctx context.Context, kind provider.Kind, apiKey string) error {
		payload := provider.ChatPayload{
			Model:     provider.ProbeModel(kind),
			Messages:  []provider.Message{{Role: "user", Content: "ping"}},
			MaxTokens: 1,
		}
		_, err := provider.DoRequest(ctx, client, baseURL(kind)+provider.ChatCompletionsPath, apiKey, payload)
		return err
	}
}

// PreflightValidate probes every credential in the pool concurrently and
// disables the ones that fail authentication. Transient failures (network,
// throttling) are reported but leave the credential untouched.
func (p *Pool) PreflightValidate(ctx context.Context) []ProbeResult {
	probe := p.probe
	if probe == nil {
		probe = NewHTTPProbe(nil, nil)
	}

	p.mu.Lock()
	creds := make([]*Credential, len(p.creds))
	copy(creds, p.creds)
	p.mu.Unlock()

	results := make([]ProbeResult, len(creds))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range creds {
		g.Go(func() error {
			res := ProbeResult{
				Provider:   p.kind.Name(),
				Index:      c.Index,
				SecretName: c.SecretName,
			}
			key, err := p.secrets.DecryptedKey(c.SecretName)
			if err != nil {
				res.Error = "secret: " + err.Error()
				results[i] = res
				return nil
			}

			pctx, cancel := context.WithTimeout(gctx, provider.PreflightTimeout)
			defer cancel()
			if err := probe(pctx, p.kind, key); err != nil {
				res.Error = err.Error()
				if provider.Classify(err) == provider.ErrKindAuth {
					p.MarkAuthError(c)
					res.Disabled = true
				}
				results[i] = res
				return nil
			}

			res.OK = true
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Disabled {
			p.logger.Warn("preflight disabled credential",
				slog.String("provider", r.Provider),
				slog.Int("index", r.Index),
				slog.String("error", r.Error),
			)
		}
	}
	return results
}

// Prober re-runs preflight validation across a set of pools on a fixed
// interval, catching keys that get revoked or re-funded while the service
// is up. The first pass runs immediately on Start.
type Prober struct {
	pools    []*Pool
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewProber creates a background preflight prober.
func NewProber(pools []*Pool, interval time.Duration, logger *slog.Logger) *Prober {
	return &Prober{
		pools:    pools,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the periodic probe loop in a goroutine.
func (p *Prober) Start() {
	go p.run()
}

// Stop signals the prober to stop and waits for it to finish.
func (p *Prober) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Prober) run() {
	defer close(p.done)

	p.validateAll()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.validateAll()
		case <-p.stop:
			return
		}
	}
}

func (p *Prober) validateAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*provider.PreflightTimeout)
	defer cancel()

	for _, pool := range p.pools {
		results := pool.PreflightValidate(ctx)
		ok, disabled := 0, 0
		for _, r := range results {
			if r.OK {
				ok++
			}
			if r.Disabled {
				disabled++
			}
		}
		p.logger.Info("preflight validation",
			slog.String("provider", pool.Kind().Name()),
			slog.Int("total", len(results)),
			slog.Int("ok", ok),
			slog.Int("disabled", disabled),
		)
	}
}
