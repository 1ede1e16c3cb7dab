// Package perplexity implements the research provider adapter: web-grounded
// Sonar chat completions with a task-type model matrix and a cost guard that
// collapses the expensive models to sonar-pro.
package perplexity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/troika-ai/troika/internal/provider"
)

// Sonar model family.
const (
	ModelSonar             = "sonar"
	ModelSonarPro          = "sonar-pro"
	ModelSonarReasoningPro = "sonar-reasoning-pro"
	ModelSonarDeepResearch = "sonar-deep-research"
)

const defaultTemperature = 0.2

const systemPrompt = "You are a market research assistant with live web " +
	"access. Ground every claim in current sources and cite them."

// Config holds the adapter's environment-derived settings.
type Config struct {
	BaseURL        string
	AllowExpensive bool // PERPLEXITY_ALLOW_EXPENSIVE
	Client         *http.Client
	Logger         *slog.Logger
}

// Adapter builds and executes Perplexity chat completions.
type Adapter struct {
	baseURL        string
	allowExpensive bool
	client         *http.Client
	logger         *slog.Logger
}

// New creates a Perplexity adapter.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = provider.PerplexityBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		baseURL:        cfg.BaseURL,
		allowExpensive: cfg.AllowExpensive,
		client:         cfg.Client,
		logger:         cfg.Logger,
	}
}

// Kind returns the provider role this adapter serves.
func (a *Adapter) Kind() provider.Kind { return provider.Research }

// Execute sends a single-shot chat completion and returns the decoded body.
func (a *Adapter) Execute(ctx context.Context, req provider.Request, apiKey string) (*provider.Result, error) {
	payload := a.buildPayload(req)

	ctx, cancel := context.WithTimeout(ctx, provider.ChatTimeout)
	defer cancel()

	body, err := provider.DoRequest(ctx, a.client, a.baseURL+provider.ChatCompletionsPath, apiKey, payload)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		raw = map[string]any{"raw": string(body)}
	}
	return &provider.Result{Raw: raw, Model: payload.Model}, nil
}

// ExecuteStream is not offered by this adapter.
func (a *Adapter) ExecuteStream(ctx context.Context, req provider.Request, apiKey string, onReasoning, onContent func(string)) (*provider.Result, error) {
	return nil, provider.ErrStreamUnsupported
}

func (a *Adapter) buildPayload(req provider.Request) provider.ChatPayload {
	model, maxTokens, downgraded := a.modelFor(req.TaskType)
	if downgraded {
		a.logger.Warn("expensive model gated off, downgrading to sonar-pro",
			slog.String("task_type", req.TaskType))
	}

	p := provider.ChatPayload{
		Model:       model,
		Temperature: provider.Float(defaultTemperature),
		MaxTokens:   maxTokens,
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Prompt},
		},
	}
	if wantsRecentNews(req.TaskType) {
		p.WebSearchOptions = &provider.WebSearchOptions{SearchRecencyFilter: "week"}
	}
	return p
}

// modelFor maps a task type to a Sonar model and token budget. With the
// expensive guard off, deep-research and reasoning tasks collapse to
// sonar-pro; the returned bool reports that downgrade.
func (a *Adapter) modelFor(taskType string) (string, int, bool) {
	t := strings.ToLower(taskType)
	switch {
	case strings.Contains(t, "research") || strings.Contains(t, "report"):
		if a.allowExpensive {
			return ModelSonarDeepResearch, 4000, false
		}
		return ModelSonarPro, 2000, true
	case strings.Contains(t, "analy") || strings.Contains(t, "reason"):
		if a.allowExpensive {
			return ModelSonarReasoningPro, 4000, false
		}
		return ModelSonarPro, 2000, true
	case strings.Contains(t, "quick"):
		return ModelSonar, 1000, false
	default:
		return ModelSonarPro, 2000, false
	}
}

func wantsRecentNews(taskType string) bool {
	t := strings.ToLower(taskType)
	return strings.Contains(t, "news") || strings.Contains(t, "recent")
}
