// Package qwen implements the technical-analysis provider adapter: Qwen
// chat completions through the DashScope OpenAI-compatible endpoint, with
// an env-gated thinking mode and an optional fast-model override.
package qwen

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/troika-ai/troika/internal/provider"
)

const (
	// DefaultModel is the standard model when QWEN_MODEL is unset.
	DefaultModel = "qwen-plus"
	// DefaultFastModel is the cheap model when QWEN_MODEL_FAST is unset.
	DefaultFastModel = "qwen-turbo"

	defaultTemperature = 0.4
)

const systemPrompt = "You are a technical analysis specialist. Interpret " +
	"indicators precisely, name the exact values you rely on, and keep " +
	"conclusions proportional to the evidence."

// Config holds the adapter's environment-derived settings.
type Config struct {
	BaseURL       string
	Model         string  // QWEN_MODEL
	FastModel     string  // QWEN_MODEL_FAST
	PreferFast    bool     // QWEN_PREFER_FAST
	AllowThinking bool     // QWEN_ENABLE_THINKING
	Temperature   *float64 // QWEN_TEMPERATURE; nil means the default, 0 is greedy decoding
	Client        *http.Client
	Logger        *slog.Logger
}

// Adapter builds and executes Qwen chat completions.
type Adapter struct {
	baseURL       string
	model         string
	fastModel     string
	preferFast    bool
	allowThinking bool
	temperature   float64
	client        *http.Client
	logger        *slog.Logger
}

// New creates a Qwen adapter.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = provider.QwenBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.FastModel == "" {
		cfg.FastModel = DefaultFastModel
	}
	temperature := defaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		baseURL:       cfg.BaseURL,
		model:         cfg.Model,
		fastModel:     cfg.FastModel,
		preferFast:    cfg.PreferFast,
		allowThinking: cfg.AllowThinking,
		temperature:   temperature,
		client:        cfg.Client,
		logger:        cfg.Logger,
	}
}

// Kind returns the provider role this adapter serves.
func (a *Adapter) Kind() provider.Kind { return provider.Technical }

// Execute sends a single-shot chat completion and returns the decoded body.
func (a *Adapter) Execute(ctx context.Context, req provider.Request, apiKey string) (*provider.Result, error) {
	payload, reasoning := a.buildPayload(req)

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
	return &provider.Result{Raw: raw, Model: payload.Model, ReasoningMode: reasoning}, nil
}

// ExecuteStream is not offered by this adapter.
func (a *Adapter) ExecuteStream(ctx context.Context, req provider.Request, apiKey string, onReasoning, onContent func(string)) (*provider.Result, error) {
	return nil, provider.ErrStreamUnsupported
}

// buildPayload assembles the wire payload. Thinking mode requires both the
// request flag and the env gate; when gated off the enable_thinking field is
// omitted entirely because DashScope rejects it on non-thinking models.
func (a *Adapter) buildPayload(req provider.Request) (provider.ChatPayload, bool) {
	thinking := req.ThinkingMode && a.allowThinking

	p := provider.ChatPayload{
		Model:       a.model,
		Temperature: provider.Float(a.temperature),
		MaxTokens:   4096,
	}
	if thinking {
		p.EnableThinking = provider.Bool(true)
		p.MaxTokens = 8192
	} else if a.preferFast {
		p.Model = a.fastModel
	}

	p.Messages = []provider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: req.Prompt},
	}
	return p, thinking
}
