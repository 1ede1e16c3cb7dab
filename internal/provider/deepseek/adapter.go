// Package deepseek implements the reasoner provider adapter: DeepSeek chat
// completions with a cost-guarded reasoner model, built-in file tools, and
// the only SSE streaming path in the service.
package deepseek

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/troika-ai/troika/internal/provider"
)

const (
	// ChatModel is the default model for everyday requests.
	ChatModel = "deepseek-chat"
	// ReasonerModel is the extended-thinking model, gated by config because
	// it costs roughly eight times as much per output token.
	ReasonerModel = "deepseek-reasoner"
)

const systemPrompt = "You are a quantitative trading analyst. Reason carefully " +
	"about strategy performance, risk, and market structure, and answer with " +
	"specific, verifiable statements."

// Config holds the adapter's environment-derived settings.
type Config struct {
	BaseURL       string // default: the production endpoint
	AllowReasoner bool   // DEEPSEEK_ALLOW_REASONER
	Client        *http.Client
	Logger        *slog.Logger
}

// Adapter builds and executes DeepSeek chat completions.
type Adapter struct {
	baseURL       string
	allowReasoner bool
	client        *http.Client
	logger        *slog.Logger
}

// New creates a DeepSeek adapter.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = provider.DeepSeekBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		baseURL:       cfg.BaseURL,
		allowReasoner: cfg.AllowReasoner,
		client:        cfg.Client,
		logger:        cfg.Logger,
	}
}

// Kind returns the provider role this adapter serves.
func (a *Adapter) Kind() provider.Kind { return provider.Reasoner }

// Execute sends a single-shot chat completion and returns the decoded body.
func (a *Adapter) Execute(ctx context.Context, req provider.Request, apiKey string) (*provider.Result, error) {
	payload, reasoning := a.buildPayload(req, false)

	ctx, cancel := context.WithTimeout(ctx, provider.ChatTimeout)
	defer cancel()

	body, err := provider.DoRequest(ctx, a.client, a.baseURL+provider.ChatCompletionsPath, apiKey, payload)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		// A 200 with an undecodable body still succeeded at the HTTP level;
		// let content extraction surface the parse failure.
		raw = map[string]any{"raw": string(body)}
	}
	return &provider.Result{Raw: raw, Model: payload.Model, ReasoningMode: reasoning}, nil
}

// ExecuteStream sends a streaming chat completion, invoking the callbacks
// per delta, and returns the concatenated content and reasoning text.
func (a *Adapter) ExecuteStream(ctx context.Context, req provider.Request, apiKey string, onReasoning, onContent func(string)) (*provider.Result, error) {
	payload, reasoning := a.buildPayload(req, true)

	ctx, cancel := context.WithTimeout(ctx, provider.StreamTimeout)
	defer cancel()

	body, err := provider.DoStreamRequest(ctx, a.client, a.baseURL+provider.ChatCompletionsPath, apiKey, payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	content, reasoningText, err := provider.ConsumeSSE(ctx, body, onReasoning, onContent)
	if err != nil {
		return nil, err
	}
	return &provider.Result{
		Model:            payload.Model,
		ReasoningMode:    reasoning,
		Content:          content,
		ReasoningContent: reasoningText,
	}, nil
}

// buildPayload assembles the wire payload. Thinking mode only engages the
// reasoner model when the cost guard allows it; a gated-off request
// downgrades to the chat model with a warning rather than a rejection.
func (a *Adapter) buildPayload(req provider.Request, stream bool) (provider.ChatPayload, bool) {
	p := provider.ChatPayload{Stream: stream}
	reasoning := false

	if req.ThinkingMode && a.allowReasoner {
		p.Model = ReasonerModel
		p.TopP = provider.Float(0.95)
		p.MaxTokens = 16000
		reasoning = true
	} else {
		if req.ThinkingMode {
			a.logger.Warn("reasoner model gated off, downgrading to chat",
				slog.String("task_type", req.TaskType))
		}
		p.Model = ChatModel
		p.Temperature = provider.Float(0.7)
		p.MaxTokens = 4000
	}

	role := "system"
	if isResearchTask(req.TaskType) {
		role = "developer"
	}
	p.Messages = []provider.Message{
		{Role: role, Content: systemPrompt},
		{Role: "user", Content: req.Prompt},
	}

	if useFileAccess(req.Context) {
		p.Tools = fileTools(req.StrictMode)
	}
	return p, reasoning
}

func isResearchTask(taskType string) bool {
	t := strings.ToLower(taskType)
	return strings.Contains(t, "research") || strings.Contains(t, "search") || strings.Contains(t, "web")
}

func useFileAccess(ctx map[string]any) bool {
	b, ok := ctx["use_file_access"].(bool)
	return ok && b
}

// fileTools are the three built-in tools offered when the caller requests
// file access.
func fileTools(strict bool) []provider.Tool {
	pathParam := func(desc string) map[string]any {
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": desc},
			},
			"required": []string{"path"},
		}
	}
	return []provider.Tool{
		{Type: "function", Function: provider.ToolFunction{
			Name:        "read_file",
			Description: "Read the contents of a file from the workspace",
			Parameters:  pathParam("Workspace-relative file path"),
			Strict:      strict,
		}},
		{Type: "function", Function: provider.ToolFunction{
			Name:        "list_directory",
			Description: "List the entries of a workspace directory",
			Parameters:  pathParam("Workspace-relative directory path"),
			Strict:      strict,
		}},
		{Type: "function", Function: provider.ToolFunction{
			Name:        "analyze_code_quality",
			Description: "Report structural and quality findings for a source file",
			Parameters:  pathParam("Workspace-relative source file path"),
			Strict:      strict,
		}},
	}
}
