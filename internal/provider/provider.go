// Package provider defines the shared layer under the three provider
// adapters: the provider kinds, the request/response domain types, the
// typed error taxonomy, the HTTP transport helpers, and the catalog of
// production endpoint defaults.
package provider

import (
	"fmt"
	"time"
)

// Kind identifies one of the three provider roles.
type Kind int

const (
	// Reasoner is the reasoning-capable chat provider (DeepSeek).
	Reasoner Kind = iota
	// Technical is the technical-analysis provider (Qwen).
	Technical
	// Research is the web-augmented research provider (Perplexity).
	Research
)

// Name returns the provider family name used for env vars, secret names,
// metrics labels, and logs.
func (k Kind) Name() string {
	switch k {
	case Reasoner:
		return "deepseek"
	case Technical:
		return "qwen"
	case Research:
		return "perplexity"
	default:
		return "unknown"
	}
}

func (k Kind) String() string { return k.Name() }

// EnvPrefix returns the uppercase prefix of this provider's env variables
// (DEEPSEEK_API_KEY, QWEN_API_KEY_2, ...).
func (k Kind) EnvPrefix() string {
	switch k {
	case Reasoner:
		return "DEEPSEEK"
	case Technical:
		return "QWEN"
	case Research:
		return "PERPLEXITY"
	default:
		return "UNKNOWN"
	}
}

// KindFromName resolves a provider family name back to its Kind.
func KindFromName(name string) (Kind, error) {
	switch name {
	case "deepseek", "reasoner":
		return Reasoner, nil
	case "qwen", "technical":
		return Technical, nil
	case "perplexity", "research":
		return Research, nil
	default:
		return 0, fmt.Errorf("unknown provider %q", name)
	}
}

// Kinds lists all providers in a stable order.
func Kinds() []Kind { return []Kind{Reasoner, Technical, Research} }

// Request is one unit of work bound for a provider. The caller owns it
// until dispatch; after that every component treats it as read-only.
type Request struct {
	Provider     Kind           `json:"provider"`
	TaskType     string         `json:"task_type"`
	Prompt       string         `json:"prompt"`
	Code         string         `json:"code,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	ThinkingMode bool           `json:"thinking_mode,omitempty"`
	StrictMode   bool           `json:"strict_mode,omitempty"`
	Stream       bool           `json:"stream,omitempty"`
}

// Response is the dispatcher's uniform result shape. Provider failures are
// data here, never panics: Success=false plus ErrorKind/Error describe what
// went wrong.
type Response struct {
	Success          bool           `json:"success"`
	Content          string         `json:"content,omitempty"`
	Channel          string         `json:"channel,omitempty"`
	CredentialIndex  *int           `json:"credential_index,omitempty"`
	LatencyMS        float64        `json:"latency_ms"`
	Error            string         `json:"error,omitempty"`
	ErrorKind        ErrorKind      `json:"error_kind,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall     `json:"tool_calls,omitempty"`
	Usage            *TokenUsage    `json:"token_usage,omitempty"`
	Citations        []string       `json:"citations,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// TokenUsage aggregates the usage block of a provider response plus the
// derived cache-savings figure. CostUSD is nil when neither the provider
// nor the fallback pricing table could price the call.
type TokenUsage struct {
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	ReasoningTokens  int      `json:"reasoning_tokens,omitempty"`
	CostUSD          *float64 `json:"cost_usd,omitempty"`
	CacheHitTokens   int      `json:"cache_hit_tokens,omitempty"`
	CacheMissTokens  int      `json:"cache_miss_tokens,omitempty"`
	CacheSavingsPct  float64  `json:"cache_savings_pct,omitempty"`
}

// ToolCall is a provider-reported function invocation.
type ToolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Result is what an adapter returns to the dispatcher: the decoded body
// plus transport-level facts the dispatcher folds into the Response.
type Result struct {
	Raw              map[string]any
	Model            string
	ReasoningMode    bool
	Content          string // populated by the streaming path only
	ReasoningContent string // populated by the streaming path only
}
