package provider

import "time"

// Production endpoint defaults. Base URLs are overridable per adapter for
// tests; everything else is fixed by the provider contract.
const (
	DeepSeekBaseURL   = "https://api.deepseek.com"
	QwenBaseURL       = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	PerplexityBaseURL = "https://api.perplexity.ai"

	ChatCompletionsPath = "/chat/completions"

	ChatTimeout      = 45 * time.Second
	StreamTimeout    = 300 * time.Second
	EnrichTimeout    = 30 * time.Second
	PreflightTimeout = 10 * time.Second
)

// BaseURL returns the production endpoint for a provider kind.
func BaseURL(k Kind) string {
	switch k {
	case Reasoner:
		return DeepSeekBaseURL
	case Technical:
		return QwenBaseURL
	case Research:
		return PerplexityBaseURL
	default:
		return ""
	}
}

// SupportsStreaming reports whether a provider exposes a usable SSE
// streaming path. Only the reasoner does today; the others reject stream
// requests before a credential is spent on them.
func SupportsStreaming(k Kind) bool { return k == Reasoner }

// ProbeModel returns the cheapest model for a provider, used by preflight
// validation where only the auth outcome matters.
func ProbeModel(k Kind) string {
	switch k {
	case Reasoner:
		return "deepseek-chat"
	case Technical:
		return "qwen-turbo"
	case Research:
		return "sonar"
	default:
		return ""
	}
}

// Pricing is USD per million tokens, input and output.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// pricing is the fallback table used when a provider response carries no
// cost of its own. DeepSeek rates are the published chat/reasoner prices;
// the others are the current list prices for their model families.
var pricing = map[string]Pricing{
	"deepseek-chat":       {InputPerMTok: 0.14, OutputPerMTok: 0.28},
	"deepseek-reasoner":   {InputPerMTok: 0.55, OutputPerMTok: 2.19},
	"qwen-plus":           {InputPerMTok: 0.40, OutputPerMTok: 1.20},
	"qwen-turbo":          {InputPerMTok: 0.05, OutputPerMTok: 0.20},
	"sonar":               {InputPerMTok: 1.00, OutputPerMTok: 1.00},
	"sonar-pro":           {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"sonar-reasoning-pro": {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"sonar-deep-research": {InputPerMTok: 2.00, OutputPerMTok: 8.00},
}

// FallbackCost prices a call from the table. Returns nil when the model is
// unknown so the caller can distinguish "free" from "unpriced".
func FallbackCost(model string, promptTokens, completionTokens int) *float64 {
	p, ok := pricing[model]
	if !ok {
		return nil
	}
	cost := float64(promptTokens)/1e6*p.InputPerMTok + float64(completionTokens)/1e6*p.OutputPerMTok
	return &cost
}
