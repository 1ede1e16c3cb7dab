package dispatch

import "github.com/troika-ai/troika/internal/provider"

// extractUsage folds a response's usage block into TokenUsage. The reasoner
// carries extra detail: reasoning token counts and the prompt-cache split,
// from which the savings percentage is derived. When the provider reports
// no cost the pricing table supplies one.
func extractUsage(kind provider.Kind, model string, raw map[string]any) *provider.TokenUsage {
	u, ok := raw["usage"].(map[string]any)
	if !ok {
		return nil
	}

	usage := &provider.TokenUsage{
		PromptTokens:     intField(u, "prompt_tokens"),
		CompletionTokens: intField(u, "completion_tokens"),
		TotalTokens:      intField(u, "total_tokens"),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	if kind == provider.Reasoner {
		if det, ok := u["completion_tokens_details"].(map[string]any); ok {
			usage.ReasoningTokens = intField(det, "reasoning_tokens")
		}
		if det, ok := u["prompt_tokens_details"].(map[string]any); ok {
			usage.CacheHitTokens = intField(det, "cached_tokens")
			usage.CacheMissTokens = usage.PromptTokens - usage.CacheHitTokens
		} else {
			// Older responses report the split as two flat fields.
			usage.CacheHitTokens = intField(u, "prompt_cache_hit_tokens")
			usage.CacheMissTokens = intField(u, "prompt_cache_miss_tokens")
		}
		if usage.PromptTokens > 0 && usage.CacheHitTokens > 0 {
			usage.CacheSavingsPct = float64(usage.CacheHitTokens) / float64(usage.PromptTokens) * 100
		}
	}

	if v, ok := u["cost_usd"].(float64); ok {
		usage.CostUSD = &v
	} else {
		usage.CostUSD = provider.FallbackCost(model, usage.PromptTokens, usage.CompletionTokens)
	}
	return usage
}

// intField reads a numeric JSON field as an int; decoded JSON numbers
// arrive as float64.
func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
