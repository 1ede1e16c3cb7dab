package prompt

import (
	"encoding/json"
	"regexp"

	"github.com/troika-ai/troika/internal/provider"
)

// metricsBlockRe finds an inline JSON object carrying metric data, detected
// by the presence of a well-known metric name.
var metricsBlockRe = regexp.MustCompile(`\{[^{}]*(?:sharpe_ratio|net_profit|win_rate|total_trades)[^{}]*\}`)

// OptimizePrompt attaches a filtered, quantized, compactly serialized view
// of the metrics to the prompt. When the prompt already embeds a metrics
// JSON block, the first such block is replaced in place; otherwise the
// metrics are appended under a trailing heading. With no metrics the prompt
// passes through untouched.
func OptimizePrompt(kind provider.Kind, promptText string, m map[string]any) string {
	if len(m) == 0 {
		return promptText
	}

	filtered := FilterMetrics(kind, m)
	if len(filtered) == 0 {
		return promptText
	}
	quantized := Quantize(filtered)

	blob, err := json.Marshal(quantized)
	if err != nil {
		return promptText
	}

	if loc := metricsBlockRe.FindStringIndex(promptText); loc != nil {
		return promptText[:loc[0]] + string(blob) + promptText[loc[1]:]
	}
	return promptText + "\n\nMetrics: " + string(blob)
}
