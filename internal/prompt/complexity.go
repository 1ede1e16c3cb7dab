package prompt

import "strings"

// Complexity buckets a task description for model and thinking-mode choices.
type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

var complexKeywords = []string{
	"optimize", "compare", "multi-timeframe", "pattern", "regime",
	"correlation", "portfolio", "monte_carlo", "walk_forward",
	"hedge", "rebalance", "attribution",
}

var simpleKeywords = []string{
	"calculate", "get", "fetch", "lookup",
	"rsi", "macd", "ema", "sma", "price", "volume",
}

var comparisonPhrases = []string{
	" vs ", " vs.", "versus", "compared to", "better than", "worse than",
}

// ClassifyComplexity scores a task description by keyword hits. The rules
// apply in order; the first match wins.
func ClassifyComplexity(task string) Complexity {
	lower := strings.ToLower(task)

	complexHits := countKeywords(lower, complexKeywords)
	simpleHits := countKeywords(lower, simpleKeywords)

	comparison := false
	for _, p := range comparisonPhrases {
		if strings.Contains(lower, p) {
			comparison = true
			break
		}
	}

	switch {
	case complexHits >= 2 || comparison || strings.Count(task, "?") > 1:
		return Complex
	case complexHits == 1 && simpleHits == 0:
		return Moderate
	case simpleHits >= 1 || len(task) < 100:
		return Simple
	case len(task) > 500:
		return Complex
	default:
		return Moderate
	}
}

// countKeywords counts how many distinct keywords appear in s.
func countKeywords(s string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			n++
		}
	}
	return n
}

// ShouldEnableThinking decides whether a technical-provider request earns
// extended thinking. Always false when the environment guard is off;
// otherwise reserved for genuinely complex or long tasks.
func ShouldEnableThinking(task string, envAllows bool) bool {
	if !envAllows {
		return false
	}
	c := ClassifyComplexity(task)
	if c == Simple {
		return false
	}
	return c == Complex || len(task) > 300
}
