package enrich

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Fields the consultation asks for. Lists are clamped on parse so a chatty
// model cannot blow up downstream prompts.
const maxListItems = 3

// ParseMarketContext decodes the research provider's JSON payload. Models
// routinely wrap JSON in a markdown fence or lead with prose, so the parser
// peels fences and falls back to the outermost brace pair before decoding.
func ParseMarketContext(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	if !strings.HasPrefix(s, "{") {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON object in research response")
		}
		s = s[start : end+1]
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("parse market context: %w", err)
	}

	normalizeMarketContext(m)
	return m, nil
}

func normalizeMarketContext(m map[string]any) {
	if v, ok := m["regime"].(string); ok {
		m["regime"] = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := m["trend_direction"].(string); ok {
		m["trend_direction"] = strings.ToLower(strings.TrimSpace(v))
	}
	for _, key := range []string{"key_news", "risk_factors", "macro_events"} {
		if list, ok := m[key].([]any); ok && len(list) > maxListItems {
			m[key] = list[:maxListItems]
		}
	}
}
