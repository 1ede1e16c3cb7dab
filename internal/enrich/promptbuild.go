package enrich

import (
	"fmt"
	"strings"

	"github.com/troika-ai/troika/internal/signal"
)

func consultationPrompt(symbol, strategyType string) string {
	return fmt.Sprintf(`Provide current market context for %s relevant to a %s strategy.

Respond with only a JSON object, no prose, with these fields:
- "regime": one of "trending", "ranging", "volatile"
- "trend_direction": "bullish", "bearish", or "neutral"
- "key_news": up to 3 short strings of market-moving news
- "sentiment": {"direction": "bullish"|"bearish"|"neutral", "score": 0.0-1.0}
- "risk_factors": up to 3 short strings
- "macro_events": up to 3 upcoming scheduled events
- "volatility_assessment": one short sentence
- "confidence": 0.0-1.0`, symbol, strategyType)
}

// BuildEnrichedPrompt appends the market-context block and peer signals to a
// base prompt, each under its own header. Nil or empty inputs leave the base
// untouched.
func BuildEnrichedPrompt(base string, market map[string]any, peers []signal.AgentSignal) string {
	var b strings.Builder
	b.WriteString(base)

	if block := formatMarketContext(market); block != "" {
		b.WriteString("\n\nMarket Context:\n")
		b.WriteString(block)
	}

	if len(peers) > 0 {
		b.WriteString("\n\nPeer Signals:\n")
		for _, s := range peers {
			fmt.Fprintf(&b, "[%s] %s (conf=%.0f%%): %s\n",
				s.Agent, strings.ToUpper(string(s.Direction)), s.Confidence*100, s.Reasoning)
		}
	}

	return b.String()
}

// formatMarketContext renders the parsed consultation in a fixed field
// order, skipping anything absent.
func formatMarketContext(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	var b strings.Builder

	if v, ok := m["regime"].(string); ok && v != "" {
		line := "- Regime: " + v
		if c, ok := m["confidence"].(float64); ok {
			line += fmt.Sprintf(" (confidence %.0f%%)", c*100)
		}
		b.WriteString(line + "\n")
	}
	if v, ok := m["trend_direction"].(string); ok && v != "" {
		b.WriteString("- Trend: " + v + "\n")
	}
	if s, ok := m["sentiment"].(map[string]any); ok {
		dir, _ := s["direction"].(string)
		if dir != "" {
			line := "- Sentiment: " + dir
			if score, ok := s["score"].(float64); ok {
				line += fmt.Sprintf(" (score %.2f)", score)
			}
			b.WriteString(line + "\n")
		}
	}
	if v, ok := m["volatility_assessment"].(string); ok && v != "" {
		b.WriteString("- Volatility: " + v + "\n")
	}
	writeList(&b, "Key news", m["key_news"])
	writeList(&b, "Risk factors", m["risk_factors"])
	writeList(&b, "Macro events", m["macro_events"])

	return strings.TrimRight(b.String(), "\n")
}

func writeList(b *strings.Builder, label string, v any) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return
	}
	b.WriteString("- " + label + ":\n")
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			b.WriteString("  - " + s + "\n")
		}
	}
}
