package enrich

import "testing"

func TestParseMarketContextPlain(t *testing.T) {
	m, err := ParseMarketContext(contextJSON)
	if err != nil {
		t.Fatalf("ParseMarketContext: %v", err)
	}
	if m["regime"] != "trending" || m["trend_direction"] != "bullish" {
		t.Errorf("unexpected fields: %v", m)
	}
	if conf := m["confidence"].(float64); conf != 0.8 {
		t.Errorf("confidence = %v", conf)
	}
}

func TestParseMarketContextFenced(t *testing.T) {
	for _, in := range []string{
		"```json\n{\"regime\": \"ranging\"}\n```",
		"```\n{\"regime\": \"ranging\"}\n```",
	} {
		m, err := ParseMarketContext(in)
		if err != nil {
			t.Fatalf("ParseMarketContext(%q): %v", in, err)
		}
		if m["regime"] != "ranging" {
			t.Errorf("regime = %v", m["regime"])
		}
	}
}

func TestParseMarketContextSurroundingProse(t *testing.T) {
	in := "Here is the context you asked for: {\"regime\": \"Volatile\"} hope that helps."
	m, err := ParseMarketContext(in)
	if err != nil {
		t.Fatalf("ParseMarketContext: %v", err)
	}
	if m["regime"] != "volatile" {
		t.Errorf("regime not normalized: %v", m["regime"])
	}
}

func TestParseMarketContextClampsLists(t *testing.T) {
	in := `{"key_news": ["a", "b", "c", "d", "e"], "risk_factors": ["x"]}`
	m, err := ParseMarketContext(in)
	if err != nil {
		t.Fatalf("ParseMarketContext: %v", err)
	}
	if got := len(m["key_news"].([]any)); got != 3 {
		t.Errorf("key_news len = %d, want 3", got)
	}
	if got := len(m["risk_factors"].([]any)); got != 1 {
		t.Errorf("risk_factors len = %d, want 1", got)
	}
}

func TestParseMarketContextErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"no structured data here",
		`{"regime": unquoted}`,
	} {
		if _, err := ParseMarketContext(in); err == nil {
			t.Errorf("ParseMarketContext(%q) succeeded, want error", in)
		}
	}
}
