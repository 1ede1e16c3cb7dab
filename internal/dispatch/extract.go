package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/troika-ai/troika/internal/provider"
)

// extractContent pulls the assistant text out of a decoded response body,
// trying each known location in order; the first non-empty string wins.
// The final fallback scans the well-known top-level keys for any string or
// a list headed by one. Returns false when nothing usable was found.
func extractContent(raw map[string]any) (string, bool) {
	if m, ok := choiceMessage(raw); ok {
		if s, ok := nonEmpty(m["content"]); ok {
			return s, true
		}
	}
	if m, ok := raw["message"].(map[string]any); ok {
		if s, ok := nonEmpty(m["content"]); ok {
			return s, true
		}
	}
	for _, key := range []string{"content", "text", "response"} {
		if s, ok := nonEmpty(raw[key]); ok {
			return s, true
		}
	}
	if c, ok := firstChoice(raw); ok {
		if s, ok := nonEmpty(c["text"]); ok {
			return s, true
		}
	}
	if o, ok := raw["output"].(map[string]any); ok {
		if s, ok := nonEmpty(o["text"]); ok {
			return s, true
		}
	}
	for _, key := range []string{"choices", "message", "content", "text", "response", "output"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if s, ok := nonEmpty(v); ok {
			return s, true
		}
		if list, ok := v.([]any); ok && len(list) > 0 {
			if s, ok := nonEmpty(list[0]); ok {
				return s, true
			}
		}
	}
	return "", false
}

// extractReasoning returns the reasoner's chain-of-thought field, if any.
func extractReasoning(raw map[string]any) string {
	if m, ok := choiceMessage(raw); ok {
		if s, ok := m["reasoning_content"].(string); ok {
			return s
		}
	}
	return ""
}

// extractToolCalls decodes the tool invocations reported on the first choice.
func extractToolCalls(raw map[string]any) []provider.ToolCall {
	m, ok := choiceMessage(raw)
	if !ok {
		return nil
	}
	list, ok := m["tool_calls"].([]any)
	if !ok {
		return nil
	}
	var calls []provider.ToolCall
	for _, item := range list {
		tc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var call provider.ToolCall
		call.ID, _ = tc["id"].(string)
		call.Type, _ = tc["type"].(string)
		if fn, ok := tc["function"].(map[string]any); ok {
			call.Function.Name, _ = fn["name"].(string)
			call.Function.Arguments, _ = fn["arguments"].(string)
		}
		calls = append(calls, call)
	}
	return calls
}

// extractCitations keeps only well-formed web URLs from the citations list.
func extractCitations(raw map[string]any) []string {
	list, ok := raw["citations"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			out = append(out, s)
		}
	}
	return out
}

// rawDump serializes an unextractable body so the caller can inspect what
// the provider actually said.
func rawDump(raw map[string]any) string {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprintf("%v", raw)
	}
	return string(b)
}

func firstChoice(raw map[string]any) (map[string]any, bool) {
	choices, ok := raw["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, false
	}
	c, ok := choices[0].(map[string]any)
	return c, ok
}

func choiceMessage(raw map[string]any) (map[string]any, bool) {
	c, ok := firstChoice(raw)
	if !ok {
		return nil, false
	}
	m, ok := c["message"].(map[string]any)
	return m, ok
}

func nonEmpty(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
