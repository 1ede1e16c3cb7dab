package dispatch

import (
	"reflect"
	"testing"

	"github.com/troika-ai/troika/internal/provider"
)

func TestExtractContentFallbackChain(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want string
		ok   bool
	}{
		{
			name: "openai choice message",
			raw: map[string]any{"choices": []any{
				map[string]any{"message": map[string]any{"content": "  primary  "}},
			}},
			want: "primary",
			ok:   true,
		},
		{
			name: "bare message object",
			raw:  map[string]any{"message": map[string]any{"content": "second"}},
			want: "second",
			ok:   true,
		},
		{
			name: "top-level content",
			raw:  map[string]any{"content": "third"},
			want: "third",
			ok:   true,
		},
		{
			name: "top-level text",
			raw:  map[string]any{"text": "fourth"},
			want: "fourth",
			ok:   true,
		},
		{
			name: "top-level response",
			raw:  map[string]any{"response": "fifth"},
			want: "fifth",
			ok:   true,
		},
		{
			name: "legacy completion text",
			raw:  map[string]any{"choices": []any{map[string]any{"text": "sixth"}}},
			want: "sixth",
			ok:   true,
		},
		{
			name: "output object",
			raw:  map[string]any{"output": map[string]any{"text": "seventh"}},
			want: "seventh",
			ok:   true,
		},
		{
			name: "scan finds list head",
			raw:  map[string]any{"response": []any{"from list", "ignored"}},
			want: "from list",
			ok:   true,
		},
		{
			name: "empty strings do not count",
			raw: map[string]any{"content": "   ", "choices": []any{
				map[string]any{"message": map[string]any{"content": ""}},
			}},
			ok: false,
		},
		{
			name: "nothing recognizable",
			raw:  map[string]any{"object": "chat.completion", "id": "x"},
			ok:   false,
		},
		{
			name: "nil body",
			raw:  nil,
			ok:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractContent(tc.raw)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Errorf("content = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractContentPrefersChoiceMessage(t *testing.T) {
	raw := map[string]any{
		"text": "fallback",
		"choices": []any{
			map[string]any{"message": map[string]any{"content": "primary"}},
		},
	}
	got, ok := extractContent(raw)
	if !ok || got != "primary" {
		t.Errorf("content = %q (ok=%v), want primary", got, ok)
	}
}

func TestExtractReasoning(t *testing.T) {
	raw := map[string]any{"choices": []any{
		map[string]any{"message": map[string]any{
			"content":           "answer",
			"reasoning_content": "step by step",
		}},
	}}
	if got := extractReasoning(raw); got != "step by step" {
		t.Errorf("reasoning = %q", got)
	}
	if got := extractReasoning(map[string]any{"content": "x"}); got != "" {
		t.Errorf("reasoning = %q, want empty", got)
	}
}

func TestExtractToolCalls(t *testing.T) {
	raw := map[string]any{"choices": []any{
		map[string]any{"message": map[string]any{
			"content": "checking the file",
			"tool_calls": []any{
				map[string]any{
					"id":   "call_1",
					"type": "function",
					"function": map[string]any{
						"name":      "read_file",
						"arguments": `{"path":"strategy.py"}`,
					},
				},
				map[string]any{
					"id":       "call_2",
					"type":     "function",
					"function": map[string]any{"name": "list_directory"},
				},
			},
		}},
	}}

	got := extractToolCalls(raw)
	want := []provider.ToolCall{
		{ID: "call_1", Type: "function", Function: provider.ToolCallFunction{
			Name: "read_file", Arguments: `{"path":"strategy.py"}`,
		}},
		{ID: "call_2", Type: "function", Function: provider.ToolCallFunction{Name: "list_directory"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tool calls = %+v, want %+v", got, want)
	}

	if calls := extractToolCalls(map[string]any{"content": "x"}); calls != nil {
		t.Errorf("tool calls = %+v, want nil", calls)
	}
}

func TestExtractCitationsFiltersNonURLs(t *testing.T) {
	raw := map[string]any{"citations": []any{
		"https://example.com/report",
		"http://news.example.org",
		"see appendix B",
		float64(42),
		"ftp://old.example.com",
	}}

	got := extractCitations(raw)
	want := []string{"https://example.com/report", "http://news.example.org"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("citations = %v, want %v", got, want)
	}

	if cites := extractCitations(map[string]any{}); cites != nil {
		t.Errorf("citations = %v, want nil", cites)
	}
}

func TestRawDump(t *testing.T) {
	dump := rawDump(map[string]any{"object": "chat.completion"})
	if dump != `{"object":"chat.completion"}` {
		t.Errorf("dump = %q", dump)
	}
}
