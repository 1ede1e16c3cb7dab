package provider

// Wire types for the OpenAI-compatible chat completions surface all three
// providers speak. Optional knobs are pointers so a gated-off field is
// omitted from the payload entirely rather than sent as a zero value.

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatPayload struct {
	Model            string            `json:"model"`
	Messages         []Message         `json:"messages"`
	MaxTokens        int               `json:"max_tokens"`
	Temperature      *float64          `json:"temperature,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	Stream           bool              `json:"stream,omitempty"`
	Tools            []Tool            `json:"tools,omitempty"`
	EnableThinking   *bool             `json:"enable_thinking,omitempty"`
	WebSearchOptions *WebSearchOptions `json:"web_search_options,omitempty"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Strict      bool           `json:"strict,omitempty"`
}

type WebSearchOptions struct {
	SearchRecencyFilter string `json:"search_recency_filter,omitempty"`
}

func Float(v float64) *float64 { return &v }
func Bool(v bool) *bool        { return &v }
