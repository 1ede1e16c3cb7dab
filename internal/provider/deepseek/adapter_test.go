package deepseek

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/troika-ai/troika/internal/provider"
)

const chatBody = `{"choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedRequest struct {
	path    string
	auth    string
	payload map[string]any
}

func newAdapterServer(t *testing.T, responseBody string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		if err := json.Unmarshal(body, &rec.payload); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(responseBody))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestThinkingModeUsesReasoner(t *testing.T) {
	srv, rec := newAdapterServer(t, chatBody)
	a := New(Config{BaseURL: srv.URL, AllowReasoner: true, Logger: quietLogger()})

	res, err := a.Execute(context.Background(), provider.Request{
		TaskType:     "analyze",
		Prompt:       "assess the drawdown profile",
		ThinkingMode: true,
	}, "sk-test")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if rec.payload["model"] != ReasonerModel {
		t.Errorf("model = %v, want %s", rec.payload["model"], ReasonerModel)
	}
	if rec.payload["top_p"] != 0.95 {
		t.Errorf("top_p = %v, want 0.95", rec.payload["top_p"])
	}
	if rec.payload["max_tokens"] != float64(16000) {
		t.Errorf("max_tokens = %v, want 16000", rec.payload["max_tokens"])
	}
	if _, ok := rec.payload["temperature"]; ok {
		t.Error("reasoner payload should not carry temperature")
	}
	if !res.ReasoningMode {
		t.Error("Result.ReasoningMode should be true")
	}
	if res.Model != ReasonerModel {
		t.Errorf("Result.Model = %s, want %s", res.Model, ReasonerModel)
	}
}

func TestGatedThinkingDowngradesToChat(t *testing.T) {
	srv, rec := newAdapterServer(t, chatBody)
	a := New(Config{BaseURL: srv.URL, AllowReasoner: false, Logger: quietLogger()})

	res, err := a.Execute(context.Background(), provider.Request{
		TaskType:     "analyze",
		Prompt:       "assess the drawdown profile",
		ThinkingMode: true,
	}, "sk-test")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if rec.payload["model"] != ChatModel {
		t.Errorf("model = %v, want %s", rec.payload["model"], ChatModel)
	}
	if rec.payload["temperature"] != 0.7 {
		t.Errorf("temperature = %v, want 0.7", rec.payload["temperature"])
	}
	if rec.payload["max_tokens"] != float64(4000) {
		t.Errorf("max_tokens = %v, want 4000", rec.payload["max_tokens"])
	}
	if _, ok := rec.payload["top_p"]; ok {
		t.Error("chat payload should not carry top_p")
	}
	if _, ok := rec.payload["enable_thinking"]; ok {
		t.Error("payload should never carry enable_thinking")
	}
	if res.ReasoningMode {
		t.Error("downgraded request must not report reasoning mode")
	}
}

func TestSystemRoleByTaskType(t *testing.T) {
	tests := []struct {
		taskType string
		wantRole string
	}{
		{"web_search", "developer"},
		{"research", "developer"},
		{"deep_research", "developer"},
		{"generate", "system"},
		{"analyze", "system"},
	}
	for _, tt := range tests {
		t.Run(tt.taskType, func(t *testing.T) {
			srv, rec := newAdapterServer(t, chatBody)
			a := New(Config{BaseURL: srv.URL, Logger: quietLogger()})

			_, err := a.Execute(context.Background(), provider.Request{
				TaskType: tt.taskType,
				Prompt:   "what moved the market today",
			}, "sk-test")
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}

			messages, ok := rec.payload["messages"].([]any)
			if !ok || len(messages) != 2 {
				t.Fatalf("messages = %v, want 2 entries", rec.payload["messages"])
			}
			first := messages[0].(map[string]any)
			if first["role"] != tt.wantRole {
				t.Errorf("first message role = %v, want %s", first["role"], tt.wantRole)
			}
			second := messages[1].(map[string]any)
			if second["role"] != "user" || second["content"] != "what moved the market today" {
				t.Errorf("user message = %v", second)
			}
		})
	}
}

func TestFileToolsAttachment(t *testing.T) {
	t.Run("with file access", func(t *testing.T) {
		srv, rec := newAdapterServer(t, chatBody)
		a := New(Config{BaseURL: srv.URL, Logger: quietLogger()})

		_, err := a.Execute(context.Background(), provider.Request{
			TaskType: "review",
			Prompt:   "review the strategy module",
			Context:  map[string]any{"use_file_access": true},
		}, "sk-test")
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}

		tools, ok := rec.payload["tools"].([]any)
		if !ok {
			t.Fatal("payload should carry tools")
		}
		if len(tools) != 3 {
			t.Fatalf("len(tools) = %d, want 3", len(tools))
		}
		wantNames := []string{"read_file", "list_directory", "analyze_code_quality"}
		for i, raw := range tools {
			tool := raw.(map[string]any)
			fn := tool["function"].(map[string]any)
			if fn["name"] != wantNames[i] {
				t.Errorf("tools[%d].function.name = %v, want %s", i, fn["name"], wantNames[i])
			}
			if _, strict := fn["strict"]; strict {
				t.Errorf("tools[%d] should not be strict", i)
			}
		}
	})

	t.Run("strict mode", func(t *testing.T) {
		srv, rec := newAdapterServer(t, chatBody)
		a := New(Config{BaseURL: srv.URL, Logger: quietLogger()})

		_, err := a.Execute(context.Background(), provider.Request{
			TaskType:   "review",
			Prompt:     "review the strategy module",
			Context:    map[string]any{"use_file_access": true},
			StrictMode: true,
		}, "sk-test")
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}

		for i, raw := range rec.payload["tools"].([]any) {
			fn := raw.(map[string]any)["function"].(map[string]any)
			if fn["strict"] != true {
				t.Errorf("tools[%d].function.strict = %v, want true", i, fn["strict"])
			}
		}
	})

	t.Run("without file access", func(t *testing.T) {
		srv, rec := newAdapterServer(t, chatBody)
		a := New(Config{BaseURL: srv.URL, Logger: quietLogger()})

		_, err := a.Execute(context.Background(), provider.Request{
			TaskType: "review",
			Prompt:   "review the strategy module",
			Context:  map[string]any{"use_file_access": false},
		}, "sk-test")
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if _, ok := rec.payload["tools"]; ok {
			t.Error("payload should not carry tools")
		}
	})
}

func TestExecuteSendsBearerAndPath(t *testing.T) {
	srv, rec := newAdapterServer(t, chatBody)
	a := New(Config{BaseURL: srv.URL, Logger: quietLogger()})

	res, err := a.Execute(context.Background(), provider.Request{
		TaskType: "generate",
		Prompt:   "hello",
	}, "sk-test")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.path != "/chat/completions" {
		t.Errorf("path = %s, want /chat/completions", rec.path)
	}
	if rec.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want Bearer sk-test", rec.auth)
	}
	if _, ok := res.Raw["choices"]; !ok {
		t.Error("Result.Raw should hold the decoded body")
	}
}

func TestExecuteKeepsUndecodableBody(t *testing.T) {
	srv, _ := newAdapterServer(t, "not json at all")
	a := New(Config{BaseURL: srv.URL, Logger: quietLogger()})

	res, err := a.Execute(context.Background(), provider.Request{
		TaskType: "generate",
		Prompt:   "hello",
	}, "sk-test")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Raw["raw"] != "not json at all" {
		t.Errorf("Raw = %v, want the verbatim body under \"raw\"", res.Raw)
	}
}

func TestExecuteStreamConcatenatesDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		if stream, _ := payload["stream"].(bool); !stream {
			t.Error("stream payload should set stream=true")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"thinking \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"hard\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"answer\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, AllowReasoner: true, Logger: quietLogger()})

	var reasoningCalls, contentCalls int
	res, err := a.ExecuteStream(context.Background(), provider.Request{
		TaskType:     "analyze",
		Prompt:       "assess",
		ThinkingMode: true,
	}, "sk-test",
		func(string) { reasoningCalls++ },
		func(string) { contentCalls++ },
	)
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}
	if res.ReasoningContent != "thinking hard" {
		t.Errorf("ReasoningContent = %q, want %q", res.ReasoningContent, "thinking hard")
	}
	if res.Content != "answer" {
		t.Errorf("Content = %q, want %q", res.Content, "answer")
	}
	if reasoningCalls != 2 || contentCalls != 1 {
		t.Errorf("callbacks = %d reasoning / %d content, want 2/1", reasoningCalls, contentCalls)
	}
	if res.Model != ReasonerModel {
		t.Errorf("Model = %s, want %s", res.Model, ReasonerModel)
	}
}

func TestExecuteStreamPropagatesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, Logger: quietLogger()})

	_, err := a.ExecuteStream(context.Background(), provider.Request{
		TaskType: "generate",
		Prompt:   "hello",
	}, "sk-test", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var se *provider.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("err = %v, want StatusError 503", err)
	}
}
