package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRedactingHandlerRedactsAuthHeaders(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test",
		slog.String("authorization", "Bearer sk-deepseek-secret"),
		slog.String("x-api-key", "my-key"),
		slog.String("method", "POST"),
	)

	output := buf.String()
	if strings.Contains(output, "sk-deepseek-secret") {
		t.Error("authorization header value should be redacted")
	}
	if strings.Contains(output, "my-key") {
		t.Error("x-api-key value should be redacted")
	}
	if !strings.Contains(output, "[REDACTED]") {
		t.Error("expected [REDACTED] placeholder")
	}
	if !strings.Contains(output, "POST") {
		t.Error("non-sensitive values should be preserved")
	}
}

func TestRedactingHandlerRedactsPromptAndBody(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test",
		slog.String("prompt", "analyze BTCUSDT with this proprietary strategy"),
		slog.String("body", `{"messages":[{"role":"user","content":"secret stuff"}]}`),
	)

	output := buf.String()
	if strings.Contains(output, "proprietary strategy") {
		t.Error("prompt should be redacted")
	}
	if strings.Contains(output, "secret stuff") {
		t.Error("request body should be redacted")
	}
}

func TestRedactingHandlerRedactsCredentialMaterial(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test",
		slog.String("api_key", "sk-12345"),
		slog.String("password", "hunter2"),
		slog.String("access_token", "at-abc123"),
		slog.String("client_secret", "cs-secret-value"),
		slog.String("vault_passphrase", "open sesame"),
	)

	output := buf.String()
	for _, leak := range []string{"sk-12345", "hunter2", "at-abc123", "cs-secret-value", "open sesame"} {
		if strings.Contains(output, leak) {
			t.Errorf("value %q should be redacted", leak)
		}
	}
}

func TestRedactingHandlerPreservesUsageCounts(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test",
		slog.Int("prompt_tokens", 1200),
		slog.Int("total_tokens", 1850),
		slog.String("secret_name", "QWEN_API_KEY_2"),
		slog.String("provider", "qwen"),
	)

	output := buf.String()
	if !strings.Contains(output, "1200") || !strings.Contains(output, "1850") {
		t.Error("token usage counts should be preserved")
	}
	if !strings.Contains(output, "QWEN_API_KEY_2") {
		t.Error("secret_name identifies the credential and should be preserved")
	}
	if !strings.Contains(output, "qwen") {
		t.Error("provider should be preserved")
	}
}

func TestRedactingHandlerPreservesNonSensitive(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test",
		slog.String("path", "/v1/requests"),
		slog.Int("status", 200),
	)

	output := buf.String()
	if !strings.Contains(output, "/v1/requests") {
		t.Error("path should be preserved")
	}
	if !strings.Contains(output, "200") {
		t.Error("status should be preserved")
	}
}

func TestRedactingHandlerEnabled(t *testing.T) {
	base := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := &RedactingHandler{base: base}

	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should not be enabled when level is warn")
	}
	if !handler.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled")
	}
}

func TestSetupReturnsLogger(t *testing.T) {
	logger := Setup("info")
	if logger == nil {
		t.Error("expected non-nil logger")
	}
}

func TestRedactingHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}

	childHandler := handler.WithAttrs([]slog.Attr{
		slog.String("authorization", "Bearer leaked-token"),
		slog.String("component", "dispatcher"),
	})
	logger := slog.New(childHandler)
	logger.Info("request")

	output := buf.String()
	if strings.Contains(output, "leaked-token") {
		t.Error("authorization in WithAttrs should be redacted")
	}
	if !strings.Contains(output, "dispatcher") {
		t.Error("non-sensitive WithAttrs value should be preserved")
	}
}

func TestRedactingHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}

	groupHandler := handler.WithGroup("request")
	logger := slog.New(groupHandler)
	logger.Info("test", slog.String("path", "/v1/deliberations"))

	output := buf.String()
	if !strings.Contains(output, "request") {
		t.Error("group name should appear in output")
	}
	if !strings.Contains(output, "/v1/deliberations") {
		t.Error("attribute within group should be preserved")
	}
}

func TestSetLevel_AllLevels(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
	}

	for _, tc := range tests {
		t.Run("level_"+tc.input, func(t *testing.T) {
			SetLevel(tc.input)
			if globalLevel.Level() != tc.expected {
				t.Errorf("SetLevel(%q): got %v, want %v", tc.input, globalLevel.Level(), tc.expected)
			}
		})
	}
}

func TestSetLevel_DynamicChange(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: globalLevel})
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	SetLevel("error")
	logger.Debug("should-not-appear")
	if strings.Contains(buf.String(), "should-not-appear") {
		t.Error("debug message should not appear at error level")
	}

	buf.Reset()
	SetLevel("debug")
	logger.Debug("should-appear")
	if !strings.Contains(buf.String(), "should-appear") {
		t.Error("debug message should appear at debug level")
	}
}

func TestRequestLogger_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mw := RequestLogger(logger)
	server := httptest.NewServer(mw(inner))
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/snapshot")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}

	if msg, ok := logEntry["msg"].(string); !ok || msg != "http_request" {
		t.Errorf("expected msg 'http_request', got %v", logEntry["msg"])
	}
	if method, ok := logEntry["method"].(string); !ok || method != "GET" {
		t.Errorf("expected method 'GET', got %v", logEntry["method"])
	}
	if path, ok := logEntry["path"].(string); !ok || path != "/v1/snapshot" {
		t.Errorf("expected path '/v1/snapshot', got %v", logEntry["path"])
	}
	if status, ok := logEntry["status"].(float64); !ok || int(status) != 200 {
		t.Errorf("expected status 200, got %v", logEntry["status"])
	}
	if _, ok := logEntry["duration"]; !ok {
		t.Error("expected duration field in log output")
	}
}

func TestRequestLogger_IncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw := RequestLogger(logger)
	server := httptest.NewServer(mw(inner))
	defer server.Close()

	req, _ := http.NewRequest("GET", server.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-test-12345")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log output: %v\nOutput: %s", err, buf.String())
	}

	if reqID, ok := logEntry["request_id"].(string); !ok || reqID != "req-test-12345" {
		t.Errorf("expected request_id 'req-test-12345', got %v", logEntry["request_id"])
	}
}
