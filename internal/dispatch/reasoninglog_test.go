package dispatch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteReasoningLog(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	path, err := writeReasoningLog(dir, "0123456789abcdef", at, "first consider the funding rates")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "reasoning_20250601_120000_01234567.md" {
		t.Errorf("filename = %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)
	for _, want := range []string{
		"# Reasoning Log",
		"**Timestamp:** 2025-06-01T12:00:00Z",
		"0123456789abcdef",
		"**Length:** 32 chars",
		"## Chain-of-Thought",
		"first consider the funding rates",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("trace missing %q in:\n%s", want, body)
		}
	}
}

func TestWriteReasoningLogCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "traces")

	if _, err := writeReasoningLog(dir, "abc", time.Now(), "content"); err != nil {
		t.Fatal(err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "reasoning_*.md"))
	if len(matches) != 1 {
		t.Errorf("trace files = %v, want one", matches)
	}
}
