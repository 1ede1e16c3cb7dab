package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// writeReasoningLog persists one reasoning trace as a dated markdown file
// and returns its path. The directory is created on demand; write failures
// are the caller's to report, the dispatch outcome is unaffected.
func writeReasoningLog(dir, requestID string, at time.Time, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create reasoning dir: %w", err)
	}

	short := requestID
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("reasoning_%s_%s.md", at.UTC().Format("20060102_150405"), short)
	path := filepath.Join(dir, name)

	body := fmt.Sprintf("# Reasoning Log\n\n**Timestamp:** %s\n**Request:** %s\n**Length:** %d chars\n\n## Chain-of-Thought\n\n%s\n",
		at.UTC().Format(time.RFC3339), requestID, len(content), content)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write reasoning trace: %w", err)
	}
	return path, nil
}
