package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// sseChunk is the delta frame of an OpenAI-compatible SSE stream.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ConsumeSSE reads "data:" events from an SSE body until the [DONE]
// sentinel, EOF, or context cancellation, invoking onReasoning /
// onContent per delta. It returns the concatenated content and reasoning
// text. Malformed frames are skipped rather than failing the stream.
func ConsumeSSE(ctx context.Context, body io.Reader, onReasoning, onContent func(string)) (content, reasoning string, err error) {
	var contentBuf, reasoningBuf strings.Builder
	reader := bufio.NewReader(body)

	for {
		if ctx.Err() != nil {
			return contentBuf.String(), reasoningBuf.String(), ctx.Err()
		}

		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := bytes.TrimSpace(line)
			if data, ok := bytes.CutPrefix(trimmed, []byte("data:")); ok {
				data = bytes.TrimSpace(data)
				if string(data) == "[DONE]" {
					return contentBuf.String(), reasoningBuf.String(), nil
				}
				var chunk sseChunk
				if jsonErr := json.Unmarshal(data, &chunk); jsonErr == nil && len(chunk.Choices) > 0 {
					delta := chunk.Choices[0].Delta
					if delta.ReasoningContent != "" {
						reasoningBuf.WriteString(delta.ReasoningContent)
						if onReasoning != nil {
							onReasoning(delta.ReasoningContent)
						}
					}
					if delta.Content != "" {
						contentBuf.WriteString(delta.Content)
						if onContent != nil {
							onContent(delta.Content)
						}
					}
				}
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return contentBuf.String(), reasoningBuf.String(), nil
			}
			return contentBuf.String(), reasoningBuf.String(), readErr
		}
	}
}
