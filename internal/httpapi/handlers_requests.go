package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/troika-ai/troika/internal/provider"
)

// RequestBody is the JSON body for /v1/requests and /v1/requests/stream.
type RequestBody struct {
	Provider     string         `json:"provider"`
	TaskType     string         `json:"task_type,omitempty"`
	Prompt       string         `json:"prompt"`
	Code         string         `json:"code,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	ThinkingMode bool           `json:"thinking_mode,omitempty"`
	StrictMode   bool           `json:"strict_mode,omitempty"`
}

func (b RequestBody) toRequest() (provider.Request, error) {
	kind, err := provider.KindFromName(b.Provider)
	if err != nil {
		return provider.Request{}, err
	}
	if strings.TrimSpace(b.Prompt) == "" {
		return provider.Request{}, fmt.Errorf("prompt required")
	}
	return provider.Request{
		Provider:     kind,
		TaskType:     b.TaskType,
		Prompt:       b.Prompt,
		Code:         b.Code,
		Context:      b.Context,
		ThinkingMode: b.ThinkingMode,
		StrictMode:   b.StrictMode,
	}, nil
}

// RequestsHandler dispatches a single-shot provider request. Provider
// failures are part of the 200 response; only malformed input is an HTTP
// error.
func RequestsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body RequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		req, err := body.toRequest()
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, d.Core.Send(r.Context(), req))
	}
}

// StreamHandler dispatches the SSE variant: one reasoning or content event
// per delta as it arrives, then a final result event carrying the complete
// response. Dispatch failures before the first delta still produce the
// result event, so clients need only one terminal case.
func StreamHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body RequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		req, err := body.toRequest()
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.Stream = true

		flusher, ok := w.(http.Flusher)
		if !ok {
			jsonError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		// SendStream invokes the callbacks inline on this goroutine, so
		// writing to w from them is safe.
		resp := d.Core.Stream(r.Context(), req,
			func(chunk string) { writeSSE(w, flusher, "reasoning", deltaJSON(chunk)) },
			func(chunk string) { writeSSE(w, flusher, "content", deltaJSON(chunk)) },
		)

		final, err := json.Marshal(resp)
		if err != nil {
			d.Logger.Warn("encode stream result", "error", err)
			return
		}
		writeSSE(w, flusher, "result", final)
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data []byte) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func deltaJSON(chunk string) []byte {
	b, _ := json.Marshal(map[string]string{"text": chunk})
	return b
}
