package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/troika-ai/troika/internal/events"
)

// SSEHandler tails the event bus over Server-Sent Events: request
// outcomes, credential cooldowns, pressure alerts, breaker transitions,
// deliberation completions, and enrichment refreshes. A `type` query
// parameter (comma-separated event types) narrows the tail, so an
// operator can watch only cooldowns or only pressure alerts.
func SSEHandler(bus *events.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			jsonError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		var want map[events.EventType]bool
		if raw := r.URL.Query().Get("type"); raw != "" {
			want = make(map[events.EventType]bool)
			for _, t := range strings.Split(raw, ",") {
				if t = strings.TrimSpace(t); t != "" {
					want[events.EventType(t)] = true
				}
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		sub := bus.Subscribe(64)
		defer bus.Unsubscribe(sub)

		_, _ = fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case e := <-sub.C:
				if want != nil && !want[e.Type] {
					continue
				}
				_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, e.JSON())
				flusher.Flush()
			}
		}
	}
}
