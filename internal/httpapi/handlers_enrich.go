package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
)

// EnrichBody is the JSON body for POST /v1/enrich.
type EnrichBody struct {
	Symbol       string         `json:"symbol"`
	StrategyType string         `json:"strategy_type,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// EnrichHandler returns the request context extended with market context.
// Consultation failures surface as a market_context_status field, not an
// HTTP error.
func EnrichHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body EnrichBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(body.Symbol) == "" {
			jsonError(w, "symbol required", http.StatusBadRequest)
			return
		}
		writeJSON(w, d.Core.Enrich(r.Context(), body.Symbol, body.StrategyType, body.Context))
	}
}

// EnrichPurgeHandler drops cached market context. Without a symbol query
// parameter the whole cache is cleared.
func EnrichPurgeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		n := d.Core.InvalidateEnrichment(symbol)
		writeJSON(w, map[string]int{"invalidated": n})
	}
}
