package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/troika-ai/troika/internal/deliberate"
	"github.com/troika-ai/troika/internal/provider"
	"github.com/troika-ai/troika/internal/store"
	"github.com/troika-ai/troika/internal/temporal"
)

// DeliberationBody is the JSON body for POST /v1/deliberations. Agents
// default to all three providers.
type DeliberationBody struct {
	Question      string   `json:"question"`
	Agents        []string `json:"agents,omitempty"`
	MaxRounds     int      `json:"max_rounds,omitempty"`
	MinConfidence float64  `json:"min_confidence,omitempty"`
	Strategy      string   `json:"strategy,omitempty"`
	Symbol        string   `json:"symbol,omitempty"`
	StrategyType  string   `json:"strategy_type,omitempty"`
}

// DeliberationsHandler runs the multi-round protocol. With ?durable=true
// and a configured Temporal manager the run executes as a workflow whose
// history survives worker restarts; otherwise, or when starting the
// workflow fails, it runs in process.
func DeliberationsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body DeliberationBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(body.Question) == "" {
			jsonError(w, "question required", http.StatusBadRequest)
			return
		}

		kinds, names, err := resolveAgents(body.Agents)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}

		durable, _ := strconv.ParseBool(r.URL.Query().Get("durable"))
		if durable && d.Temporal != nil && d.Temporal.Enabled() {
			result, derr := d.Temporal.Deliberate(r.Context(), temporal.DeliberationInput{
				Question:      body.Question,
				Agents:        names,
				MaxRounds:     body.MaxRounds,
				MinConfidence: body.MinConfidence,
				Strategy:      body.Strategy,
				Symbol:        body.Symbol,
				StrategyType:  body.StrategyType,
			})
			if derr == nil {
				writeJSON(w, result)
				return
			}
			d.Logger.Warn("durable deliberation failed, running in process", "error", derr)
		}

		result, err := d.Core.Deliberate(r.Context(), deliberate.Params{
			Question:      body.Question,
			Agents:        kinds,
			MaxRounds:     body.MaxRounds,
			MinConfidence: body.MinConfidence,
			Strategy:      deliberate.StrategyFromString(body.Strategy),
			Symbol:        body.Symbol,
			StrategyType:  body.StrategyType,
		})
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, result)
	}
}

// resolveAgents maps agent names to provider kinds, defaulting to all
// three. Names are normalized, so aliases like "reasoner" come back as
// canonical provider names.
func resolveAgents(agents []string) ([]provider.Kind, []string, error) {
	if len(agents) == 0 {
		kinds := provider.Kinds()
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = k.Name()
		}
		return kinds, names, nil
	}
	kinds := make([]provider.Kind, 0, len(agents))
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		k, err := provider.KindFromName(strings.ToLower(strings.TrimSpace(a)))
		if err != nil {
			return nil, nil, err
		}
		kinds = append(kinds, k)
		names = append(names, k.Name())
	}
	return kinds, names, nil
}

// DeliberationsListHandler returns persisted deliberation summaries,
// newest first.
func DeliberationsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := d.Core.Store()
		if st == nil {
			writeJSON(w, []store.DeliberationRecord{})
			return
		}
		limit, offset := pageParams(r)
		recs, err := st.ListDeliberations(r.Context(), limit, offset)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []store.DeliberationRecord{}
		}
		writeJSON(w, recs)
	}
}

// pageParams reads limit/offset query parameters with a default page of 50
// rows, capped at 500.
func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > 500 {
		limit = 500
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
