package httpapi

import (
	"net/http"

	"github.com/troika-ai/troika/internal/store"
)

// SnapshotHandler returns the full operational view: pools, breakers,
// rolling stats, totals, caches, and recent pressure alerts.
func SnapshotHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Core.Snapshot(r.Context()))
	}
}

// OutcomesHandler returns persisted request outcomes, newest first.
func OutcomesHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := d.Core.Store()
		if st == nil {
			writeJSON(w, []store.OutcomeRecord{})
			return
		}
		limit, offset := pageParams(r)
		recs, err := st.ListOutcomes(r.Context(), limit, offset)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []store.OutcomeRecord{}
		}
		writeJSON(w, recs)
	}
}
