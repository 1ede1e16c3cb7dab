package orchestrator

import (
	"context"
	"time"

	"github.com/troika-ai/troika/internal/credential"
	"github.com/troika-ai/troika/internal/stats"
	"github.com/troika-ai/troika/internal/store"
)

const recentAlertLimit = 20

// Snapshot is the point-in-time operational view served by the snapshot
// endpoint and troikactl.
type Snapshot struct {
	GeneratedAt time.Time                   `json:"generated_at"`
	UptimeS     float64                     `json:"uptime_s"`
	Providers   map[string]ProviderStatus   `json:"providers"`
	Stats       StatsView                   `json:"stats"`
	Caches      CacheView                   `json:"caches"`
	Alerts      []store.PressureAlertRecord `json:"recent_pressure_alerts"`
}

// ProviderStatus combines one provider's pool summary, per-credential
// detail, and breaker state.
type ProviderStatus struct {
	Pool        credential.PoolMetrics      `json:"pool"`
	Credentials []credential.CredentialView `json:"credentials"`
	Breaker     string                      `json:"breaker"`
}

// StatsView carries the rolling-window aggregates and lifetime totals.
type StatsView struct {
	Global     []stats.Aggregate            `json:"global"`
	ByProvider map[string][]stats.Aggregate `json:"by_provider"`
	Totals     map[string]stats.Totals      `json:"totals"`
}

// CacheView reports current cache occupancy.
type CacheView struct {
	ResponseEntries   int `json:"response_entries"`
	EnrichmentEntries int `json:"enrichment_entries"`
}

// Snapshot assembles the full operational view. Store reads are best
// effort; a failing store yields an empty alert list, never an error.
func (o *Orchestrator) Snapshot(ctx context.Context) *Snapshot {
	now := o.nowFunc()
	snap := &Snapshot{
		GeneratedAt: now.UTC(),
		UptimeS:     now.Sub(o.startedAt).Seconds(),
		Providers:   make(map[string]ProviderStatus, len(o.kinds)),
		Stats: StatsView{
			Global:     o.stats.Global(),
			ByProvider: o.stats.ByProvider(),
			Totals:     o.stats.ProviderTotals(),
		},
		Caches: CacheView{
			ResponseEntries:   o.cache.Len(),
			EnrichmentEntries: o.enricher.Len(),
		},
		Alerts: []store.PressureAlertRecord{},
	}

	for _, k := range o.kinds {
		status := ProviderStatus{Breaker: "closed"}
		if pool := o.dispatcher.Pool(k); pool != nil {
			status.Pool = pool.Metrics()
			status.Credentials = pool.Snapshot()
		}
		if br := o.dispatcher.Breaker(k); br != nil {
			status.Breaker = br.CurrentState().String()
		}
		snap.Providers[k.Name()] = status
	}

	if o.store != nil {
		alerts, err := o.store.ListPressureAlerts(ctx, recentAlertLimit)
		if err != nil {
			o.logger.Warn("list pressure alerts", "error", err)
		} else if alerts != nil {
			snap.Alerts = alerts
		}
	}
	return snap
}
