package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/troika-ai/troika/internal/deliberate"
	"github.com/troika-ai/troika/internal/events"
	"github.com/troika-ai/troika/internal/metrics"
	"github.com/troika-ai/troika/internal/provider"
	"github.com/troika-ai/troika/internal/store"
)

// Activities holds dependencies for Temporal activity implementations.
type Activities struct {
	Engine   *deliberate.Engine
	Store    store.Store
	Metrics  *metrics.Registry
	EventBus *events.Bus
}

// ExecuteRound fans one deliberation round out to the named agents. An
// absent agent is reported in the output rather than failing the activity,
// so the activity only errors on unusable input or infrastructure faults.
func (a *Activities) ExecuteRound(ctx context.Context, input RoundInput) (RoundOutput, error) {
	agents := make([]provider.Kind, 0, len(input.Agents))
	for _, name := range input.Agents {
		kind, err := provider.KindFromName(name)
		if err != nil {
			return RoundOutput{}, fmt.Errorf("execute round: %w", err)
		}
		agents = append(agents, kind)
	}

	activity.RecordHeartbeat(ctx, fmt.Sprintf("round %d", input.Round))

	opinions, absent, stats := a.Engine.RunRound(ctx, deliberate.Params{
		Question:     input.Question,
		Agents:       agents,
		Symbol:       input.Symbol,
		StrategyType: input.StrategyType,
	}, input.Round, input.Previous)

	return RoundOutput{Opinions: opinions, Absent: absent, Stats: stats}, nil
}

// RecordResult emits completion metrics and events and persists the
// deliberation summary. Store errors propagate so the retry policy applies.
func (a *Activities) RecordResult(ctx context.Context, input RecordInput) error {
	if a.Metrics != nil {
		a.Metrics.DeliberationsTotal.WithLabelValues(input.Outcome).Inc()
		a.Metrics.DeliberationRounds.Observe(float64(input.Record.Rounds))
	}
	if a.EventBus != nil {
		a.EventBus.Publish(events.Event{
			Type:       events.EventDeliberationComplete,
			Decision:   input.Record.Decision,
			Confidence: input.Record.Confidence,
			Rounds:     input.Record.Rounds,
		})
	}
	if a.Store == nil {
		return nil
	}
	if err := a.Store.LogDeliberation(ctx, input.Record); err != nil {
		return fmt.Errorf("record deliberation: %w", err)
	}
	return nil
}
