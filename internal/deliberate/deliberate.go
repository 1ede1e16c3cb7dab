// Package deliberate runs the bounded multi-round protocol that turns one
// question and a set of agents into a voted decision. Rounds fan out in
// parallel, an absent agent never aborts its round, and the engine exits
// early once directions converge with enough confidence. Cancellation
// returns a partial result built from whatever rounds completed.
package deliberate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/troika-ai/troika/internal/enrich"
	"github.com/troika-ai/troika/internal/events"
	"github.com/troika-ai/troika/internal/metrics"
	"github.com/troika-ai/troika/internal/provider"
	"github.com/troika-ai/troika/internal/signal"
	"github.com/troika-ai/troika/internal/store"
)

// Sender dispatches one provider request. Satisfied by dispatch.Dispatcher.
type Sender interface {
	Send(ctx context.Context, req provider.Request) *provider.Response
}

// Engine orchestrates deliberations over a dispatcher.
type Engine struct {
	sender   Sender
	enricher *enrich.Enricher
	metrics  *metrics.Registry
	bus      *events.Bus
	store    store.Store
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithEnricher adds market context to opening-round prompts when the
// question warrants it.
func WithEnricher(en *enrich.Enricher) Option {
	return func(e *Engine) { e.enricher = en }
}

// WithMetrics records deliberation outcomes and round counts.
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEventBus publishes a completion event per run.
func WithEventBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithStore persists a summary row per run.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNow overrides the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(e *Engine) { e.nowFunc = fn }
}

// New creates an Engine backed by the given sender.
func New(sender Sender, opts ...Option) *Engine {
	e := &Engine{
		sender:  sender,
		logger:  slog.Default(),
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Deliberate runs the protocol and always returns a result; errors are
// reserved for unusable parameters. Provider failures surface as absent
// agents, and a deadline on ctx turns the run into a partial result
// flagged timed_out.
func (e *Engine) Deliberate(ctx context.Context, p Params) (*Result, error) {
	if strings.TrimSpace(p.Question) == "" {
		return nil, errors.New("deliberate: empty question")
	}
	if len(p.Agents) == 0 {
		return nil, errors.New("deliberate: no agents")
	}
	p = p.withDefaults()

	start := e.nowFunc()
	id := uuid.NewString()
	market := e.marketContext(ctx, p)

	var (
		rounds    []Round
		absences  = make(map[string]map[string]string)
		integ     map[string]AgentStat
		prev      []Opinion
		earlyExit bool
	)

	for r := 1; r <= p.MaxRounds; r++ {
		if ctx.Err() != nil {
			break
		}
		opinions, absent, stats := e.runRound(ctx, p, r, prev, market)
		integ = MergeAgentStats(integ, stats)
		if len(absent) > 0 {
			absences[strconv.Itoa(r)] = absent
		}
		if len(opinions) == 0 {
			break
		}

		score := ConvergenceScore(opinions)
		rounds = append(rounds, Round{
			RoundNumber:       r,
			Opinions:          opinions,
			ConvergenceScore:  score,
			ConsensusEmerging: score >= ConsensusThreshold,
		})
		prev = opinions

		if score >= ConsensusThreshold && MeanConfidence(opinions) >= p.MinConfidence {
			earlyExit = r < p.MaxRounds
			break
		}
	}

	timedOut := ctx.Err() != nil
	return e.finalize(ctx, p, id, rounds, absences, integ, market != nil, earlyExit, timedOut, start), nil
}

// RunRound executes a single round outside the full protocol loop, for
// drivers that sequence rounds themselves, such as the durable workflow.
// The opening round is enriched with market context under the same rules
// as Deliberate; later rounds receive the previous round's opinions.
func (e *Engine) RunRound(ctx context.Context, p Params, round int, prev []Opinion) ([]Opinion, map[string]string, map[string]AgentStat) {
	p = p.withDefaults()
	var market map[string]any
	if round <= 1 {
		market = e.marketContext(ctx, p)
	}
	return e.runRound(ctx, p, round, prev, market)
}

// marketContext runs enrichment when a symbol is set and the question is
// the kind that benefits from it.
func (e *Engine) marketContext(ctx context.Context, p Params) map[string]any {
	if e.enricher == nil || p.Symbol == "" || !e.enricher.ShouldConsult(p.Question) {
		return nil
	}
	enriched := e.enricher.Enrich(ctx, p.Symbol, p.StrategyType, nil)
	market, _ := enriched["market_context"].(map[string]any)
	return market
}

func (e *Engine) finalize(ctx context.Context, p Params, id string, rounds []Round, absences map[string]map[string]string, integ map[string]AgentStat, enriched, earlyExit, timedOut bool, start time.Time) *Result {
	var final []Opinion
	var finalScore float64
	if n := len(rounds); n > 0 {
		final = rounds[n-1].Opinions
		finalScore = rounds[n-1].ConvergenceScore
	}

	decision, winning := Decide(p.Strategy, final)
	confidence := AggregateConfidence(winning, finalScore)
	now := e.nowFunc()
	crossValidation := signal.CrossValidate(SignalsFrom(final, now))

	agents := make([]string, len(p.Agents))
	for i, k := range p.Agents {
		agents[i] = k.Name()
	}
	durationMS := now.Sub(start).Seconds() * 1000

	md := map[string]any{
		"deliberation_id":  id,
		"strategy":         string(p.Strategy),
		"agents":           agents,
		"rounds_used":      len(rounds),
		"early_exit":       earlyExit,
		"enriched":         enriched,
		"duration_ms":      durationMS,
		"cross_validation": crossValidation,
	}
	if len(integ) > 0 {
		md["integration"] = integ
	}
	if len(absences) > 0 {
		md["absent_agents"] = absences
	}
	if timedOut {
		md["timed_out"] = true
	}

	outcome := "consensus"
	switch {
	case timedOut:
		outcome = "timed_out"
	case decision == NoConsensus:
		outcome = "no_consensus"
	}

	if e.metrics != nil {
		e.metrics.DeliberationsTotal.WithLabelValues(outcome).Inc()
		e.metrics.DeliberationRounds.Observe(float64(len(rounds)))
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:       events.EventDeliberationComplete,
			Decision:   decision,
			Confidence: confidence,
			Rounds:     len(rounds),
		})
	}
	if e.store != nil {
		rec := store.DeliberationRecord{
			Timestamp:      now.UTC(),
			DeliberationID: id,
			Question:       p.Question,
			Decision:       decision,
			Confidence:     confidence,
			Rounds:         len(rounds),
			Strategy:       string(p.Strategy),
			Agents:         jsonArray(agents),
			DurationMS:     durationMS,
		}
		if err := e.store.LogDeliberation(context.WithoutCancel(ctx), rec); err != nil {
			e.logger.Warn("persist deliberation summary", "error", err)
		}
	}
	e.logger.Info("deliberation complete",
		"deliberation_id", id, "decision", decision, "confidence", confidence,
		"rounds", len(rounds), "outcome", outcome)

	return &Result{
		Decision:   decision,
		Confidence: confidence,
		Rounds:     rounds,
		FinalVotes: VotesFrom(final),
		Dissents:   Dissenting(final, decision),
		Metadata:   md,
	}
}

func jsonArray(items []string) string {
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}
