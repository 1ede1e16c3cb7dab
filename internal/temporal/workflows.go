package temporal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/troika-ai/troika/internal/deliberate"
	"github.com/troika-ai/troika/internal/signal"
	"github.com/troika-ai/troika/internal/store"
)

const (
	roundTimeout  = 2 * time.Minute
	recordTimeout = 10 * time.Second
)

// DeliberationWorkflow runs the bounded deliberation protocol with each
// round as a retryable activity, so a worker crash resumes mid-debate from
// workflow history instead of consulting every agent again. Convergence
// scoring and voting happen in workflow code and must stay deterministic:
// they only use the pure functions from the deliberate package and
// workflow.Now for timing.
func DeliberationWorkflow(ctx workflow.Context, input DeliberationInput) (*deliberate.Result, error) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, errors.New("deliberation workflow: empty question")
	}
	if len(input.Agents) == 0 {
		return nil, errors.New("deliberation workflow: no agents")
	}

	maxRounds := input.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 3
	}
	minConfidence := input.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.7
	}
	strategy := deliberate.StrategyFromString(input.Strategy)

	id := input.DeliberationID
	if id == "" {
		id = workflow.GetInfo(ctx).WorkflowExecution.ID
	}

	roundCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: roundTimeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2, // One retry for infrastructure faults; absent agents never error.
		},
	})

	start := workflow.Now(ctx)

	var (
		rounds    []deliberate.Round
		absences  = make(map[string]map[string]string)
		integ     map[string]deliberate.AgentStat
		prev      []deliberate.Opinion
		earlyExit bool
	)

	for r := 1; r <= maxRounds; r++ {
		var out RoundOutput
		err := workflow.ExecuteActivity(roundCtx, (*Activities).ExecuteRound, RoundInput{
			Question:     input.Question,
			Agents:       input.Agents,
			Round:        r,
			Previous:     prev,
			Symbol:       input.Symbol,
			StrategyType: input.StrategyType,
		}).Get(ctx, &out)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", r, err)
		}

		integ = deliberate.MergeAgentStats(integ, out.Stats)
		if len(out.Absent) > 0 {
			absences[strconv.Itoa(r)] = out.Absent
		}
		if len(out.Opinions) == 0 {
			break
		}

		score := deliberate.ConvergenceScore(out.Opinions)
		rounds = append(rounds, deliberate.Round{
			RoundNumber:       r,
			Opinions:          out.Opinions,
			ConvergenceScore:  score,
			ConsensusEmerging: score >= deliberate.ConsensusThreshold,
		})
		prev = out.Opinions

		if score >= deliberate.ConsensusThreshold && deliberate.MeanConfidence(out.Opinions) >= minConfidence {
			earlyExit = r < maxRounds
			break
		}
	}

	var final []deliberate.Opinion
	var finalScore float64
	if n := len(rounds); n > 0 {
		final = rounds[n-1].Opinions
		finalScore = rounds[n-1].ConvergenceScore
	}

	decision, winning := deliberate.Decide(strategy, final)
	confidence := deliberate.AggregateConfidence(winning, finalScore)
	now := workflow.Now(ctx)
	crossValidation := signal.CrossValidate(deliberate.SignalsFrom(final, now))
	durationMS := now.Sub(start).Seconds() * 1000

	md := map[string]any{
		"deliberation_id":  id,
		"strategy":         string(strategy),
		"agents":           input.Agents,
		"rounds_used":      len(rounds),
		"early_exit":       earlyExit,
		"durable":          true,
		"duration_ms":      durationMS,
		"cross_validation": crossValidation,
	}
	if len(integ) > 0 {
		md["integration"] = integ
	}
	if len(absences) > 0 {
		md["absent_agents"] = absences
	}

	outcome := "consensus"
	if decision == deliberate.NoConsensus {
		outcome = "no_consensus"
	}

	agentsJSON, _ := json.Marshal(input.Agents)
	recordCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: recordTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
	record := RecordInput{
		Outcome: outcome,
		Record: store.DeliberationRecord{
			Timestamp:      now.UTC(),
			DeliberationID: id,
			Question:       input.Question,
			Decision:       decision,
			Confidence:     confidence,
			Rounds:         len(rounds),
			Strategy:       string(strategy),
			Agents:         string(agentsJSON),
			DurationMS:     durationMS,
		},
	}
	_ = workflow.ExecuteActivity(recordCtx, (*Activities).RecordResult, record).Get(ctx, nil)

	return &deliberate.Result{
		Decision:   decision,
		Confidence: confidence,
		Rounds:     rounds,
		FinalVotes: deliberate.VotesFrom(final),
		Dissents:   deliberate.Dissenting(final, decision),
		Metadata:   md,
	}, nil
}
