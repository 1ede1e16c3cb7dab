package deliberate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/troika-ai/troika/internal/enrich"
	"github.com/troika-ai/troika/internal/provider"
	"github.com/troika-ai/troika/internal/signal"
)

// Absence reason recorded when an agent produces no opinion in a round.
const (
	absentTimedOut    = "timed_out"
	absentUnparseable = "unparseable"
)

type agentOutcome struct {
	opinion *Opinion
	absence string
	stat    AgentStat
}

// runRound fans the round out to every agent in parallel and collects
// opinions. Absent agents come back in the reason map; one failure never
// cancels the rest of the round. The stats map records every consultation's
// cost, absent agents included.
func (e *Engine) runRound(ctx context.Context, p Params, round int, prev []Opinion, market map[string]any) ([]Opinion, map[string]string, map[string]AgentStat) {
	outcomes := make([]agentOutcome, len(p.Agents))
	var wg sync.WaitGroup
	for i, kind := range p.Agents {
		wg.Add(1)
		go func(i int, kind provider.Kind) {
			defer wg.Done()
			outcomes[i] = e.consult(ctx, p, kind, round, prev, market)
		}(i, kind)
	}
	wg.Wait()

	var opinions []Opinion
	absent := make(map[string]string)
	stats := make(map[string]AgentStat, len(p.Agents))
	for i, out := range outcomes {
		stats[p.Agents[i].Name()] = out.stat
		if out.opinion != nil {
			opinions = append(opinions, *out.opinion)
			continue
		}
		absent[p.Agents[i].Name()] = out.absence
	}
	return opinions, absent, stats
}

func (e *Engine) consult(ctx context.Context, p Params, kind provider.Kind, round int, prev []Opinion, market map[string]any) agentOutcome {
	resp := e.sender.Send(ctx, provider.Request{
		Provider: kind,
		TaskType: "deliberation",
		Prompt:   roundPrompt(p.Question, kind, round, prev, market),
	})
	stat := AgentStat{Consultations: 1, LatencyMS: resp.LatencyMS}
	if u := resp.Usage; u != nil {
		stat.TotalTokens = u.TotalTokens
		if u.CostUSD != nil {
			stat.CostUSD = *u.CostUSD
		}
	}
	if hit, _ := resp.Metadata["cache_hit"].(bool); hit {
		stat.CacheHits = 1
	}

	if !resp.Success {
		if ctx.Err() != nil || resp.ErrorKind == provider.ErrKindCancelled {
			return agentOutcome{absence: absentTimedOut, stat: stat}
		}
		e.logger.Warn("agent absent from round",
			"agent", kind.Name(), "round", round, "error_kind", resp.ErrorKind)
		return agentOutcome{absence: string(resp.ErrorKind), stat: stat}
	}

	op, err := parseOpinion(kind.Name(), resp.Content)
	if err != nil {
		e.logger.Warn("agent opinion unparseable",
			"agent", kind.Name(), "round", round, "error", err)
		return agentOutcome{absence: absentUnparseable, stat: stat}
	}
	return agentOutcome{opinion: op, stat: stat}
}

const opinionFormat = `Respond with only a JSON object:
{"direction": "bullish" | "bearish" | "neutral", "confidence": 0.0-1.0, "reasoning": "one or two sentences"}`

const critiqueInstruction = "Peer positions from the previous round are listed above. " +
	"Critique them, note where you agree, and refine or defend your own position."

// roundPrompt composes what one agent sees in one round. The opening round
// is the question plus any market context; later rounds replay the agent's
// own position and its peers' with the cross-examination instruction.
func roundPrompt(question string, kind provider.Kind, round int, prev []Opinion, market map[string]any) string {
	if round == 1 {
		return enrich.BuildEnrichedPrompt(question, market, nil) + "\n\n" + opinionFormat
	}

	base := question
	peers := make([]signal.AgentSignal, 0, len(prev))
	for _, op := range prev {
		if op.Agent == kind.Name() {
			base += fmt.Sprintf("\n\nYour previous position: %s (conf=%.0f%%): %s",
				strings.ToUpper(string(op.Direction)), op.Confidence*100, op.Reasoning)
			continue
		}
		peers = append(peers, signal.AgentSignal{
			Agent:      op.Agent,
			Direction:  op.Direction,
			Confidence: op.Confidence,
			Reasoning:  op.Reasoning,
		})
	}
	return enrich.BuildEnrichedPrompt(base, nil, peers) + "\n\n" + critiqueInstruction + "\n\n" + opinionFormat
}

type opinionPayload struct {
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// parseOpinion decodes an agent's JSON position, tolerating a markdown
// fence or prose around the object.
func parseOpinion(agent, content string) (*Opinion, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON object in opinion")
		}
		s = s[start : end+1]
	}

	var payload opinionPayload
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, fmt.Errorf("parse opinion: %w", err)
	}

	dir := signal.Direction(strings.ToLower(strings.TrimSpace(payload.Direction)))
	switch dir {
	case signal.Bullish, signal.Bearish, signal.Neutral:
	default:
		return nil, fmt.Errorf("unrecognized direction %q", payload.Direction)
	}

	return &Opinion{
		Agent:      agent,
		Direction:  dir,
		Confidence: clamp01(payload.Confidence),
		Reasoning:  strings.TrimSpace(payload.Reasoning),
	}, nil
}
