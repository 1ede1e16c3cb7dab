package deliberate

import (
	"strings"

	"github.com/troika-ai/troika/internal/provider"
	"github.com/troika-ai/troika/internal/signal"
)

// NoConsensus is the decision when voting cannot produce a direction.
const NoConsensus = "no consensus"

// Strategy selects how final-round opinions become a decision.
type Strategy string

const (
	// Unanimous requires every agent on one direction.
	Unanimous Strategy = "unanimous"
	// Majority takes the plurality, ties broken by summed confidence.
	Majority Strategy = "majority"
	// Supermajority requires at least two thirds of the agents, rounded up.
	Supermajority Strategy = "supermajority"
	// Weighted scores each direction by confidence times domain priority.
	Weighted Strategy = "weighted"
)

// StrategyFromString parses a strategy name, defaulting to Majority.
func StrategyFromString(s string) Strategy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Unanimous):
		return Unanimous
	case string(Supermajority):
		return Supermajority
	case string(Weighted):
		return Weighted
	default:
		return Majority
	}
}

// Params configures one deliberation run.
type Params struct {
	Question      string
	Agents        []provider.Kind
	MaxRounds     int     // default 3
	MinConfidence float64 // early-exit floor, default 0.7
	Strategy      Strategy

	// Symbol and StrategyType select market-context enrichment for the
	// opening round when set.
	Symbol       string
	StrategyType string
}

func (p Params) withDefaults() Params {
	if p.MaxRounds <= 0 {
		p.MaxRounds = 3
	}
	if p.MinConfidence <= 0 {
		p.MinConfidence = 0.7
	}
	if p.Strategy == "" {
		p.Strategy = Majority
	}
	return p
}

// Opinion is one agent's position in one round.
type Opinion struct {
	Agent      string           `json:"agent"`
	Direction  signal.Direction `json:"direction"`
	Confidence float64          `json:"confidence"`
	Reasoning  string           `json:"reasoning,omitempty"`
}

// Vote is a final-round position as counted by the voting strategy.
type Vote struct {
	Agent      string           `json:"agent"`
	Confidence float64          `json:"confidence"`
	Position   signal.Direction `json:"position"`
	Reasoning  string           `json:"reasoning,omitempty"`
}

// Round records one completed deliberation round.
type Round struct {
	RoundNumber       int       `json:"round_number"`
	Opinions          []Opinion `json:"opinions"`
	ConvergenceScore  float64   `json:"convergence_score"`
	ConsensusEmerging bool      `json:"consensus_emerging"`
}

// AgentStat aggregates one agent's dispatch cost over a deliberation:
// consultations made (absent rounds included), cumulative latency, tokens,
// cost, and response-cache hits.
type AgentStat struct {
	Consultations int     `json:"consultations"`
	LatencyMS     float64 `json:"latency_ms"`
	TotalTokens   int     `json:"total_tokens,omitempty"`
	CostUSD       float64 `json:"cost_usd,omitempty"`
	CacheHits     int     `json:"cache_hits,omitempty"`
}

// MergeAgentStats folds per-round stats into the running totals.
func MergeAgentStats(totals, round map[string]AgentStat) map[string]AgentStat {
	if totals == nil {
		totals = make(map[string]AgentStat, len(round))
	}
	for agent, s := range round {
		t := totals[agent]
		t.Consultations += s.Consultations
		t.LatencyMS += s.LatencyMS
		t.TotalTokens += s.TotalTokens
		t.CostUSD += s.CostUSD
		t.CacheHits += s.CacheHits
		totals[agent] = t
	}
	return totals
}

// Result is the outcome of a deliberation run.
type Result struct {
	Decision   string         `json:"decision"`
	Confidence float64        `json:"confidence"`
	Rounds     []Round        `json:"rounds"`
	FinalVotes []Vote         `json:"final_votes"`
	Dissents   []Opinion      `json:"dissenting_opinions"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
