package temporal

import (
	"github.com/troika-ai/troika/internal/deliberate"
	"github.com/troika-ai/troika/internal/store"
)

// DeliberationInput is the input for the DeliberationWorkflow.
type DeliberationInput struct {
	DeliberationID string   `json:"deliberation_id,omitempty"`
	Question       string   `json:"question"`
	Agents         []string `json:"agents"`
	MaxRounds      int      `json:"max_rounds,omitempty"`
	MinConfidence  float64  `json:"min_confidence,omitempty"`
	Strategy       string   `json:"strategy,omitempty"`
	Symbol         string   `json:"symbol,omitempty"`
	StrategyType   string   `json:"strategy_type,omitempty"`
}

// RoundInput is the input for the ExecuteRound activity.
type RoundInput struct {
	Question     string               `json:"question"`
	Agents       []string             `json:"agents"`
	Round        int                  `json:"round"`
	Previous     []deliberate.Opinion `json:"previous,omitempty"`
	Symbol       string               `json:"symbol,omitempty"`
	StrategyType string               `json:"strategy_type,omitempty"`
}

// RoundOutput is the output of the ExecuteRound activity. Absent agents are
// part of the payload, not an activity failure.
type RoundOutput struct {
	Opinions []deliberate.Opinion            `json:"opinions"`
	Absent   map[string]string               `json:"absent,omitempty"`
	Stats    map[string]deliberate.AgentStat `json:"stats,omitempty"`
}

// RecordInput is the input for the RecordResult activity.
type RecordInput struct {
	Record  store.DeliberationRecord `json:"record"`
	Outcome string                   `json:"outcome"`
}
