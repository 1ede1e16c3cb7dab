// Package signal defines the structured statements agents exchange during
// deliberation and the pure cross-validator that audits a set of them for
// direction conflicts.
package signal

import "time"

// Type classifies the analytical domain a signal comes from.
type Type string

const (
	Quantitative Type = "quantitative"
	Technical    Type = "technical"
	Sentiment    Type = "sentiment"
)

// Priority ranks domains for tie-breaking: quantitative evidence outranks
// technical, which outranks sentiment. Unknown types rank last.
func (t Type) Priority() int {
	switch t {
	case Quantitative:
		return 3
	case Technical:
		return 2
	case Sentiment:
		return 1
	default:
		return 0
	}
}

// Direction is the market stance a signal takes.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// AgentSignal is one agent's structured statement: a direction with the
// confidence and reasoning behind it.
type AgentSignal struct {
	Agent      string         `json:"agent"`
	SignalType Type           `json:"signal_type"`
	Direction  Direction      `json:"direction"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ConflictType classifies a disagreeing pair by the domains involved.
type ConflictType string

const (
	SameDomainDisagreement  ConflictType = "same_domain_disagreement"
	TechnicalVsSentiment    ConflictType = "technical_vs_sentiment"
	QuantitativeVsSentiment ConflictType = "quantitative_vs_sentiment"
	QuantitativeVsTechnical ConflictType = "quantitative_vs_technical"
	GeneralDisagreement     ConflictType = "general_disagreement"
)

// Conflict records one pair of signals that point in different directions.
type Conflict struct {
	Agents     [2]string    `json:"agents"`
	Directions [2]Direction `json:"directions"`
	Type       ConflictType `json:"type"`
}

// CrossValidationResult is the audit outcome over a signal set.
type CrossValidationResult struct {
	AgentsAgree    bool          `json:"agents_agree"`
	AgreementScore float64       `json:"agreement_score"`
	Conflicts      []Conflict    `json:"conflicts,omitempty"`
	Resolution     string        `json:"resolution"`
	Signals        []AgentSignal `json:"signals"`
}
