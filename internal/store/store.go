// Package store persists dispatch outcomes, pressure alerts, and
// deliberation summaries. The snapshot surface reads recent rows back on
// startup so restarts do not blank the dashboard.
package store

import (
	"context"
	"time"
)

// Store defines the persistence interface for troika.
type Store interface {
	// Request outcomes (one row per dispatched request)
	LogOutcome(ctx context.Context, o OutcomeRecord) error
	ListOutcomes(ctx context.Context, limit, offset int) ([]OutcomeRecord, error)
	ListOutcomesSince(ctx context.Context, since time.Time) ([]OutcomeRecord, error)

	// Pressure alerts
	LogPressureAlert(ctx context.Context, a PressureAlertRecord) error
	ListPressureAlerts(ctx context.Context, limit int) ([]PressureAlertRecord, error)

	// Deliberation summaries
	LogDeliberation(ctx context.Context, d DeliberationRecord) error
	ListDeliberations(ctx context.Context, limit, offset int) ([]DeliberationRecord, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// OutcomeRecord captures a single dispatched request for audit and
// snapshot seeding.
type OutcomeRecord struct {
	ID               int64     `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	RequestID        string    `json:"request_id,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model,omitempty"`
	TaskType         string    `json:"task_type,omitempty"`
	Channel          string    `json:"channel,omitempty"`
	Success          bool      `json:"success"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	LatencyMS        float64   `json:"latency_ms"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	ReasoningTokens  int       `json:"reasoning_tokens,omitempty"`
	CacheHitTokens   int       `json:"cache_hit_tokens,omitempty"`
	CostUSD          float64   `json:"cost_usd"`
	CredentialIndex  *int      `json:"credential_index,omitempty"`
}

// PressureAlertRecord captures one fired pool-pressure alert.
type PressureAlertRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Cooling   int       `json:"cooling"`
	Total     int       `json:"total"`
}

// DeliberationRecord is the persisted summary of one deliberation run.
type DeliberationRecord struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	DeliberationID string    `json:"deliberation_id"`
	Question       string    `json:"question"`
	Decision       string    `json:"decision"`
	Confidence     float64   `json:"confidence"`
	Rounds         int       `json:"rounds"`
	Strategy       string    `json:"strategy"`
	Agents         string    `json:"agents"` // JSON array of provider names
	DurationMS     float64   `json:"duration_ms"`
}
