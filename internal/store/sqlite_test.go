package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrate(t *testing.T) {
	s := newTestStore(t)
	// Running migrate twice should be idempotent.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestOutcomesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idx := 2
	first := OutcomeRecord{
		Timestamp:        time.Now().UTC(),
		RequestID:        "req-1",
		Provider:         "deepseek",
		Model:            "deepseek-reasoner",
		TaskType:         "analyze",
		Channel:          "chat",
		Success:          true,
		LatencyMS:        842.5,
		PromptTokens:     120,
		CompletionTokens: 480,
		ReasoningTokens:  300,
		CacheHitTokens:   64,
		CostUSD:          0.0012,
		CredentialIndex:  &idx,
	}
	if err := s.LogOutcome(ctx, first); err != nil {
		t.Fatalf("log outcome failed: %v", err)
	}

	second := OutcomeRecord{
		Timestamp: time.Now().UTC(),
		RequestID: "req-2",
		Provider:  "qwen",
		Success:   false,
		ErrorKind: "rate_limit",
		LatencyMS: 35,
	}
	if err := s.LogOutcome(ctx, second); err != nil {
		t.Fatalf("log outcome 2 failed: %v", err)
	}

	outcomes, err := s.ListOutcomes(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}

	// Most recent first.
	if outcomes[0].RequestID != "req-2" {
		t.Errorf("expected req-2 first, got %s", outcomes[0].RequestID)
	}
	if outcomes[0].ErrorKind != "rate_limit" || outcomes[0].Success {
		t.Errorf("unexpected failure row: %+v", outcomes[0])
	}
	if outcomes[0].CredentialIndex != nil {
		t.Error("expected nil credential index for req-2")
	}

	got := outcomes[1]
	if got.Provider != "deepseek" || got.Model != "deepseek-reasoner" {
		t.Errorf("unexpected provider/model: %s/%s", got.Provider, got.Model)
	}
	if got.PromptTokens != 120 || got.CompletionTokens != 480 || got.ReasoningTokens != 300 {
		t.Errorf("tokens = %d/%d/%d", got.PromptTokens, got.CompletionTokens, got.ReasoningTokens)
	}
	if got.CacheHitTokens != 64 {
		t.Errorf("cache hit tokens = %d, want 64", got.CacheHitTokens)
	}
	if got.CredentialIndex == nil || *got.CredentialIndex != 2 {
		t.Errorf("credential index = %v, want 2", got.CredentialIndex)
	}
	if got.LatencyMS != 842.5 {
		t.Errorf("latency = %v, want 842.5", got.LatencyMS)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should round-trip")
	}
}

func TestOutcomesLimitAndDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.LogOutcome(ctx, OutcomeRecord{
			Timestamp: time.Now().UTC(),
			Provider:  "qwen",
			Success:   true,
		}); err != nil {
			t.Fatalf("log outcome failed: %v", err)
		}
	}

	outcomes, err := s.ListOutcomes(ctx, 3, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(outcomes) != 3 {
		t.Errorf("expected 3 outcomes with limit, got %d", len(outcomes))
	}

	outcomes, err = s.ListOutcomes(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list with default limit failed: %v", err)
	}
	if len(outcomes) != 5 {
		t.Errorf("expected 5 outcomes with default limit, got %d", len(outcomes))
	}
}

func TestOutcomesSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := OutcomeRecord{Timestamp: now.Add(-2 * time.Hour), Provider: "deepseek", Success: true}
	recent := OutcomeRecord{Timestamp: now, Provider: "deepseek", Success: true, RequestID: "fresh"}
	if err := s.LogOutcome(ctx, old); err != nil {
		t.Fatalf("log old failed: %v", err)
	}
	if err := s.LogOutcome(ctx, recent); err != nil {
		t.Fatalf("log recent failed: %v", err)
	}

	outcomes, err := s.ListOutcomesSince(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list since failed: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome since cutoff, got %d", len(outcomes))
	}
	if outcomes[0].RequestID != "fresh" {
		t.Errorf("expected the recent row, got %+v", outcomes[0])
	}
}

func TestOutcomesEmpty(t *testing.T) {
	s := newTestStore(t)
	outcomes, err := s.ListOutcomes(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if outcomes != nil {
		t.Errorf("expected nil outcomes for empty db, got %d", len(outcomes))
	}
}

func TestPressureAlerts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.LogPressureAlert(ctx, PressureAlertRecord{
		Timestamp: time.Now().UTC(), Provider: "deepseek", Cooling: 2, Total: 3,
	}); err != nil {
		t.Fatalf("log alert failed: %v", err)
	}
	if err := s.LogPressureAlert(ctx, PressureAlertRecord{
		Timestamp: time.Now().UTC(), Provider: "qwen", Cooling: 1, Total: 2,
	}); err != nil {
		t.Fatalf("log alert 2 failed: %v", err)
	}

	alerts, err := s.ListPressureAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("list alerts failed: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].Provider != "qwen" {
		t.Errorf("expected qwen first (most recent), got %s", alerts[0].Provider)
	}
	if alerts[1].Cooling != 2 || alerts[1].Total != 3 {
		t.Errorf("unexpected alert fields: %+v", alerts[1])
	}

	one, err := s.ListPressureAlerts(ctx, 1)
	if err != nil {
		t.Fatalf("list alerts with limit failed: %v", err)
	}
	if len(one) != 1 {
		t.Errorf("expected 1 alert with limit, got %d", len(one))
	}
}

func TestDeliberations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := DeliberationRecord{
		Timestamp:      time.Now().UTC(),
		DeliberationID: "d-123",
		Question:       "should we rotate into BTC",
		Decision:       "bullish",
		Confidence:     0.78,
		Rounds:         2,
		Strategy:       "weighted",
		Agents:         `["deepseek","qwen","perplexity"]`,
		DurationMS:     5230,
	}
	if err := s.LogDeliberation(ctx, rec); err != nil {
		t.Fatalf("log deliberation failed: %v", err)
	}

	records, err := s.ListDeliberations(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list deliberations failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.DeliberationID != "d-123" || got.Decision != "bullish" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Confidence != 0.78 || got.Rounds != 2 || got.Strategy != "weighted" {
		t.Errorf("unexpected fields: %+v", got)
	}
	if got.Agents != `["deepseek","qwen","perplexity"]` {
		t.Errorf("agents = %s", got.Agents)
	}
}
