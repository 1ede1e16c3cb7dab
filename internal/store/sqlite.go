package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is RFC3339 with fixed-width nanoseconds so stored timestamps
// compare correctly as strings.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// Each sqlite connection gets its own private in-memory database,
		// so the pool must stay at exactly one connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// SQLite only supports one writer at a time. Limit connections to
		// avoid contention and keep a small idle pool for read concurrency.
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS request_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			task_type TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 0,
			error_kind TEXT NOT NULL DEFAULT '',
			latency_ms REAL NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			reasoning_tokens INTEGER NOT NULL DEFAULT 0,
			cache_hit_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			credential_index INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_outcomes_ts ON request_outcomes(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_request_outcomes_provider ON request_outcomes(provider)`,
		`CREATE TABLE IF NOT EXISTS pressure_alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			provider TEXT NOT NULL,
			cooling INTEGER NOT NULL,
			total INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pressure_alerts_ts ON pressure_alerts(timestamp)`,
		`CREATE TABLE IF NOT EXISTS deliberations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			deliberation_id TEXT NOT NULL DEFAULT '',
			question TEXT NOT NULL,
			decision TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			rounds INTEGER NOT NULL DEFAULT 0,
			strategy TEXT NOT NULL DEFAULT '',
			agents TEXT NOT NULL DEFAULT '[]',
			duration_ms REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliberations_ts ON deliberations(timestamp)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Request outcomes

func (s *SQLiteStore) LogOutcome(ctx context.Context, o OutcomeRecord) error {
	var credIndex sql.NullInt64
	if o.CredentialIndex != nil {
		credIndex = sql.NullInt64{Int64: int64(*o.CredentialIndex), Valid: true}
	}
	successInt := 0
	if o.Success {
		successInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_outcomes (timestamp, request_id, provider, model, task_type, channel,
		 success, error_kind, latency_ms, prompt_tokens, completion_tokens, reasoning_tokens,
		 cache_hit_tokens, cost_usd, credential_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Timestamp.UTC().Format(timeFormat), o.RequestID, o.Provider, o.Model, o.TaskType,
		o.Channel, successInt, o.ErrorKind, o.LatencyMS, o.PromptTokens, o.CompletionTokens,
		o.ReasoningTokens, o.CacheHitTokens, o.CostUSD, credIndex)
	return err
}

const outcomeColumns = `id, timestamp, request_id, provider, model, task_type, channel,
	success, error_kind, latency_ms, prompt_tokens, completion_tokens, reasoning_tokens,
	cache_hit_tokens, cost_usd, credential_index`

func (s *SQLiteStore) ListOutcomes(ctx context.Context, limit, offset int) ([]OutcomeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outcomeColumns+` FROM request_outcomes ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOutcomes(rows)
}

func (s *SQLiteStore) ListOutcomesSince(ctx context.Context, since time.Time) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outcomeColumns+` FROM request_outcomes WHERE timestamp >= ? ORDER BY id ASC`,
		since.UTC().Format(timeFormat))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOutcomes(rows)
}

func scanOutcomes(rows *sql.Rows) ([]OutcomeRecord, error) {
	var outcomes []OutcomeRecord
	for rows.Next() {
		var o OutcomeRecord
		var ts string
		var successInt int
		var credIndex sql.NullInt64
		if err := rows.Scan(&o.ID, &ts, &o.RequestID, &o.Provider, &o.Model, &o.TaskType,
			&o.Channel, &successInt, &o.ErrorKind, &o.LatencyMS, &o.PromptTokens,
			&o.CompletionTokens, &o.ReasoningTokens, &o.CacheHitTokens, &o.CostUSD,
			&credIndex); err != nil {
			return nil, err
		}
		o.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		o.Success = successInt != 0
		if credIndex.Valid {
			idx := int(credIndex.Int64)
			o.CredentialIndex = &idx
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Pressure alerts

func (s *SQLiteStore) LogPressureAlert(ctx context.Context, a PressureAlertRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pressure_alerts (timestamp, provider, cooling, total) VALUES (?, ?, ?, ?)`,
		a.Timestamp.UTC().Format(timeFormat), a.Provider, a.Cooling, a.Total)
	return err
}

func (s *SQLiteStore) ListPressureAlerts(ctx context.Context, limit int) ([]PressureAlertRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, provider, cooling, total
		 FROM pressure_alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var alerts []PressureAlertRecord
	for rows.Next() {
		var a PressureAlertRecord
		var ts string
		if err := rows.Scan(&a.ID, &ts, &a.Provider, &a.Cooling, &a.Total); err != nil {
			return nil, err
		}
		a.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Deliberations

func (s *SQLiteStore) LogDeliberation(ctx context.Context, d DeliberationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliberations (timestamp, deliberation_id, question, decision, confidence,
		 rounds, strategy, agents, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp.UTC().Format(timeFormat), d.DeliberationID, d.Question, d.Decision,
		d.Confidence, d.Rounds, d.Strategy, d.Agents, d.DurationMS)
	return err
}

func (s *SQLiteStore) ListDeliberations(ctx context.Context, limit, offset int) ([]DeliberationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, deliberation_id, question, decision, confidence, rounds, strategy, agents, duration_ms
		 FROM deliberations ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []DeliberationRecord
	for rows.Next() {
		var d DeliberationRecord
		var ts string
		if err := rows.Scan(&d.ID, &ts, &d.DeliberationID, &d.Question, &d.Decision,
			&d.Confidence, &d.Rounds, &d.Strategy, &d.Agents, &d.DurationMS); err != nil {
			return nil, err
		}
		d.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		records = append(records, d)
	}
	return records, rows.Err()
}
