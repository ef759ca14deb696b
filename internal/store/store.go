// Package store keeps the sidecar's audit trail: every executed command
// and every completed fix run, in a local sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fixme/internal/logging"

	_ "modernc.org/sqlite"
)

// Execution is one audited command execution.
type Execution struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	Command    string    `json:"command"`
	Resolved   string    `json:"resolved,omitempty"`
	NeedsAdmin bool      `json:"needs_admin"`
	Success    bool      `json:"success"`
	ExitCode   int       `json:"exit_code"`
	Message    string    `json:"message"`
	Fault      string    `json:"fault,omitempty"`
	Duration   int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// Run is one completed fix run.
type Run struct {
	ID        string          `json:"id"`
	Diagnosis string          `json:"diagnosis"`
	Locale    string          `json:"locale"`
	State     string          `json:"state"`
	Total     int             `json:"total"`
	Applied   int             `json:"applied"`
	Outcomes  json.RawMessage `json:"outcomes,omitempty"`
	Summary   string          `json:"summary"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
}

// Store manages the audit database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open creates or opens the audit database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.Store("audit database opened at %s", dbPath)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT,
		source TEXT,
		command TEXT NOT NULL,
		resolved TEXT,
		needs_admin INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL,
		exit_code INTEGER NOT NULL,
		message TEXT,
		fault TEXT,
		duration_ms INTEGER NOT NULL,
		started_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		diagnosis TEXT NOT NULL,
		locale TEXT NOT NULL,
		state TEXT NOT NULL,
		total INTEGER NOT NULL,
		applied INTEGER NOT NULL,
		outcomes_json TEXT,
		summary TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordExecution appends an execution and returns its ID.
func (s *Store) RecordExecution(ctx context.Context, e Execution) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (request_id, source, command, resolved, needs_admin, success, exit_code, message, fault, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Source, e.Command, e.Resolved, boolToInt(e.NeedsAdmin), boolToInt(e.Success),
		e.ExitCode, e.Message, e.Fault, e.Duration, e.StartedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to record execution: %w", err)
	}
	return res.LastInsertId()
}

// RecentExecutions returns up to limit executions, newest first.
func (s *Store) RecentExecutions(ctx context.Context, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, source, command, resolved, needs_admin, success, exit_code, message, fault, duration_ms, started_at
		FROM executions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var requestID, source, resolved, message, fault sql.NullString
		var needsAdmin, success int
		var startedAt int64
		if err := rows.Scan(&e.ID, &requestID, &source, &e.Command, &resolved, &needsAdmin, &success,
			&e.ExitCode, &message, &fault, &e.Duration, &startedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.RequestID = requestID.String
		e.Source = source.String
		e.Resolved = resolved.String
		e.Message = message.String
		e.Fault = fault.String
		e.NeedsAdmin = needsAdmin != 0
		e.Success = success != 0
		e.StartedAt = time.UnixMilli(startedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordRun stores a completed fix run.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, diagnosis, locale, state, total, applied, outcomes_json, summary, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Diagnosis, r.Locale, r.State, r.Total, r.Applied, string(r.Outcomes), r.Summary,
		r.StartedAt.UnixMilli(), r.EndedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, diagnosis, locale, state, total, applied, outcomes_json, summary, started_at, ended_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var outcomes, summary sql.NullString
		var started, ended int64
		if err := rows.Scan(&r.ID, &r.Diagnosis, &r.Locale, &r.State, &r.Total, &r.Applied,
			&outcomes, &summary, &started, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if outcomes.String != "" {
			r.Outcomes = json.RawMessage(outcomes.String)
		}
		r.Summary = summary.String
		r.StartedAt = time.UnixMilli(started)
		r.EndedAt = time.UnixMilli(ended)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
