// Package state persists run history and snapshot archives for the CLI.
// The engine core never touches it: snapshots arrive here as values emitted
// at run boundaries.
package state

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusBlocked   RunStatus = "blocked"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusAborted   RunStatus = "aborted"
)

// RunRecord is one execution of a runbook.
type RunRecord struct {
	RunID       string
	Runbook     string
	Environment string
	Status      RunStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EventRecord is one logged block event or pass transition.
type EventRecord struct {
	RunID     string
	Kind      string
	Construct string
	Message   string
	CreatedAt time.Time
}

// StateStore persists and retrieves run state.
type StateStore interface {
	CreateRun(runbook string, environment string) (string, error)
	UpdateRunStatus(runID string, status RunStatus) error
	GetRun(runID string) (*RunRecord, error)
	ListRecentRuns(limit int) ([]RunRecord, error)

	LogEvent(runID string, kind string, constructName string, message string) error
	GetEvents(runID string) ([]EventRecord, error)

	SaveSnapshot(runbook string, environment string, snapshotJSON []byte) error
	GetSnapshot(runbook string, environment string) ([]byte, error)

	Close() error
}

type stateStore struct {
	db *sql.DB
}

func NewStateStore(dbPath string) (StateStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite performs best with a single connection given its locking model
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &stateStore{db: db}, nil
}

func (s *stateStore) CreateRun(runbook string, environment string) (string, error) {
	runID, err := generateRunID(runbook)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, runbook, environment, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, runbook, environment, string(StatusRunning), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return runID, nil
}

func (s *stateStore) UpdateRunStatus(runID string, status RunStatus) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, updated_at = ? WHERE run_id = ?`,
		string(status), time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return nil
}

func (s *stateStore) GetRun(runID string) (*RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT run_id, runbook, environment, status, created_at, updated_at
		 FROM runs WHERE run_id = ?`, runID)
	var record RunRecord
	var status string
	if err := row.Scan(&record.RunID, &record.Runbook, &record.Environment, &status, &record.CreatedAt, &record.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	record.Status = RunStatus(status)
	return &record, nil
}

func (s *stateStore) ListRecentRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT run_id, runbook, environment, status, created_at, updated_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var record RunRecord
		var status string
		if err := rows.Scan(&record.RunID, &record.Runbook, &record.Environment, &status, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, err
		}
		record.Status = RunStatus(status)
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *stateStore) LogEvent(runID string, kind string, constructName string, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO events (run_id, kind, construct, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, kind, constructName, message, time.Now().UTC())
	return err
}

func (s *stateStore) GetEvents(runID string) ([]EventRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, kind, construct, message, created_at FROM events
		 WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var record EventRecord
		if err := rows.Scan(&record.RunID, &record.Kind, &record.Construct, &record.Message, &record.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// SaveSnapshot upserts the latest snapshot for (runbook, environment); the
// previous snapshot is what partial replays diff against, so only one is
// kept per pair.
func (s *stateStore) SaveSnapshot(runbook string, environment string, snapshotJSON []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO snapshots (runbook, environment, content, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(runbook, environment) DO UPDATE SET content = excluded.content, created_at = excluded.created_at`,
		runbook, environment, string(snapshotJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *stateStore) GetSnapshot(runbook string, environment string) ([]byte, error) {
	row := s.db.QueryRow(
		`SELECT content FROM snapshots WHERE runbook = ? AND environment = ?`,
		runbook, environment)
	var content string
	if err := row.Scan(&content); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return []byte(content), nil
}

func (s *stateStore) Close() error {
	return s.db.Close()
}

func generateRunID(runbook string) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}
	return runbook + "-" + hex.EncodeToString(suffix), nil
}
