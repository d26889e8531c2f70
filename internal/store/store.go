// Package store persists pipeline runs and decision audit records in a local
// sqlite database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/openrecords/foiabuddy/internal/agent"
	"github.com/openrecords/foiabuddy/internal/pipeline"
)

// RunStore keeps run snapshots and decision records. Runs are upserted by
// run id; decisions are append-only.
type RunStore struct {
	DB *sql.DB
}

// NewRunStore opens (or creates) the database at dbPath.
func NewRunStore(dbPath string) (*RunStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			status TEXT,
			foia_request TEXT,
			error TEXT,
			snapshot TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			agent_name TEXT,
			decision TEXT,
			reasoning TEXT,
			confidence REAL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}

	return &RunStore{DB: db}, nil
}

// Close releases the underlying database handle.
func (s *RunStore) Close() error { return s.DB.Close() }

// SaveRun upserts the run snapshot keyed by run id.
func (s *RunStore) SaveRun(snap pipeline.Snapshot, foiaRequest string) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	query := `INSERT INTO runs (run_id, status, foia_request, error, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			snapshot = excluded.snapshot,
			updated_at = datetime('now')`
	_, err = s.DB.Exec(query, snap.RunID, string(snap.Status), foiaRequest, snap.Error, string(blob))
	return err
}

// GetRun returns the stored snapshot for a run id, or sql.ErrNoRows.
func (s *RunStore) GetRun(runID string) (pipeline.Snapshot, error) {
	var blob string
	err := s.DB.QueryRow(`SELECT snapshot FROM runs WHERE run_id = ?`, runID).Scan(&blob)
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	var snap pipeline.Snapshot
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return pipeline.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	FOIARequest string    `json:"foia_request"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.Query(
		`SELECT run_id, status, foia_request, error, updated_at FROM runs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Status, &r.FOIARequest, &r.Error, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendDecision records one audit decision for a run.
func (s *RunStore) AppendDecision(runID string, d agent.Decision) error {
	query := `INSERT INTO decisions (run_id, agent_name, decision, reasoning, confidence, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`
	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.DB.Exec(query, runID, d.AgentName, d.Decision, d.Reasoning, d.Confidence, ts)
	return err
}

// ListDecisions returns the audit trail for a run in insertion order.
func (s *RunStore) ListDecisions(runID string) ([]agent.Decision, error) {
	rows, err := s.DB.Query(
		`SELECT agent_name, decision, reasoning, confidence, timestamp FROM decisions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []agent.Decision
	for rows.Next() {
		var d agent.Decision
		if err := rows.Scan(&d.AgentName, &d.Decision, &d.Reasoning, &d.Confidence, &d.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
