package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mrwolf/journeygen/internal/models"
)

const schema = `
-- One row per generation run
CREATE TABLE IF NOT EXISTS generation_runs (
    id TEXT PRIMARY KEY,
    seed INTEGER NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    backend TEXT NOT NULL,
    status TEXT NOT NULL,
    turns INTEGER NOT NULL DEFAULT 0,
    decisions INTEGER NOT NULL DEFAULT 0,
    degraded INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    error_message TEXT
);

-- Quality degradations logged during a run
CREATE TABLE IF NOT EXISTS run_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES generation_runs(id),
    kind TEXT NOT NULL,
    turn_id INTEGER NOT NULL,
    event TEXT NOT NULL,
    speaker TEXT NOT NULL,
    at TEXT NOT NULL,
    detail TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON generation_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_events_run ON run_events(run_id, turn_id);
`

// DB is the SQLite run ledger
type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// StartRun records a run as running
func (db *DB) StartRun(ctx context.Context, run models.RunSummary) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO generation_runs (id, seed, start_date, end_date, backend, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Seed, run.StartDate, run.EndDate, run.Backend, models.RunRunning, run.StartedAt.UTC().Format(time.RFC3339))
	return err
}

// FinishRun stores the outcome and counters of a run
func (db *DB) FinishRun(ctx context.Context, run models.RunSummary) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE generation_runs
		SET status = ?, turns = ?, decisions = ?, degraded = ?, finished_at = ?, error_message = ?
		WHERE id = ?
	`, run.Status, run.Turns, run.Decisions, run.Degraded, finished, run.Error, run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// RecordEvents stores degradations in one transaction
func (db *DB) RecordEvents(ctx context.Context, runID string, events []models.Degradation) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_events (run_id, kind, turn_id, event, speaker, at, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, runID, e.Kind, e.TurnID, string(e.Event), e.Speaker, e.At.UTC().Format(time.RFC3339), e.Detail); err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
	}
	return tx.Commit()
}

// RecentRuns returns the latest runs, newest first
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = defaultRecentRuns
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, seed, start_date, end_date, backend, status, turns, decisions, degraded, started_at, finished_at, error_message
		FROM generation_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		var run models.RunSummary
		var startedStr string
		var finishedStr, errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.Seed, &run.StartDate, &run.EndDate, &run.Backend, &run.Status,
			&run.Turns, &run.Decisions, &run.Degraded, &startedStr, &finishedStr, &errMsg); err != nil {
			return nil, err
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, startedStr)
		if finishedStr.Valid {
			t, _ := time.Parse(time.RFC3339, finishedStr.String)
			run.FinishedAt = &t
		}
		if errMsg.Valid {
			run.Error = errMsg.String
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunEvents returns the degradations of one run in turn order
func (db *DB) RunEvents(ctx context.Context, runID string) ([]models.Degradation, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT kind, turn_id, event, speaker, at, detail
		FROM run_events
		WHERE run_id = ?
		ORDER BY turn_id, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Degradation
	for rows.Next() {
		var e models.Degradation
		var event, atStr string
		var detail sql.NullString
		if err := rows.Scan(&e.Kind, &e.TurnID, &event, &e.Speaker, &atStr, &detail); err != nil {
			return nil, err
		}
		e.Event = models.EventType(event)
		e.At, _ = time.Parse(time.RFC3339, atStr)
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}
