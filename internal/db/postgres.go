package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mrwolf/journeygen/internal/models"
)

// PostgresLedger records runs in PostgreSQL, for deployments that share
// one ledger between several generators.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(ctx context.Context, databaseURL string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresLedger{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS generation_runs (
			id TEXT PRIMARY KEY,
			seed BIGINT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			backend TEXT NOT NULL,
			status TEXT NOT NULL,
			turns INTEGER NOT NULL DEFAULT 0,
			decisions INTEGER NOT NULL DEFAULT 0,
			degraded INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			error_message TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES generation_runs(id),
			kind TEXT NOT NULL,
			turn_id INTEGER NOT NULL,
			event TEXT NOT NULL,
			speaker TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON generation_runs (started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON run_events (run_id, turn_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (l *PostgresLedger) StartRun(ctx context.Context, run models.RunSummary) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO generation_runs (id, seed, start_date, end_date, backend, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Seed, run.StartDate, run.EndDate, run.Backend, models.RunRunning, run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

func (l *PostgresLedger) FinishRun(ctx context.Context, run models.RunSummary) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE generation_runs
		 SET status=$1, turns=$2, decisions=$3, degraded=$4, finished_at=$5, error_message=$6
		 WHERE id=$7`,
		run.Status, run.Turns, run.Decisions, run.Degraded, run.FinishedAt, run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

func (l *PostgresLedger) RecordEvents(ctx context.Context, runID string, events []models.Degradation) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(
			`INSERT INTO run_events (run_id, kind, turn_id, event, speaker, at, detail)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			runID, e.Kind, e.TurnID, string(e.Event), e.Speaker, e.At.UTC(), e.Detail,
		)
	}
	if err := l.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("record events: %w", err)
	}
	return nil
}

func (l *PostgresLedger) RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = defaultRecentRuns
	}

	rows, err := l.pool.Query(ctx,
		`SELECT id, seed, start_date, end_date, backend, status, turns, decisions, degraded, started_at, finished_at, error_message
		 FROM generation_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.RunSummary, 0, limit)
	for rows.Next() {
		var r models.RunSummary
		if err := rows.Scan(&r.ID, &r.Seed, &r.StartDate, &r.EndDate, &r.Backend, &r.Status,
			&r.Turns, &r.Decisions, &r.Degraded, &r.StartedAt, &r.FinishedAt, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func (l *PostgresLedger) RunEvents(ctx context.Context, runID string) ([]models.Degradation, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT kind, turn_id, event, speaker, at, detail
		 FROM run_events WHERE run_id=$1 ORDER BY turn_id, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Degradation
	for rows.Next() {
		var e models.Degradation
		var event string
		if err := rows.Scan(&e.Kind, &e.TurnID, &event, &e.Speaker, &e.At, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Event = models.EventType(event)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
