package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mrwolf/journeygen/internal/models"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "journeygen-db-test-*.db")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	tmpFile.Close()

	db, err := Open(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("opening database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(tmpFile.Name())
	}

	return db, cleanup
}

func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	started := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b"} {
		run := models.RunSummary{
			ID:        id,
			Seed:      int64(42 + i),
			StartDate: "2025-01-01",
			EndDate:   "2025-08-28",
			Backend:   "offline",
			StartedAt: started.Add(time.Duration(i) * time.Hour),
		}
		if err := l.StartRun(ctx, run); err != nil {
			t.Fatalf("starting %s: %v", id, err)
		}
	}

	finished := started.Add(90 * time.Minute)
	err := l.FinishRun(ctx, models.RunSummary{
		ID:         "run-b",
		Seed:       43,
		StartDate:  "2025-01-01",
		EndDate:    "2025-08-28",
		Backend:    "offline",
		Status:     models.RunCompleted,
		Turns:      512,
		Decisions:  31,
		Degraded:   2,
		FinishedAt: &finished,
	})
	if err != nil {
		t.Fatalf("finishing run: %v", err)
	}

	if err := l.FinishRun(ctx, models.RunSummary{ID: "missing", Status: models.RunFailed}); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}

	events := []models.Degradation{
		{Kind: models.DegradedFallback, TurnID: 3, Event: models.EventExerciseNudge, Speaker: "Advik", At: started, Detail: "backend unavailable"},
		{Kind: models.DegradedDuplicateExhausted, TurnID: 9, Event: models.EventCheckIn, Speaker: "Ruby", At: started.Add(time.Hour)},
	}
	if err := l.RecordEvents(ctx, "run-b", events); err != nil {
		t.Fatalf("recording events: %v", err)
	}
	if err := l.RecordEvents(ctx, "run-b", nil); err != nil {
		t.Fatalf("recording no events: %v", err)
	}

	runs, err := l.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("listing runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	latest := runs[0]
	if latest.ID != "run-b" {
		t.Errorf("expected newest run first, got %s", latest.ID)
	}
	if latest.Status != models.RunCompleted || latest.Turns != 512 || latest.Decisions != 31 {
		t.Errorf("unexpected run %+v", latest)
	}
	if latest.FinishedAt == nil || !latest.FinishedAt.Equal(finished) {
		t.Errorf("expected finished at %v, got %v", finished, latest.FinishedAt)
	}
	if !latest.StartedAt.Equal(started.Add(time.Hour)) {
		t.Errorf("start time not kept: %v", latest.StartedAt)
	}
	if runs[1].Status != models.RunRunning {
		t.Errorf("expected unfinished run to be running, got %s", runs[1].Status)
	}

	limited, err := l.RecentRuns(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("expected 1 run with limit, got %d (%v)", len(limited), err)
	}

	got, err := l.RunEvents(ctx, "run-b")
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Kind != models.DegradedFallback || got[0].Event != models.EventExerciseNudge || got[0].Detail != "backend unavailable" {
		t.Errorf("unexpected event %+v", got[0])
	}
	if !got[1].At.Equal(started.Add(time.Hour)) {
		t.Errorf("event time not kept: %v", got[1].At)
	}
}

func TestSQLiteLedger(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	exerciseLedger(t, db)
}

func TestMemoryLedger(t *testing.T) {
	exerciseLedger(t, NewMemoryLedger())
}

func TestNewLedger(t *testing.T) {
	ctx := context.Background()

	l, err := NewLedger(ctx, "")
	if err != nil {
		t.Fatalf("memory ledger: %v", err)
	}
	if _, ok := l.(*MemoryLedger); !ok {
		t.Errorf("expected memory ledger, got %T", l)
	}

	path := filepath.Join(t.TempDir(), "runs.db")
	l, err = NewLedger(ctx, "sqlite://"+path)
	if err != nil {
		t.Fatalf("sqlite ledger: %v", err)
	}
	defer l.Close()
	if _, ok := l.(*DB); !ok {
		t.Errorf("expected sqlite ledger, got %T", l)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestPostgresLedger(t *testing.T) {
	dsn := os.Getenv("JOURNEY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("JOURNEY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	l, err := NewPostgresLedger(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer l.Close()

	if _, err := l.pool.Exec(ctx, `TRUNCATE run_events, generation_runs`); err != nil {
		t.Fatalf("truncating: %v", err)
	}
	exerciseLedger(t, l)
}
