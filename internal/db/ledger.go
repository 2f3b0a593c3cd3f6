package db

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/mrwolf/journeygen/internal/models"
)

// ErrRunNotFound is returned when finishing a run that was never started
var ErrRunNotFound = errors.New("run not found")

// Ledger records generation runs and the degradations logged during them
type Ledger interface {
	StartRun(ctx context.Context, run models.RunSummary) error
	FinishRun(ctx context.Context, run models.RunSummary) error
	RecordEvents(ctx context.Context, runID string, events []models.Degradation) error
	RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
	RunEvents(ctx context.Context, runID string) ([]models.Degradation, error)
	Close() error
}

// NewLedger picks the ledger for dsn: postgres:// URLs use Postgres, an
// empty dsn keeps runs in memory, anything else is a SQLite path
// (an optional sqlite:// prefix is stripped).
func NewLedger(ctx context.Context, dsn string) (Ledger, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return NewMemoryLedger(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresLedger(ctx, dsn)
	default:
		return Open(strings.TrimPrefix(dsn, "sqlite://"))
	}
}

const defaultRecentRuns = 20

// MemoryLedger keeps runs in process, for local use and tests
type MemoryLedger struct {
	mu     sync.RWMutex
	runs   []models.RunSummary
	events map[string][]models.Degradation
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{events: make(map[string][]models.Degradation)}
}

func (l *MemoryLedger) StartRun(_ context.Context, run models.RunSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	run.Status = models.RunRunning
	l.runs = append(l.runs, run)
	return nil
}

func (l *MemoryLedger) FinishRun(_ context.Context, run models.RunSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.runs {
		if l.runs[i].ID == run.ID {
			run.StartedAt = l.runs[i].StartedAt
			l.runs[i] = run
			return nil
		}
	}
	return ErrRunNotFound
}

func (l *MemoryLedger) RecordEvents(_ context.Context, runID string, events []models.Degradation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[runID] = append(l.events[runID], events...)
	return nil
}

func (l *MemoryLedger) RecentRuns(_ context.Context, limit int) ([]models.RunSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 {
		limit = defaultRecentRuns
	}
	out := append([]models.RunSummary(nil), l.runs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) RunEvents(_ context.Context, runID string) ([]models.Degradation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Degradation(nil), l.events[runID]...), nil
}

func (l *MemoryLedger) Close() error { return nil }
