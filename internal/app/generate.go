package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/mrwolf/journeygen/internal/dedup"
	"github.com/mrwolf/journeygen/internal/models"
	"github.com/mrwolf/journeygen/internal/rationale"
	"github.com/mrwolf/journeygen/internal/timeline"
)

// ErrRunInProgress is returned when a run is requested while one is active
var ErrRunInProgress = errors.New("generation run already in progress")

// Report describes one finished run
type Report struct {
	RunID     string
	Seed      int64
	Timeline  models.Timeline
	Decisions []models.DecisionRecord
	Degraded  []models.Degradation
	Stats     timeline.Stats
	Duration  time.Duration
}

// Generate runs the timeline generator over the configured period and
// persists the artifacts. Runs are serialized; a second call while one is
// active fails with ErrRunInProgress.
func (a *App) Generate(ctx context.Context) (*Report, error) {
	if !a.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer a.running.Unlock()

	start, end, err := a.Config.Period()
	if err != nil {
		return nil, err
	}

	seed := a.Config.Seed
	if seed == 0 {
		seed = a.Clock.Now().UnixNano()
	}
	runID := uuid.NewString()
	began := a.Clock.Now()
	backend := a.LLM.Backend().Name()

	log := a.log.With().Str("run_id", runID).Logger()
	log.Info().
		Int64("seed", seed).
		Str("start", a.Config.StartDate).
		Str("end", a.Config.EndDate).
		Str("backend", backend).
		Msg("generation run started")

	summary := models.RunSummary{
		ID:        runID,
		Seed:      seed,
		StartDate: a.Config.StartDate,
		EndDate:   a.Config.EndDate,
		Backend:   backend,
		Status:    models.RunRunning,
		StartedAt: began.UTC(),
	}
	if err := a.Ledger.StartRun(ctx, summary); err != nil {
		log.Warn().Err(err).Msg("recording run start")
	}

	report, runErr := a.run(ctx, runID, seed, start, end)

	finished := a.Clock.Now().UTC()
	summary.FinishedAt = &finished
	summary.Status = models.RunCompleted
	if runErr != nil {
		summary.Status = models.RunFailed
		summary.Error = runErr.Error()
	}
	if report != nil {
		summary.Turns = len(report.Timeline.Messages)
		summary.Decisions = len(report.Decisions)
		summary.Degraded = len(report.Degraded)
		if err := a.Ledger.RecordEvents(context.WithoutCancel(ctx), runID, report.Degraded); err != nil {
			log.Warn().Err(err).Msg("recording run events")
		}
	}
	if err := a.Ledger.FinishRun(context.WithoutCancel(ctx), summary); err != nil {
		log.Warn().Err(err).Msg("recording run outcome")
	}

	duration := a.Clock.Since(began)
	a.Metrics.ObserveRun(summary.Status, duration)

	if runErr != nil {
		log.Error().Err(runErr).Dur("duration", duration).Msg("generation run failed")
		return nil, runErr
	}

	report.Duration = duration
	log.Info().
		Int("turns", report.Stats.Turns).
		Int("decisions", report.Stats.Decisions).
		Int("fallback", report.Stats.Fallback).
		Int("paraphrased", report.Stats.Paraphrased).
		Int("variants", report.Stats.Variant).
		Dur("duration", duration).
		Msg("generation run completed")
	return report, nil
}

// run does the work of one generation; the returned report is partial
// when err is not nil.
func (a *App) run(ctx context.Context, runID string, seed int64, start, end time.Time) (*Report, error) {
	cfg := a.Config
	log := a.log.With().Str("run_id", runID).Logger()

	explainer := rationale.New(a.LLM, a.Prompts, rationale.Options{
		Member: cfg.Member,
		Clock:  a.Clock,
		Logger: log.With().Str("component", "rationale").Logger(),
	})

	gen, err := timeline.New(cfg, timeline.Deps{
		LLM:       a.LLM,
		Prompts:   a.Prompts,
		Explainer: explainer,
		Dedup:     dedup.New(cfg.Dedup.Threshold, cfg.Dedup.Window),
		Rand:      rand.New(rand.NewSource(seed)),
		Logger:    log.With().Str("component", "timeline").Logger(),
		Metrics:   a.Metrics,
	})
	if err != nil {
		return nil, err
	}

	res, err := gen.Generate(ctx, start, end)
	if err != nil {
		return partialReport(runID, seed, res), fmt.Errorf("generating timeline: %w", err)
	}
	if err := timeline.Verify(res.Turns, res.Decisions); err != nil {
		return partialReport(runID, seed, res), fmt.Errorf("timeline failed verification: %w", err)
	}

	tl := models.Timeline{
		Member:      cfg.Member,
		GeneratedAt: a.Clock.Now().UTC(),
		Period: models.Period{
			StartDate: cfg.StartDate,
			EndDate:   cfg.EndDate,
			Days:      res.Stats.Days,
		},
		Meta:     summarize(res, seed, a.LLM.Backend().Name(), runID),
		Messages: res.Turns,
	}

	report := &Report{
		RunID:     runID,
		Seed:      seed,
		Timeline:  tl,
		Decisions: res.Decisions,
		Degraded:  res.Degraded,
		Stats:     res.Stats,
	}
	if err := a.Vault.Persist(tl, res.Decisions); err != nil {
		return report, fmt.Errorf("persisting artifacts: %w", err)
	}
	return report, nil
}

func partialReport(runID string, seed int64, res *timeline.Result) *Report {
	if res == nil {
		return nil
	}
	return &Report{
		RunID:     runID,
		Seed:      seed,
		Timeline:  models.Timeline{Messages: res.Turns},
		Decisions: res.Decisions,
		Degraded:  res.Degraded,
		Stats:     res.Stats,
	}
}

func summarize(res *timeline.Result, seed int64, backend, runID string) models.TimelineMeta {
	meta := models.TimelineMeta{
		TotalMessages: len(res.Turns),
		Decisions:     len(res.Decisions),
		Seed:          seed,
		Backend:       backend,
		RunID:         runID,
	}

	checkins, adherent := 0, 0
	for _, t := range res.Turns {
		if t.Role == models.CategoryMember {
			meta.MemberMessages++
		}
		if t.Meta.Quality == models.QualityFallback || t.Meta.Quality == models.QualityVariant {
			meta.DegradedTurns++
		}
		if t.Meta.AdherenceFlag != nil {
			checkins++
			if *t.Meta.AdherenceFlag {
				adherent++
			}
		}
	}
	if checkins > 0 {
		pct := float64(adherent) / float64(checkins)
		meta.AdherencePctObserved = &pct
	}
	return meta
}
