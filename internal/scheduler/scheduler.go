package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Job names
const (
	HealthJob     = "backend-health"
	RegenerateJob = "regenerate"
)

const (
	healthTimeout   = 10 * time.Second
	regenerateLimit = 2 * time.Hour
)

// HealthChecker probes the text generation backend
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RunFunc performs one regeneration run
type RunFunc func(ctx context.Context) error

// ErrSkipped may be returned by a RunFunc when it declined to run, for
// instance because another run holds the lock.
var ErrSkipped = errors.New("run skipped")

// Scheduler manages serve-mode background jobs
type Scheduler struct {
	scheduler  gocron.Scheduler
	health     HealthChecker
	regenerate RunFunc
	cfg        Config
	clock      clockwork.Clock
	log        zerolog.Logger

	mu        sync.RWMutex
	status    Status
	lastRunAt time.Time
	lastRun   error
}

// Config holds scheduler configuration
type Config struct {
	Timezone       string
	HealthInterval time.Duration
	RegenerateCron string
	Clock          clockwork.Clock
}

// Status is the last observed backend health
type Status struct {
	Healthy   bool
	CheckedAt time.Time
	Err       string
}

// New creates a scheduler. regenerate may be nil when no regeneration cron
// is configured.
func New(health HealthChecker, regenerate RunFunc, cfg Config, log zerolog.Logger) (*Scheduler, error) {
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("falling back to UTC")
		tz = time.UTC
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s, err := gocron.NewScheduler(
		gocron.WithLocation(tz),
		gocron.WithClock(clock),
		gocron.WithLogger(gocronLogger{log: log}),
	)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		scheduler:  s,
		health:     health,
		regenerate: regenerate,
		cfg:        cfg,
		clock:      clock,
		log:        log,
	}, nil
}

// Start registers all jobs and starts the scheduler
func (s *Scheduler) Start() error {
	if s.cfg.HealthInterval > 0 && s.health != nil {
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(s.cfg.HealthInterval),
			gocron.NewTask(s.checkHealth),
			gocron.WithName(HealthJob),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return err
		}
	}

	if s.cfg.RegenerateCron != "" && s.regenerate != nil {
		_, err := s.scheduler.NewJob(
			gocron.CronJob(s.cfg.RegenerateCron, false),
			gocron.NewTask(s.runRegenerate),
			gocron.WithName(RegenerateJob),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}
	}

	s.scheduler.Start()
	s.log.Info().Int("jobs", len(s.scheduler.Jobs())).Msg("scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// RunNow triggers a registered job immediately
func (s *Scheduler) RunNow(name string) error {
	for _, j := range s.scheduler.Jobs() {
		if j.Name() == name {
			return j.RunNow()
		}
	}
	return errors.New("no job named " + name)
}

// Status returns the last backend health check result
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastRun returns when the scheduled regeneration last finished and its error
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRunAt, s.lastRun
}

func (s *Scheduler) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	err := s.health.HealthCheck(ctx)
	st := Status{Healthy: err == nil, CheckedAt: s.clock.Now()}
	if err != nil {
		st.Err = err.Error()
	}

	s.mu.Lock()
	wasHealthy := s.status.Healthy || s.status.CheckedAt.IsZero()
	s.status = st
	s.mu.Unlock()

	switch {
	case err != nil && wasHealthy:
		s.log.Warn().Err(err).Msg("backend unreachable, runs will use fallback text")
	case err != nil:
		s.log.Debug().Err(err).Msg("backend still unreachable")
	case !wasHealthy:
		s.log.Info().Msg("backend reachable again")
	}
}

func (s *Scheduler) runRegenerate() {
	ctx, cancel := context.WithTimeout(context.Background(), regenerateLimit)
	defer cancel()

	s.log.Info().Msg("scheduled regeneration starting")
	err := s.regenerate(ctx)

	s.mu.Lock()
	s.lastRunAt = s.clock.Now()
	s.lastRun = err
	s.mu.Unlock()

	switch {
	case errors.Is(err, ErrSkipped):
		s.log.Info().Msg("scheduled regeneration skipped, a run is in progress")
	case err != nil:
		s.log.Error().Err(err).Msg("scheduled regeneration failed")
	}
}

// gocronLogger routes scheduler logs through zerolog
type gocronLogger struct {
	log zerolog.Logger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.log.Debug().Fields(args).Msg(msg) }
func (l gocronLogger) Info(msg string, args ...any)  { l.log.Info().Fields(args).Msg(msg) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.log.Warn().Fields(args).Msg(msg) }
func (l gocronLogger) Error(msg string, args ...any) { l.log.Error().Fields(args).Msg(msg) }
