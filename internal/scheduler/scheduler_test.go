package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type stubHealth struct {
	calls atomic.Int32
	err   atomic.Value
}

func (h *stubHealth) HealthCheck(context.Context) error {
	h.calls.Add(1)
	if err, ok := h.err.Load().(error); ok {
		return err
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newTestScheduler(t *testing.T, h HealthChecker, run RunFunc, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	}
	s, err := New(h, run, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("creating scheduler: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("starting scheduler: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestStartRegistersJobs(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		withRun  bool
		wantJobs []string
	}{
		{
			name:     "health only",
			cfg:      Config{Timezone: "UTC", HealthInterval: time.Minute},
			wantJobs: []string{HealthJob},
		},
		{
			name:     "health and regeneration",
			cfg:      Config{Timezone: "UTC", HealthInterval: time.Minute, RegenerateCron: "0 3 * * *"},
			withRun:  true,
			wantJobs: []string{HealthJob, RegenerateJob},
		},
		{
			name:     "cron without run func",
			cfg:      Config{Timezone: "Asia/Singapore", RegenerateCron: "0 3 * * *"},
			wantJobs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var run RunFunc
			if tt.withRun {
				run = func(context.Context) error { return nil }
			}
			s := newTestScheduler(t, &stubHealth{}, run, tt.cfg)

			got := make(map[string]bool)
			for _, j := range s.scheduler.Jobs() {
				got[j.Name()] = true
			}
			if len(got) != len(tt.wantJobs) {
				t.Fatalf("expected %d jobs, got %v", len(tt.wantJobs), got)
			}
			for _, name := range tt.wantJobs {
				if !got[name] {
					t.Errorf("job %s not registered", name)
				}
			}
		})
	}
}

func TestHealthCheckRunsOnStart(t *testing.T) {
	h := &stubHealth{}
	s := newTestScheduler(t, h, nil, Config{Timezone: "UTC", HealthInterval: time.Hour})

	waitFor(t, "first health check", func() bool { return h.calls.Load() > 0 })
	waitFor(t, "status update", func() bool { return !s.Status().CheckedAt.IsZero() })

	st := s.Status()
	if !st.Healthy {
		t.Errorf("expected healthy backend, got %+v", st)
	}
}

func TestHealthCheckTracksFailure(t *testing.T) {
	h := &stubHealth{}
	h.err.Store(errors.New("connection refused"))
	s := newTestScheduler(t, h, nil, Config{Timezone: "UTC", HealthInterval: time.Hour})

	waitFor(t, "failed health check", func() bool { return s.Status().Err != "" })
	if s.Status().Healthy {
		t.Error("expected unhealthy status")
	}
}

func TestRunNowRegenerates(t *testing.T) {
	var runs atomic.Int32
	run := func(context.Context) error {
		runs.Add(1)
		return ErrSkipped
	}
	s := newTestScheduler(t, &stubHealth{}, run, Config{Timezone: "UTC", RegenerateCron: "0 3 * * *"})

	if err := s.RunNow(RegenerateJob); err != nil {
		t.Fatalf("run now: %v", err)
	}
	waitFor(t, "regeneration", func() bool {
		at, _ := s.LastRun()
		return !at.IsZero()
	})

	if runs.Load() != 1 {
		t.Errorf("expected 1 run, got %d", runs.Load())
	}
	if _, err := s.LastRun(); !errors.Is(err, ErrSkipped) {
		t.Errorf("expected skipped run, got %v", err)
	}
}

func TestRunNowUnknownJob(t *testing.T) {
	s := newTestScheduler(t, &stubHealth{}, nil, Config{Timezone: "UTC"})
	if err := s.RunNow("nope"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestInvalidTimezoneFallsBackToUTC(t *testing.T) {
	s, err := New(&stubHealth{}, nil, Config{Timezone: "Not/AZone"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if s == nil {
		t.Fatal("expected scheduler")
	}
}
