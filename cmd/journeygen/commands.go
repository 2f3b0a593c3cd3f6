package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/mrwolf/journeygen/internal/api"
	"github.com/mrwolf/journeygen/internal/app"
	"github.com/mrwolf/journeygen/internal/config"
	"github.com/mrwolf/journeygen/internal/scheduler"
	"github.com/mrwolf/journeygen/internal/timeline"
	"github.com/mrwolf/journeygen/internal/vault"
	"github.com/rs/zerolog"
)

func runGenerate(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Generate(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %d messages, %d decisions, %d degraded (seed %d) in %s\n",
		report.RunID,
		len(report.Timeline.Messages),
		len(report.Decisions),
		len(report.Degraded),
		report.Seed,
		report.Duration.Round(time.Millisecond),
	)
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	regenerate := func(ctx context.Context) error {
		_, err := a.Generate(ctx)
		if errors.Is(err, app.ErrRunInProgress) {
			return scheduler.ErrSkipped
		}
		return err
	}

	sched, err := scheduler.New(a.LLM, regenerate, scheduler.Config{
		Timezone:       cfg.Serve.Timezone,
		HealthInterval: cfg.Serve.HealthInterval,
		RegenerateCron: cfg.Serve.RegenerateCron,
		Clock:          a.Clock,
	}, log.With().Str("component", "scheduler").Logger())
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	router := api.NewRouter(api.Deps{
		Vault:       a.Vault,
		Ledger:      a.Ledger,
		Metrics:     a.Metrics,
		Backend:     sched,
		BackendName: a.LLM.Backend().Name(),
		Runner:      a,
		Clock:       a.Clock,
		Logger:      log.With().Str("component", "api").Logger(),
		Version:     version,
	})

	server := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Serve.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			sched.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info().Msg("shutting down gracefully")

	// Give ongoing requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
	if err := sched.Stop(); err != nil {
		log.Warn().Err(err).Msg("scheduler shutdown")
	}

	log.Info().Msg("shutdown complete")
	return nil
}

func runValidate(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fixRoles := fs.Bool("fix-roles", false, "rewrite sender roles from the roster and persist")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfigInvalid, err)
	}

	v := vault.NewVault(cfg.Output.Dir)
	tl, err := v.LoadTimeline()
	if err != nil {
		return fmt.Errorf("loading timeline: %w", err)
	}
	decisions, err := v.ListDecisions()
	if err != nil {
		return fmt.Errorf("loading decisions: %w", err)
	}

	if *fixRoles {
		if n := timeline.FixRoles(tl.Messages, cfg.Roster); n > 0 {
			if err := v.Persist(*tl, decisions); err != nil {
				return fmt.Errorf("persisting fixed roles: %w", err)
			}
			log.Info().Int("turns", n).Msg("sender roles rewritten")
		}
	}

	err = errors.Join(
		timeline.Verify(tl.Messages, decisions),
		timeline.VerifyRoster(tl.Messages, cfg.Roster),
	)
	if err != nil {
		return fmt.Errorf("timeline invalid: %w", err)
	}

	log.Info().
		Int("messages", len(tl.Messages)).
		Int("decisions", len(decisions)).
		Str("dir", v.BasePath()).
		Msg("timeline valid")
	return nil
}
