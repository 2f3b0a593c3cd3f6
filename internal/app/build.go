package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mrwolf/journeygen/internal/config"
	"github.com/mrwolf/journeygen/internal/db"
	"github.com/mrwolf/journeygen/internal/llm"
	"github.com/mrwolf/journeygen/internal/observability"
	"github.com/mrwolf/journeygen/internal/prompts"
	"github.com/mrwolf/journeygen/internal/vault"
	"github.com/rs/zerolog"
)

const metricsNamespace = "journeygen"

// App holds every long-lived component of the generator
type App struct {
	Config  *config.Config
	LLM     *llm.Client
	Prompts *prompts.Store
	Vault   *vault.Vault
	Ledger  db.Ledger
	Metrics *observability.Metrics
	Clock   clockwork.Clock

	log     zerolog.Logger
	cache   llm.Cache
	running sync.Mutex // one generation run at a time
}

type options struct {
	clock   clockwork.Clock
	backend llm.Backend
	metrics *observability.Metrics
}

type Option func(*options)

// WithClock replaces the wall clock, mainly for tests
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithBackend bypasses backend selection from configuration
func WithBackend(b llm.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithMetrics shares a metrics registry instead of creating one
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Build wires the app from configuration. Call Close on shutdown.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics(metricsNamespace)
	}

	backend := o.backend
	if backend == nil {
		var err error
		backend, err = newBackend(ctx, cfg.Backend, cfg.Generation.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("backend init failed: %w", err)
		}
	}

	cache, err := llm.NewCache(ctx, cfg.Backend.CacheURL, cfg.Backend.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("completion cache init failed: %w", err)
	}

	client := llm.NewClient(backend, llm.Options{
		Timeout:  cfg.Backend.Timeout,
		Attempts: cfg.Backend.Attempts,
		Backoff:  cfg.Backend.Backoff,
		MaxChars: cfg.Backend.MaxChars,
		Cache:    cache,
		Clock:    o.clock,
		Metrics:  o.metrics,
		Logger:   log.With().Str("component", "llm").Logger(),
	})

	store := prompts.NewStore(log.With().Str("component", "prompts").Logger(), o.clock)
	if cfg.Output.PromptsDir != "" {
		if err := store.LoadDir(cfg.Output.PromptsDir); err != nil {
			closeCache(cache)
			return nil, fmt.Errorf("loading prompt overrides: %w", err)
		}
	}
	if err := store.Validate(ctx); err != nil {
		closeCache(cache)
		return nil, fmt.Errorf("%w: prompt templates: %w", config.ErrConfigInvalid, err)
	}
	if cfg.Output.PromptLog != "" {
		store.SetUsageRecorder(vault.NewPromptLog(cfg.Output.PromptLog))
	}

	ledger, err := db.NewLedger(ctx, cfg.Ledger.DSN)
	if err != nil {
		closeCache(cache)
		return nil, fmt.Errorf("run ledger init failed: %w", err)
	}

	log.Info().
		Str("backend", backend.Name()).
		Str("model", cfg.Backend.ModelName()).
		Str("output", cfg.Output.Dir).
		Bool("cache", cache != nil).
		Msg("generator ready")

	return &App{
		Config:  cfg,
		LLM:     client,
		Prompts: store,
		Vault:   vault.NewVault(cfg.Output.Dir),
		Ledger:  ledger,
		Metrics: o.metrics,
		Clock:   o.clock,
		log:     log,
		cache:   cache,
	}, nil
}

func newBackend(ctx context.Context, cfg config.BackendConfig, maxTokens int) (llm.Backend, error) {
	switch cfg.Kind {
	case config.BackendOllama:
		return llm.NewOllama(cfg.URL, cfg.ModelName(), cfg.Timeout), nil
	case config.BackendOpenAI:
		return llm.NewOpenAI(ctx, llm.OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.URL,
			Model:     cfg.ModelName(),
			MaxTokens: maxTokens,
		})
	case config.BackendOffline:
		return llm.Offline{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrConfigInvalid, cfg.Kind)
	}
}

func closeCache(c llm.Cache) error {
	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Close releases the ledger and cache connections
func (a *App) Close() error {
	return errors.Join(a.Ledger.Close(), closeCache(a.cache))
}
