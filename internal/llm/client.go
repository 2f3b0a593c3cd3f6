package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
	"github.com/mrwolf/journeygen/internal/observability"
	"github.com/rs/zerolog"
)

var (
	// ErrBackendUnavailable is returned when no valid completion could be
	// obtained within the attempt budget. Callers fall back locally.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrInvalidOutput marks a completion that was empty or too long
	ErrInvalidOutput = errors.New("invalid completion")
)

// Request is a single completion request
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Backend is the opaque text generator behind the client
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// HealthChecker is implemented by backends that can be probed cheaply
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options tune the retry, timeout and validation policy of a Client
type Options struct {
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
	MaxChars int
	Cache    Cache
	Clock    clockwork.Clock
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// Client wraps a Backend with a per-call timeout, bounded retries with
// exponential backoff, output validation and an optional completion cache.
type Client struct {
	backend  Backend
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	maxChars int
	cache    Cache
	clock    clockwork.Clock
	metrics  *observability.Metrics
	log      zerolog.Logger
}

// NewClient creates a client around backend
func NewClient(backend Backend, opts Options) *Client {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Client{
		backend:  backend,
		timeout:  opts.Timeout,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		maxChars: opts.MaxChars,
		cache:    opts.Cache,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
}

// Backend returns the wrapped backend
func (c *Client) Backend() Backend {
	return c.backend
}

// Complete returns validated text for prompt. Deterministic requests
// (temperature 0) are served from the cache when one is configured.
// Any failure after the last attempt wraps ErrBackendUnavailable; a
// cancelled ctx is returned as is.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	req := Request{Prompt: prompt, MaxTokens: maxTokens, Temperature: temperature}

	cacheable := c.cache != nil && temperature == 0
	key := ""
	if cacheable {
		key = c.cacheKey(req)
		text, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.log.Warn().Err(err).Msg("completion cache read failed")
		}
		c.metrics.ObserveCache(ok)
		if ok {
			return text, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 && c.backoff > 0 {
			// Exponential backoff: backoff, 2*backoff, ...
			wait := c.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-c.clock.After(wait):
			}
		}

		text, err := c.attempt(ctx, req)
		if err == nil {
			if cacheable {
				if err := c.cache.Set(ctx, key, text); err != nil {
					c.log.Warn().Err(err).Msg("completion cache write failed")
				}
			}
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		c.log.Debug().Err(err).Int("attempt", attempt+1).Str("backend", c.backend.Name()).Msg("completion attempt failed")

		// an offline backend will not recover between attempts
		if errors.Is(err, ErrBackendUnavailable) {
			break
		}
	}

	if errors.Is(lastErr, ErrBackendUnavailable) {
		return "", lastErr
	}
	return "", fmt.Errorf("%w: after %d attempts: %w", ErrBackendUnavailable, c.attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, req Request) (string, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := c.clock.Now()
	text, err := c.backend.Complete(callCtx, req)
	if err == nil {
		text, err = c.validate(text)
	}

	outcome := "ok"
	switch {
	case errors.Is(err, ErrInvalidOutput):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	}
	c.metrics.ObserveBackendCall(c.backend.Name(), outcome, c.clock.Since(start))

	return text, err
}

func (c *Client) validate(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOutput)
	}
	if c.maxChars > 0 && len([]rune(text)) > c.maxChars {
		return "", fmt.Errorf("%w: %d characters exceeds limit %d", ErrInvalidOutput, len([]rune(text)), c.maxChars)
	}
	return text, nil
}

func (c *Client) cacheKey(req Request) string {
	h := xxhash.New()
	h.WriteString(c.backend.Name())
	h.WriteString("\x00")
	h.WriteString(strconv.Itoa(req.MaxTokens))
	h.WriteString("\x00")
	h.WriteString(req.Prompt)
	return strconv.FormatUint(h.Sum64(), 16)
}

// HealthCheck probes the backend when it supports it
func (c *Client) HealthCheck(ctx context.Context) error {
	hc, ok := c.backend.(HealthChecker)
	if !ok {
		return nil
	}
	return hc.HealthCheck(ctx)
}

// Offline is a backend that never produces text. It selects template-only
// generation.
type Offline struct{}

func (Offline) Name() string { return "offline" }

func (Offline) Complete(context.Context, Request) (string, error) {
	return "", fmt.Errorf("%w: offline backend", ErrBackendUnavailable)
}
