package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted returns its responses in order, then repeats the last one
type scripted struct {
	mu        sync.Mutex
	responses []response
	calls     []Request
}

type response struct {
	text string
	err  error
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Complete(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	i := len(s.calls) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i].text, s.responses[i].err
}

func newTestClient(b Backend, opts Options) *Client {
	opts.Logger = zerolog.Nop()
	if opts.Attempts == 0 {
		opts.Attempts = 2
	}
	return NewClient(b, opts)
}

func TestCompleteSuccess(t *testing.T) {
	b := &scripted{responses: []response{{text: "  Keep going, the plan is working.  "}}}
	c := newTestClient(b, Options{MaxChars: 100})

	text, err := c.Complete(context.Background(), "prompt", 50, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "Keep going, the plan is working.", text)
	require.Len(t, b.calls, 1)
	assert.Equal(t, 50, b.calls[0].MaxTokens)
	assert.Equal(t, 0.3, b.calls[0].Temperature)
}

func TestCompleteRetriesThenSucceeds(t *testing.T) {
	b := &scripted{responses: []response{
		{err: errors.New("connection reset")},
		{text: "Second time lucky."},
	}}
	c := newTestClient(b, Options{})

	text, err := c.Complete(context.Background(), "prompt", 50, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "Second time lucky.", text)
	assert.Len(t, b.calls, 2)
}

func TestCompleteRejectsInvalidOutput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t"},
		{"too long", strings.Repeat("a", 101)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &scripted{responses: []response{{text: tt.text}}}
			c := newTestClient(b, Options{MaxChars: 100})

			text, err := c.Complete(context.Background(), "prompt", 50, 0.3)
			assert.Empty(t, text)
			assert.ErrorIs(t, err, ErrBackendUnavailable)
			assert.ErrorIs(t, err, ErrInvalidOutput)
			assert.Len(t, b.calls, 2)
		})
	}
}

func TestCompleteOfflineStopsEarly(t *testing.T) {
	c := newTestClient(Offline{}, Options{Attempts: 5, Backoff: time.Hour})

	_, err := c.Complete(context.Background(), "prompt", 50, 0)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestCompleteBackoffUsesClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := &scripted{responses: []response{
		{err: errors.New("timeout")},
		{text: "After the wait."},
	}}
	c := newTestClient(b, Options{Backoff: 2 * time.Second, Clock: clock})

	done := make(chan struct{})
	var text string
	var err error
	go func() {
		text, err = c.Complete(context.Background(), "prompt", 50, 0.3)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)
	<-done

	require.NoError(t, err)
	assert.Equal(t, "After the wait.", text)
}

func TestCompleteCancelled(t *testing.T) {
	b := &scripted{responses: []response{{err: errors.New("boom")}}}
	c := newTestClient(b, Options{Backoff: time.Hour, Clock: clockwork.NewFakeClock()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, "prompt", 50, 0.3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrBackendUnavailable)
}

func TestCompleteCachesDeterministicPrompts(t *testing.T) {
	b := &scripted{responses: []response{{text: "Cached answer."}}}
	c := newTestClient(b, Options{Cache: NewMemoryCache()})

	for i := 0; i < 3; i++ {
		text, err := c.Complete(context.Background(), "same prompt", 50, 0)
		require.NoError(t, err)
		assert.Equal(t, "Cached answer.", text)
	}
	assert.Len(t, b.calls, 1)

	// sampled prompts bypass the cache
	_, err := c.Complete(context.Background(), "same prompt", 50, 0.7)
	require.NoError(t, err)
	assert.Len(t, b.calls, 2)
}

func TestNewCache(t *testing.T) {
	c, err := NewCache(context.Background(), "", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = NewCache(context.Background(), "memory", time.Hour)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	_, err = NewCache(context.Background(), "memcached://localhost", time.Hour)
	assert.Error(t, err)
}

// stalled blocks until the call's context ends
type stalled struct {
	calls int
}

func (s *stalled) Name() string { return "stalled" }

func (s *stalled) Complete(ctx context.Context, _ Request) (string, error) {
	s.calls++
	<-ctx.Done()
	return "", ctx.Err()
}

func TestCompleteTimesOutEachAttempt(t *testing.T) {
	b := &stalled{}
	c := newTestClient(b, Options{Timeout: 10 * time.Millisecond})

	start := time.Now()
	_, err := c.Complete(context.Background(), "prompt", 50, 0.3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, b.calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}
