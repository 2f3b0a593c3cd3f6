package prompts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/jonboulle/clockwork"
	"github.com/mrwolf/journeygen/internal/models"
	"github.com/rs/zerolog"
)

// ErrUnknownTemplate is returned when rendering a name the store does not hold
var ErrUnknownTemplate = errors.New("unknown template")

// UsageRecorder receives every rendered prompt
type UsageRecorder interface {
	RecordPromptUsage(entry models.PromptUsage) error
}

// Store holds the named chat templates used for message, rationale and
// paraphrase generation.
type Store struct {
	sources   map[string]template
	templates map[string]prompt.ChatTemplate
	usage     UsageRecorder
	clock     clockwork.Clock
	log       zerolog.Logger
}

// NewStore returns a store loaded with the built-in templates
func NewStore(log zerolog.Logger, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Store{
		sources:   make(map[string]template, len(defaults)),
		templates: make(map[string]prompt.ChatTemplate, len(defaults)),
		clock:     clock,
		log:       log,
	}
	for name, t := range defaults {
		s.set(name, t)
	}
	return s
}

func (s *Store) set(name string, t template) {
	s.sources[name] = t
	s.templates[name] = prompt.FromMessages(schema.FString,
		schema.SystemMessage(t.system),
		schema.UserMessage(t.user),
	)
}

// SetUsageRecorder enables prompt usage logging
func (s *Store) SetUsageRecorder(u UsageRecorder) {
	s.usage = u
}

// LoadDir replaces the user message of a template with the contents of
// <dir>/<name>.txt when that file exists. Files for unknown names are ignored.
func (s *Store) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading prompts dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".txt")
		t, ok := s.sources[name]
		if !ok {
			s.log.Debug().Str("file", e.Name()).Msg("ignoring prompt file with no matching template")
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("reading prompt %s: %w", e.Name(), err)
		}
		t.user = strings.TrimSpace(string(data))
		s.set(name, t)
		s.log.Info().Str("template", name).Msg("prompt override loaded")
	}
	return nil
}

// Names returns the template names in sorted order
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render formats the named template and flattens the chat messages into a
// single prompt string.
func (s *Store) Render(ctx context.Context, name string, vars map[string]any) (string, error) {
	tpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	full := make(map[string]any, len(Variables))
	for _, v := range Variables {
		full[v] = ""
	}
	for k, v := range vars {
		full[k] = v
	}

	msgs, err := tpl.Format(ctx, full)
	if err != nil {
		return "", fmt.Errorf("formatting template %s: %w", name, err)
	}

	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Content)
	}
	rendered := b.String()

	if s.usage != nil {
		entry := models.PromptUsage{
			Timestamp: s.clock.Now().UTC(),
			Name:      name,
			Prompt:    rendered,
			Meta:      vars,
		}
		if err := s.usage.RecordPromptUsage(entry); err != nil {
			s.log.Warn().Err(err).Str("template", name).Msg("recording prompt usage")
		}
	}

	return rendered, nil
}

// Validate renders every template with a full variable set. A template that
// references an unknown variable or has malformed braces fails here, at
// startup, rather than mid-run.
func (s *Store) Validate(ctx context.Context) error {
	sample := make(map[string]any, len(Variables))
	for _, v := range Variables {
		sample[v] = "x"
	}

	usage := s.usage
	s.usage = nil
	defer func() { s.usage = usage }()

	var errs []error
	for _, name := range s.Names() {
		if _, err := s.Render(ctx, name, sample); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
