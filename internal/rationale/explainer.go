package rationale

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mrwolf/journeygen/internal/models"
	"github.com/mrwolf/journeygen/internal/prompts"
	"github.com/rs/zerolog"
)

// RecentTurns is how many prior turns are quoted in a rationale prompt
const RecentTurns = 10

// namespace seeds the name-based decision ids
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("journeygen/decision"))

// Completer produces text for a prompt
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// Renderer formats a named prompt template
type Renderer interface {
	Render(ctx context.Context, name string, vars map[string]any) (string, error)
}

// Options configure an Explainer
type Options struct {
	Member    models.Member
	MaxTokens int
	Clock     clockwork.Clock
	Logger    zerolog.Logger
}

// Explainer produces one DecisionRecord per decision-bearing turn. It keeps
// the ids it has issued, so use one Explainer per generation run.
type Explainer struct {
	llm       Completer
	prompts   Renderer
	member    models.Member
	maxTokens int
	clock     clockwork.Clock
	log       zerolog.Logger
	issued    map[string]bool
}

func New(llm Completer, renderer Renderer, opts Options) *Explainer {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 200
	}
	return &Explainer{
		llm:       llm,
		prompts:   renderer,
		member:    opts.Member,
		maxTokens: opts.MaxTokens,
		clock:     opts.Clock,
		log:       opts.Logger,
		issued:    make(map[string]bool),
	}
}

// Explain always returns a record. When the backend fails the record carries
// a fixed-form rationale and Source is models.SourceFallback.
func (e *Explainer) Explain(ctx context.Context, turn models.Turn, snap models.Snapshot, recent []models.Turn) models.DecisionRecord {
	category, ok := models.DecisionCategoryFor(turn.Tags)
	if !ok {
		category = models.DecisionOther
	}

	rec := models.DecisionRecord{
		ID:       e.allocateID(turn, category),
		Category: category,
		Turn: models.TurnRef{
			ID:        turn.ID,
			Timestamp: turn.Timestamp,
			Speaker:   turn.Speaker,
			Tags:      append([]string(nil), turn.Tags...),
		},
		CreatedAt: e.clock.Now().UTC(),
	}

	response, err := e.generate(ctx, turn, snap, recent, category)
	if err != nil {
		e.log.Warn().Err(err).Str("decision_id", rec.ID).Msg("rationale backend failed, using fallback")
		rec.Rationale = fallbackRationale(turn, snap, category)
		rec.Confidence = "low"
		rec.NextSteps = defaultNextSteps(category)
		rec.Source = models.SourceFallback
		return rec
	}

	rec.Source = models.SourceBackend
	if parsed, ok := parseResponse(response); ok {
		rec.Rationale = parsed.Rationale
		rec.Confidence = parsed.Confidence
		rec.NextSteps = parsed.NextSteps
	} else {
		rec.Rationale = strings.TrimSpace(response)
		rec.Confidence = "medium"
	}
	if len(rec.NextSteps) == 0 {
		rec.NextSteps = defaultNextSteps(category)
	}
	return rec
}

func (e *Explainer) generate(ctx context.Context, turn models.Turn, snap models.Snapshot, recent []models.Turn, category models.DecisionCategory) (string, error) {
	pct := "n/a"
	if p := snap.AdherencePct(); p >= 0 {
		pct = fmt.Sprintf("%.0f%%", p*100)
	}

	prompt, err := e.prompts.Render(ctx, prompts.Rationale, map[string]any{
		"category":       string(category),
		"speaker":        turn.Speaker,
		"role":           string(turn.Role),
		"date":           turn.Timestamp.Format("2006-01-02"),
		"week":           snap.Week,
		"text":           turn.Text,
		"member":         e.member.Name,
		"member_profile": e.member.Profile(),
		"travel":         snap.TravelSummary(),
		"adherence":      snap.AdherenceSummary(),
		"adherence_pct":  pct,
		"recent_turns":   formatRecent(recent),
	})
	if err != nil {
		return "", fmt.Errorf("rendering rationale prompt: %w", err)
	}

	return e.llm.Complete(ctx, prompt, e.maxTokens, 0)
}

// allocateID derives the id from the turn's timestamp, speaker and tags.
// The short form is used unless it was already issued in this run.
func (e *Explainer) allocateID(turn models.Turn, category models.DecisionCategory) string {
	name := fmt.Sprintf("%s|%s|%s", turn.Timestamp.UTC().Format(time.RFC3339), turn.Speaker, strings.Join(turn.Tags, ","))
	hex := strings.ReplaceAll(uuid.NewSHA1(namespace, []byte(name)).String(), "-", "")
	prefix := "decision_" + string(category) + "_"

	id := prefix + hex[:8]
	if e.issued[id] {
		id = prefix + hex
	}
	for n := 2; e.issued[id]; n++ {
		id = fmt.Sprintf("%s%s_%d", prefix, hex, n)
	}
	e.issued[id] = true
	return id
}

func formatRecent(turns []models.Turn) string {
	if len(turns) > RecentTurns {
		turns = turns[len(turns)-RecentTurns:]
	}
	if len(turns) == 0 {
		return "(no earlier messages)"
	}
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = fmt.Sprintf("%s | %s: %s", t.Timestamp.Format("2006-01-02 15:04"), t.Speaker, t.Text)
	}
	return strings.Join(lines, "\n")
}

func fallbackRationale(turn models.Turn, snap models.Snapshot, category models.DecisionCategory) string {
	return fmt.Sprintf("%s decision by %s on %s (week %d, %s, %s). Trigger: %s",
		strings.ToUpper(string(category[:1]))+string(category[1:]),
		turn.Speaker,
		turn.Timestamp.Format("2006-01-02"),
		snap.Week,
		snap.AdherenceSummary(),
		snap.TravelSummary(),
		turn.Text,
	)
}

func defaultNextSteps(category models.DecisionCategory) []string {
	switch category {
	case models.DecisionTest:
		return []string{"Complete the blood panel", "Review results with the clinical lead", "Recheck at next 3-month panel"}
	case models.DecisionExercise:
		return []string{"Follow the updated two-week plan", "Report missed sessions", "Reassess at next exercise update"}
	case models.DecisionPlan:
		return []string{"Monitor labs", "Reinforce adherence", "Follow-up in 6 weeks"}
	default:
		return []string{"Monitor adherence", "Check in within a week"}
	}
}
