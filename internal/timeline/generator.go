package timeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mrwolf/journeygen/internal/config"
	"github.com/mrwolf/journeygen/internal/dedup"
	"github.com/mrwolf/journeygen/internal/models"
	"github.com/mrwolf/journeygen/internal/observability"
	"github.com/mrwolf/journeygen/internal/prompts"
	"github.com/rs/zerolog"
)

var errEmptyMessage = errors.New("empty message after shaping")

// Completer produces text for a prompt
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// Renderer formats a named prompt template
type Renderer interface {
	Render(ctx context.Context, name string, vars map[string]any) (string, error)
}

// Explainer produces the rationale record for a decision-bearing turn
type Explainer interface {
	Explain(ctx context.Context, turn models.Turn, snap models.Snapshot, recent []models.Turn) models.DecisionRecord
}

// Random is the seeded source behind every scheduling draw.
// *rand.Rand satisfies it.
type Random interface {
	Float64() float64
	Intn(n int) int
}

type Deps struct {
	LLM       Completer
	Prompts   Renderer
	Explainer Explainer
	Dedup     *dedup.Index
	Rand      Random
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

// Stats counts turns by how their text was produced
type Stats struct {
	Days        int
	Turns       int
	Decisions   int
	Generated   int
	Paraphrased int
	Fallback    int
	Variant     int
}

func (s *Stats) count(q models.Quality) {
	s.Turns++
	switch q {
	case models.QualityGenerated:
		s.Generated++
	case models.QualityParaphrased:
		s.Paraphrased++
	case models.QualityFallback:
		s.Fallback++
	case models.QualityVariant:
		s.Variant++
	}
}

type Result struct {
	Turns     []models.Turn
	Decisions []models.DecisionRecord
	Degraded  []models.Degradation
	Stats     Stats
}

// Generator walks a date range one day at a time and emits the turns the
// cadence policies call for. A Generator holds per-run state in its
// dependencies (dedup index, explainer ids), so build one per run.
type Generator struct {
	member   models.Member
	roster   roster
	policies []*policy
	travel   travelPlan
	gen      config.GenerationConfig
	shaper   *shaper

	llm       Completer
	prompts   Renderer
	explainer Explainer
	dedup     *dedup.Index
	rng       Random
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func New(cfg *config.Config, deps Deps) (*Generator, error) {
	if deps.LLM == nil || deps.Prompts == nil || deps.Explainer == nil || deps.Dedup == nil || deps.Rand == nil {
		return nil, errors.New("timeline: missing dependency")
	}
	travel, err := newTravelPlan(cfg.Travel)
	if err != nil {
		return nil, fmt.Errorf("%w: travel: %w", config.ErrConfigInvalid, err)
	}

	ros := roster{roles: cfg.Roster}
	names := make([]string, len(cfg.Roster))
	for i, r := range cfg.Roster {
		names[i] = r.Name
	}

	g := &Generator{
		member:    cfg.Member,
		roster:    ros,
		policies:  buildPolicies(cfg, ros),
		travel:    travel,
		gen:       cfg.Generation,
		shaper:    newShaper(cfg.Generation.MaxSentences, names),
		llm:       deps.LLM,
		prompts:   deps.Prompts,
		explainer: deps.Explainer,
		dedup:     deps.Dedup,
		rng:       deps.Rand,
		log:       deps.Logger,
		metrics:   deps.Metrics,
	}

	for _, p := range g.policies {
		if p.disabled {
			g.log.Debug().Str("event", string(p.event)).Msg("event type disabled for this roster")
		}
	}
	return g, nil
}

// Generate produces the turns for every day in [start, end]. Backend
// failures degrade individual turns; only cancellation aborts the run.
func (g *Generator) Generate(ctx context.Context, start, end time.Time) (*Result, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %s before start date %s", config.ErrConfigInvalid,
			end.Format(config.DateLayout), start.Format(config.DateLayout))
	}

	st := newState(start, g.gen.TopicWindow)
	g.arm(st)
	res := &Result{}

	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		st.date = date
		st.travel = g.travel.at(date, st.day)

		for _, s := range g.plan(st) {
			if err := g.emit(ctx, st, s, res); err != nil {
				return res, err
			}
		}

		if st.day%30 == 0 {
			g.log.Debug().
				Str("date", date.Format(config.DateLayout)).
				Int("turns", len(res.Turns)).
				Int("decisions", len(res.Decisions)).
				Msg("timeline progress")
		}
		st.day++
	}

	res.Stats.Days = st.day
	res.Stats.Decisions = len(res.Decisions)
	return res, nil
}

// arm draws the first due day of every interval event
func (g *Generator) arm(st *state) {
	for _, p := range g.policies {
		if p.disabled || p.trigger != triggerInterval {
			continue
		}
		st.nextDue[p.event] = max(p.cadence.Offset+g.jitter(p.cadence.Jitter), 0)
	}
}

func (g *Generator) jitter(j int) int {
	if j <= 0 {
		return 0
	}
	return g.rng.Intn(2*j+1) - j
}

func (g *Generator) minute() int {
	return g.rng.Intn(60)
}

func (g *Generator) policy(event models.EventType) *policy {
	for _, p := range g.policies {
		if p.event == event {
			return p
		}
	}
	return nil
}

func (g *Generator) emit(ctx context.Context, st *state, s *slot, res *Result) error {
	turnID := len(res.Turns) + 1

	text, quality, err := g.produce(ctx, st, s, turnID, res)
	if err != nil {
		return err
	}
	s.text = text

	turn := models.Turn{
		ID:          turnID,
		Timestamp:   s.at,
		Speaker:     s.speaker.Name,
		Role:        s.speaker.Category,
		Text:        text,
		Tags:        s.tags,
		MessageType: s.messageType,
		Event:       s.event,
		Meta: models.TurnMeta{
			MemberInitiated: s.memberInitiated,
			AdherenceFlag:   s.adherenceFlag,
			TravelWeek:      st.travel.active,
			Quality:         quality,
		},
	}
	if st.travel.active {
		turn.Meta.Location = st.travel.location
	}

	if _, ok := models.DecisionCategoryFor(turn.Tags); ok {
		rec := g.explainer.Explain(ctx, turn, st.snapshot(), res.Turns)
		if rec.Source == models.SourceFallback {
			g.degrade(res, models.DegradedRationaleFallback, turnID, s, "rationale generated from template")
		}
		turn.DecisionRef = rec.ID
		res.Decisions = append(res.Decisions, rec)
	}

	res.Turns = append(res.Turns, turn)
	res.Stats.count(quality)
	st.lastSpoken[turn.Speaker] = turn.Timestamp
	st.addTopic(turn.Speaker, s.topic)
	g.metrics.ObserveTurn(string(turn.Event), string(quality))
	return nil
}

// produce returns the text for a slot. It falls back to a fixed line when
// the backend fails, paraphrases near-duplicates and, when paraphrasing is
// exhausted, makes the text unique with a date suffix.
func (g *Generator) produce(ctx context.Context, st *state, s *slot, turnID int, res *Result) (string, models.Quality, error) {
	vars := g.vars(st, s)

	text, err := g.complete(ctx, s.template, vars, s.temperature, s.speaker.Name)
	quality := models.QualityGenerated
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", ctxErr
		}
		g.log.Warn().Err(err).Str("event", string(s.event)).Str("speaker", s.speaker.Name).Msg("generation failed, using fallback line")
		text = fallbackText(s.fallbackKey(), st.day, firstName(g.member.Name), st.travel.location, s.topic)
		quality = models.QualityFallback
		g.degrade(res, models.DegradedFallback, turnID, s, err.Error())
	}

	v := g.dedup.CheckAndRecord(text)
	g.metrics.ObserveDedup(v.Duplicate)
	if !v.Duplicate {
		return text, quality, nil
	}

	if quality != models.QualityFallback {
		for attempt := 1; attempt <= g.gen.MaxRegenRetries; attempt++ {
			pv := make(map[string]any, len(vars)+1)
			for k, val := range vars {
				pv[k] = val
			}
			pv["text"] = text

			alt, err := g.complete(ctx, prompts.Paraphrase, pv, g.gen.ParaphraseTemperature, s.speaker.Name)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return "", "", ctxErr
				}
				g.log.Warn().Err(err).Int("attempt", attempt).Msg("paraphrase failed")
				break
			}
			v = g.dedup.CheckAndRecord(alt)
			g.metrics.ObserveDedup(v.Duplicate)
			if !v.Duplicate {
				return alt, models.QualityParaphrased, nil
			}
		}
	}

	variant := g.variant(text, st, s)
	g.dedup.Record(variant)
	g.degrade(res, models.DegradedDuplicateExhausted, turnID, s, fmt.Sprintf("similarity %.2f", v.Similarity))
	if quality != models.QualityFallback {
		quality = models.QualityVariant
	}
	return variant, quality, nil
}

// variant picks the first suffixed form the index does not flag. When every
// form is still similar to something recent, the first one never emitted wins.
func (g *Generator) variant(text string, st *state, s *slot) string {
	candidates := variantsOf(text, st, s)
	unseen := ""
	for _, c := range candidates {
		if !g.dedup.Check(c).Duplicate {
			return c
		}
		if _, seen := g.dedup.Lookup(c); !seen && unseen == "" {
			unseen = c
		}
	}
	if unseen != "" {
		return unseen
	}
	last := candidates[len(candidates)-1]
	for n := 2; ; n++ {
		c := fmt.Sprintf("%s #%d", last, n)
		if _, seen := g.dedup.Lookup(c); !seen {
			return c
		}
	}
}

func (g *Generator) complete(ctx context.Context, template string, vars map[string]any, temperature float64, speaker string) (string, error) {
	prompt, err := g.prompts.Render(ctx, template, vars)
	if err != nil {
		return "", err
	}
	raw, err := g.llm.Complete(ctx, prompt, g.gen.MaxTokens, temperature)
	if err != nil {
		return "", err
	}
	text := g.shaper.shape(raw, speaker)
	if text == "" {
		return "", errEmptyMessage
	}
	return text, nil
}

func (g *Generator) vars(st *state, s *slot) map[string]any {
	snap := st.snapshot()

	pct := "n/a"
	if p := snap.AdherencePct(); p >= 0 {
		pct = fmt.Sprintf("%.0f%%", p*100)
	}
	adherence := snap.AdherenceSummary()
	if s.adherenceFlag != nil {
		if *s.adherenceFlag {
			adherence = "followed the plan"
		} else {
			adherence = "missed the plan"
		}
	}
	previous := st.previousTopic(s.speaker.Name)
	if previous == "" {
		previous = "none"
	}
	recent := "none"
	if topics := st.topics[s.speaker.Name]; len(topics) > 0 {
		recent = strings.Join(topics, ", ")
	}
	contextText := ""
	if s.parent != nil {
		contextText = s.parent.text
	}

	return map[string]any{
		"member":         g.member.Name,
		"member_profile": g.member.Profile(),
		"speaker":        s.speaker.Name,
		"role":           string(s.speaker.Category),
		"date":           st.date.Format(config.DateLayout),
		"weekday":        st.date.Weekday().String(),
		"week":           snap.Week,
		"travel":         snap.TravelSummary(),
		"location":       st.travel.location,
		"previous_topic": previous,
		"recent_topics":  recent,
		"topic":          s.topic,
		"adherence":      adherence,
		"adherence_pct":  pct,
		"context_text":   contextText,
	}
}

func (g *Generator) degrade(res *Result, kind string, turnID int, s *slot, detail string) {
	res.Degraded = append(res.Degraded, models.Degradation{
		Kind:    kind,
		TurnID:  turnID,
		Event:   s.event,
		At:      s.at,
		Speaker: s.speaker.Name,
		Detail:  detail,
	})
	g.metrics.ObserveDegraded(kind)
}

// sortSlots orders slots by time. Two turns from the same speaker never share
// a minute; a colliding slot moves forward until it is free.
func sortSlots(slots []*slot) []*slot {
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].at.Before(slots[j].at) })

	used := make(map[string]map[time.Time]bool)
	for _, s := range slots {
		taken := used[s.speaker.Name]
		if taken == nil {
			taken = make(map[time.Time]bool)
			used[s.speaker.Name] = taken
		}
		for taken[s.at] {
			s.at = s.at.Add(time.Minute)
		}
		taken[s.at] = true
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].at.Before(slots[j].at) })
	return slots
}
