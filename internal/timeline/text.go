package timeline

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/mrwolf/journeygen/internal/prompts"
)

var whitespace = regexp.MustCompile(`\s+`)

// shaper cleans raw completions into a single chat message
type shaper struct {
	maxSentences int
	prefixes     map[string]*regexp.Regexp
}

func newShaper(maxSentences int, names []string) *shaper {
	s := &shaper{maxSentences: maxSentences, prefixes: make(map[string]*regexp.Regexp)}
	for _, name := range names {
		s.prefixes[name] = regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(name) + `\s*(\([^)]*\))?\s*:\s*`)
	}
	return s
}

// shape strips speaker prefixes and wrapping quotes, collapses whitespace
// and keeps at most maxSentences sentences. The result ends in punctuation
// unless it is empty.
func (s *shaper) shape(text, speaker string) string {
	text = whitespace.ReplaceAllString(strings.TrimSpace(text), " ")
	if re, ok := s.prefixes[speaker]; ok {
		text = re.ReplaceAllString(text, "")
	}
	text = strings.Trim(text, " \"'“”‘’`")
	if text == "" {
		return ""
	}

	text = firstSentences(text, s.maxSentences)
	if last := []rune(text)[len([]rune(text))-1]; !strings.ContainsRune(".!?", last) {
		text += "."
	}
	return text
}

// firstSentences keeps the first n sentences. A sentence ends at . ! or ?
// followed by whitespace, so decimals like 3.4 do not split.
func firstSentences(text string, n int) string {
	if n <= 0 {
		return text
	}
	runes := []rune(text)
	count := 0
	for i, r := range runes {
		if !strings.ContainsRune(".!?", r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		count++
		if count == n {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return text
}

// fallbackLines are used when the backend cannot produce a message. The
// line is picked by day index so reruns stay deterministic.
var fallbackLines = map[string][]string{
	"onboard": {
		"Welcome aboard, {member}! I'm your concierge and I'll coordinate your first week, starting with a baseline assessment.",
	},
	"plan_review": {
		"I've reviewed your plan and we'll keep the current approach while tightening the evening routine.",
		"Plan review done: we'll adjust the diet targets slightly and keep training volume steady.",
		"Your plan is working, so we'll hold the course and add one extra vegetable serving a day.",
	},
	"exercise_nudge": {
		"Quick reminder: today's session is 30 minutes at moderate intensity.",
		"Don't forget today's workout, a brisk walk counts if time is short.",
		"Today's plan is a mobility warm-up followed by the main strength block.",
		"Short on time today? Ten minutes of intervals still keeps the streak going.",
	},
	"exercise_update": {
		"Here's your updated exercise plan for the next two weeks, keep the intensity moderate.",
		"New two-week block is ready: three strength days and two zone-2 sessions.",
		"For the next two weeks we'll shift to shorter sessions with more recovery.",
	},
	"test_schedule": {
		"Your next blood panel is due, we've booked it and will share the results when available.",
		"Time for the lipid panel again, I've scheduled it and sent you the details.",
	},
	"test_result": {
		"I've reviewed the results: a mild change, so we'll monitor and update the plan.",
		"Results are in and broadly stable, we'll keep the plan and recheck next quarter.",
	},
	"adherence_checkin": {
		"Completed today's session and felt better afterwards.",
		"Stuck to the plan today, meals and workout both done.",
		"All done for today, even got some extra steps in.",
	},
	"adherence_missed": {
		"Missed today's session, the day got away from me.",
		"Didn't manage the plan today, will try again tomorrow.",
		"Skipped the workout today, work ran late.",
	},
	"adherence_escalation": {
		"I've noticed several missed days in a row, so let's simplify the plan to fit your schedule better.",
		"A few sessions have slipped recently, let's talk about what's getting in the way and adjust.",
	},
	"clinical_decision": {
		"Based on the recent lipid trend I'm adding a plant sterol supplement and we'll recheck in six weeks.",
		"Given your latest numbers I'm referring you for a dietitian consult to fine-tune the plan.",
	},
	"check_in": {
		"Just checking in, how are you finding the plan this week?",
		"Hi {member}, anything we can help with this week?",
		"Checking in on how things are going, let us know if anything needs adjusting.",
	},
	"travel_notice": {
		"Heads up, I'm travelling to {location} this week so my routine will be a bit different.",
		"I'm in {location} this week, I'll try to keep up with the plan from the hotel.",
	},
	"question": {
		"Quick question about {topic}, what would you suggest?",
		"Could you advise me on {topic} this week?",
	},
	prompts.QuestionReply: {
		"Good question on {topic}, I'll send a short guide and we can adjust as needed.",
		"Thanks for asking about {topic}, here's what we recommend for this week.",
	},
	prompts.AdherenceSupport: {
		"No worries, one missed day doesn't undo your progress, let's aim for a short session tomorrow.",
		"That's okay, tomorrow is a fresh start, even a 15-minute walk counts.",
	},
}

func fallbackText(key string, day int, member, location, topic string) string {
	lines := fallbackLines[key]
	if len(lines) == 0 {
		return "Noted, thanks."
	}
	line := lines[day%len(lines)]
	return strings.NewReplacer("{member}", member, "{location}", location, "{topic}", topic).Replace(line)
}

// variantsOf lists suffixed forms of a duplicate text, least specific first.
// The last form carries the slot time and speaker, which no other turn shares.
func variantsOf(text string, st *state, s *slot) []string {
	day := st.date.Format("Jan 2")
	at := s.at.Format("15:04")
	return []string{
		fmt.Sprintf("%s (%s, week %d)", text, day, st.week()),
		fmt.Sprintf("%s (%s %s, week %d)", text, day, at, st.week()),
		fmt.Sprintf("%s (%s %s, %s)", text, day, at, firstName(s.speaker.Name)),
	}
}

func firstName(name string) string {
	if i := strings.IndexAny(name, " _"); i > 0 {
		return name[:i]
	}
	return name
}
