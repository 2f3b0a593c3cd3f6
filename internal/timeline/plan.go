package timeline

import (
	"time"

	"github.com/mrwolf/journeygen/internal/models"
	"github.com/mrwolf/journeygen/internal/prompts"
)

// slot is one turn planned for the current day
type slot struct {
	event           models.EventType
	speaker         models.Role
	at              time.Time
	template        string
	temperature     float64
	tags            []string
	messageType     string
	topic           string
	memberInitiated bool
	adherenceFlag   *bool
	parent          *slot // turn this one answers; its text becomes context_text

	text string
}

func (s *slot) fallbackKey() string {
	switch {
	case s.template != string(s.event):
		return s.template
	case s.adherenceFlag != nil && !*s.adherenceFlag:
		return "adherence_missed"
	default:
		return string(s.event)
	}
}

var questionTopics = []string{
	"exercise timing",
	"sleep quality",
	"meal planning",
	"supplements",
	"hydration",
	"stress management",
	"step count goals",
	"cholesterol numbers",
	"strength training",
	"rescheduling a session",
	"eating out",
	"recovery and soreness",
}

const travelTopic = "workouts while travelling"

var eventTopics = map[models.EventType]string{
	models.EventOnboard:             "onboarding",
	models.EventPlanReview:          "plan review",
	models.EventExerciseNudge:       "today's workout",
	models.EventExerciseUpdate:      "exercise plan",
	models.EventTestSchedule:        "blood panel",
	models.EventTestResult:          "test results",
	models.EventAdherenceCheckin:    "daily adherence",
	models.EventAdherenceEscalation: "adherence concerns",
	models.EventClinicalDecision:    "clinical decision",
	models.EventCheckIn:             "check-in",
	models.EventTravelNotice:        "travel",
}

// plan returns the day's slots in emission order. Follow-ups planned on
// earlier days come first, then every enabled policy in scheduling order.
// Questions only fill the day when fewer than MaxTurnsPerDay slots exist.
func (g *Generator) plan(st *state) []*slot {
	var slots []*slot

	remaining := st.pending[:0]
	for _, p := range st.pending {
		if p.day == st.day {
			slots = append(slots, p.slot)
		} else {
			remaining = append(remaining, p)
		}
	}
	st.pending = remaining

	for _, p := range g.policies {
		if p.disabled || p.trigger == triggerFollowUp {
			continue
		}
		if p.event == models.EventQuestion && len(slots) >= g.gen.MaxTurnsPerDay {
			continue
		}
		if !g.due(st, p) {
			continue
		}
		st.lastFired[p.event] = st.day
		slots = append(slots, g.build(st, p)...)
	}

	return sortSlots(slots)
}

// due reports whether p fires today. Interval events that are blocked stay
// due and fire on the first day they are allowed.
func (g *Generator) due(st *state, p *policy) bool {
	c := p.cadence
	if last, fired := st.lastFired[p.event]; fired && c.MinSpacing > 0 && st.day-last < c.MinSpacing {
		return false
	}
	if p.forbidTravel && st.travel.active {
		return false
	}

	switch p.trigger {
	case triggerOnce:
		_, fired := st.lastFired[p.event]
		return !fired && st.day == c.Offset
	case triggerInterval:
		if st.day < st.nextDue[p.event] {
			return false
		}
		st.nextDue[p.event] = st.day + max(c.Interval+g.jitter(c.Jitter), c.MinSpacing, 1)
		return true
	case triggerDaily:
		return st.day >= c.Offset && g.rng.Float64() < c.Probability
	case triggerMissStreak:
		return g.gen.EscalationThreshold > 0 && st.adherence.missStreak >= g.gen.EscalationThreshold
	case triggerTravel:
		if !st.travel.active {
			return false
		}
		return st.travel.first || g.rng.Float64() < c.Probability
	}
	return false
}

func (g *Generator) newSlot(st *state, p *policy, tags ...string) *slot {
	return &slot{
		event:       p.event,
		speaker:     p.speaker,
		at:          st.at(p.cadence.Hour, g.minute()),
		template:    string(p.event),
		temperature: p.cadence.Temperature,
		tags:        tags,
		messageType: models.MessageChat,
		topic:       eventTopics[p.event],
	}
}

// build turns a firing policy into one or more slots and applies its
// effect on the schedule context.
func (g *Generator) build(st *state, p *policy) []*slot {
	switch p.event {
	case models.EventOnboard:
		s := g.newSlot(st, p, models.TagOnboard)
		s.messageType = models.MessageSystem
		return []*slot{s}

	case models.EventPlanReview:
		s := g.newSlot(st, p, models.TagPlan)
		s.messageType = models.MessagePlan
		return []*slot{s}

	case models.EventExerciseNudge:
		s := g.newSlot(st, p, g.travelTags(st, models.TagExercise)...)
		return []*slot{s}

	case models.EventExerciseUpdate:
		s := g.newSlot(st, p, g.travelTags(st, models.TagExerciseUpdate)...)
		s.messageType = models.MessagePlan
		return []*slot{s}

	case models.EventTestSchedule:
		s := g.newSlot(st, p, models.TagTestSchedule)
		s.messageType = models.MessageSystem
		g.scheduleResult(st, s)
		return []*slot{s}

	case models.EventAdherenceCheckin:
		return g.buildCheckin(st, p)

	case models.EventAdherenceEscalation:
		s := g.newSlot(st, p, models.TagEscalation)
		s.messageType = models.MessageDecision
		st.adherence.missStreak = 0
		return []*slot{s}

	case models.EventClinicalDecision:
		s := g.newSlot(st, p, models.TagDecision)
		s.messageType = models.MessageDecision
		return []*slot{s}

	case models.EventCheckIn:
		return []*slot{g.newSlot(st, p, models.TagCheckin)}

	case models.EventTravelNotice:
		s := g.newSlot(st, p, models.TagTravel)
		s.memberInitiated = true
		s.topic = "travel to " + st.travel.location
		return []*slot{s}

	case models.EventQuestion:
		return g.buildQuestion(st, p)
	}
	return nil
}

func (g *Generator) travelTags(st *state, tags ...string) []string {
	if st.travel.active {
		tags = append(tags, models.TagTravelAdapt)
	}
	return tags
}

// scheduleResult plans the test result report for the next day
func (g *Generator) scheduleResult(st *state, parent *slot) {
	p := g.policy(models.EventTestResult)
	if p == nil || p.disabled {
		return
	}
	next := st.date.AddDate(0, 0, 1)
	s := &slot{
		event:       p.event,
		speaker:     p.speaker,
		at:          next.Add(time.Duration(p.cadence.Hour)*time.Hour + time.Duration(g.minute())*time.Minute),
		template:    string(p.event),
		temperature: p.cadence.Temperature,
		tags:        []string{models.TagTestResult},
		messageType: models.MessageReport,
		topic:       eventTopics[p.event],
		parent:      parent,
	}
	st.pending = append(st.pending, pendingSlot{day: st.day + 1, slot: s})
}

// buildCheckin draws the day's adherence outcome. A miss gets a supportive
// reply from the coaching side when the roster has one.
func (g *Generator) buildCheckin(st *state, p *policy) []*slot {
	onPlan := g.rng.Float64() < g.gen.AdherenceProb
	st.adherence.record(onPlan)

	outcome := models.TagAdherence
	if !onPlan {
		outcome = models.TagMissed
	}
	s := g.newSlot(st, p, models.TagStatus, outcome)
	s.memberInitiated = true
	s.adherenceFlag = &onPlan

	if onPlan {
		return []*slot{s}
	}
	responder, ok := g.roster.first(models.CategoryCoaching)
	if !ok {
		responder, ok = g.roster.first(models.CategoryRelationship)
	}
	if !ok {
		return []*slot{s}
	}
	reply := &slot{
		event:       p.event,
		speaker:     responder,
		at:          st.at(supportHour, g.minute()),
		template:    prompts.AdherenceSupport,
		temperature: replyTemp,
		tags:        []string{models.TagReply, models.TagSupport},
		messageType: models.MessageChat,
		topic:       "getting back on track",
		parent:      s,
	}
	return []*slot{s, reply}
}

// buildQuestion plans a member question and the team's reply 1-4 hours later
func (g *Generator) buildQuestion(st *state, p *policy) []*slot {
	responders := g.roster.all(models.CategoryRelationship, models.CategoryCoaching)
	if len(responders) == 0 {
		return nil
	}

	s := g.newSlot(st, p, models.TagQuestion)
	s.at = st.at(p.cadence.Hour+g.rng.Intn(questionSpread), g.minute())
	s.memberInitiated = true
	s.topic = g.pickTopic(st, p.speaker.Name)

	responder := responders[g.rng.Intn(len(responders))]
	delay := time.Duration(1+g.rng.Intn(replyMaxDelayHr))*time.Hour + time.Duration(g.minute())*time.Minute
	reply := &slot{
		event:       p.event,
		speaker:     responder,
		at:          s.at.Add(delay),
		template:    prompts.QuestionReply,
		temperature: replyTemp,
		tags:        []string{models.TagReply},
		messageType: models.MessageChat,
		topic:       s.topic,
		parent:      s,
	}
	if !reply.at.Before(st.date.AddDate(0, 0, 1)) {
		return []*slot{s}
	}
	return []*slot{s, reply}
}

// pickTopic chooses a question topic the member has not raised recently
func (g *Generator) pickTopic(st *state, speaker string) string {
	pool := questionTopics
	if st.travel.active {
		pool = append([]string{travelTopic}, pool...)
	}
	var fresh []string
	for _, t := range pool {
		if !st.recentTopic(speaker, t) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		fresh = pool
	}
	return fresh[g.rng.Intn(len(fresh))]
}
