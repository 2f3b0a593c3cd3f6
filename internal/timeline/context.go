package timeline

import (
	"time"

	"github.com/mrwolf/journeygen/internal/config"
	"github.com/mrwolf/journeygen/internal/models"
)

type trip struct {
	start, end time.Time
	location   string
}

// travelPlan answers whether the member is away on a given day. Explicit
// trips win over the periodic every-N-weeks pattern.
type travelPlan struct {
	trips     []trip
	everyN    int
	locations []string
}

type travelState struct {
	active   bool
	first    bool // first day of the trip
	location string
}

func newTravelPlan(cfg config.TravelConfig) (travelPlan, error) {
	plan := travelPlan{everyN: cfg.EveryNWeeks, locations: cfg.Locations}
	for _, t := range cfg.Trips {
		start, err := time.Parse(config.DateLayout, t.Start)
		if err != nil {
			return plan, err
		}
		end, err := time.Parse(config.DateLayout, t.End)
		if err != nil {
			return plan, err
		}
		plan.trips = append(plan.trips, trip{start: start, end: end, location: t.Location})
	}
	return plan, nil
}

func (p travelPlan) at(date time.Time, day int) travelState {
	if len(p.trips) > 0 {
		for _, t := range p.trips {
			if date.Before(t.start) || date.After(t.end) {
				continue
			}
			return travelState{
				active:   true,
				first:    date.Equal(t.start) || day == 0,
				location: t.location,
			}
		}
		return travelState{}
	}

	if p.everyN <= 0 {
		return travelState{}
	}
	week := day/7 + 1
	if week%p.everyN != 0 {
		return travelState{}
	}
	location := "abroad"
	if len(p.locations) > 0 {
		location = p.locations[(week/p.everyN-1)%len(p.locations)]
	}
	return travelState{active: true, first: day%7 == 0, location: location}
}

type adherence struct {
	streak     int
	missStreak int
	checkins   int
	adherent   int
}

func (a *adherence) record(onPlan bool) {
	a.checkins++
	if onPlan {
		a.adherent++
		a.streak++
		a.missStreak = 0
		return
	}
	a.missStreak++
	a.streak = 0
}

// pendingSlot is a follow-up planned for a later day
type pendingSlot struct {
	day  int
	slot *slot
}

// state is the mutable schedule context of one run. Only the generator's
// single loop touches it; generators downstream see a models.Snapshot.
type state struct {
	start     time.Time
	date      time.Time
	day       int
	travel    travelState
	adherence adherence

	lastSpoken  map[string]time.Time
	topics      map[string][]string
	topicWindow int

	lastFired map[models.EventType]int
	nextDue   map[models.EventType]int
	pending   []pendingSlot
}

func newState(start time.Time, topicWindow int) *state {
	return &state{
		start:       start,
		date:        start,
		lastSpoken:  make(map[string]time.Time),
		topics:      make(map[string][]string),
		topicWindow: topicWindow,
		lastFired:   make(map[models.EventType]int),
		nextDue:     make(map[models.EventType]int),
	}
}

func (s *state) week() int {
	return s.day/7 + 1
}

func (s *state) snapshot() models.Snapshot {
	return models.Snapshot{
		Date:            s.date,
		DayIndex:        s.day,
		Week:            s.week(),
		Travelling:      s.travel.active,
		Location:        s.travel.location,
		AdherenceStreak: s.adherence.streak,
		MissStreak:      s.adherence.missStreak,
		Checkins:        s.adherence.checkins,
		Adherent:        s.adherence.adherent,
	}
}

func (s *state) addTopic(speaker, topic string) {
	if topic == "" {
		return
	}
	recent := append(s.topics[speaker], topic)
	if len(recent) > s.topicWindow {
		recent = recent[len(recent)-s.topicWindow:]
	}
	s.topics[speaker] = recent
}

func (s *state) previousTopic(speaker string) string {
	recent := s.topics[speaker]
	if len(recent) == 0 {
		return ""
	}
	return recent[len(recent)-1]
}

func (s *state) recentTopic(speaker, topic string) bool {
	for _, t := range s.topics[speaker] {
		if t == topic {
			return true
		}
	}
	return false
}

func (s *state) at(hour, minute int) time.Time {
	return s.date.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}
