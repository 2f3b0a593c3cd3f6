package timeline

import (
	"github.com/mrwolf/journeygen/internal/config"
	"github.com/mrwolf/journeygen/internal/models"
)

// trigger is what makes an event type eligible on a given day
type trigger int

const (
	triggerOnce       trigger = iota // exactly on day Offset
	triggerInterval                  // due every Interval±Jitter days
	triggerDaily                     // Bernoulli draw on every eligible day
	triggerMissStreak                // adherence miss streak reached the threshold
	triggerTravel                    // first travel day, then daily draws
	triggerFollowUp                  // scheduled by another event
)

// Cadence is the recurrence policy of one event type. All spans are in days.
type Cadence struct {
	Interval    int
	Jitter      int
	MinSpacing  int
	Offset      int
	Probability float64
	Hour        int
	Temperature float64
}

type policy struct {
	event    models.EventType
	trigger  trigger
	cadence  Cadence
	category models.RoleCategory // default speaker category
	speaker  models.Role
	disabled bool
	// blocked while the member is travelling; an interval event stays due
	forbidTravel bool
}

// defaultPolicies holds the built-in cadence of every event type
var defaultPolicies = map[models.EventType]policy{
	models.EventOnboard: {
		trigger:  triggerOnce,
		cadence:  Cadence{Hour: 8},
		category: models.CategoryRelationship,
	},
	models.EventTravelNotice: {
		trigger:  triggerTravel,
		cadence:  Cadence{Hour: 8, Probability: 0.3, Temperature: 0.5},
		category: models.CategoryMember,
	},
	models.EventPlanReview: {
		trigger:  triggerInterval,
		cadence:  Cadence{Interval: 28, Jitter: 3, MinSpacing: 21, Offset: 14, Hour: 11},
		category: models.CategoryClinical,
	},
	models.EventExerciseNudge: {
		trigger:  triggerDaily,
		cadence:  Cadence{Offset: 1, Probability: 0.6, Hour: 7, Temperature: 0.3},
		category: models.CategoryCoaching,
	},
	models.EventExerciseUpdate: {
		trigger:  triggerInterval,
		cadence:  Cadence{Interval: 14, Jitter: 1, MinSpacing: 10, Offset: 7, Hour: 9, Temperature: 0.1},
		category: models.CategoryCoaching,
	},
	models.EventTestSchedule: {
		trigger:      triggerInterval,
		cadence:      Cadence{Interval: 30, Jitter: 4, MinSpacing: 21, Offset: 10, Hour: 10},
		category:     models.CategoryClinical,
		forbidTravel: true,
	},
	models.EventTestResult: {
		trigger:  triggerFollowUp,
		cadence:  Cadence{Hour: 9},
		category: models.CategoryClinical,
	},
	models.EventAdherenceCheckin: {
		trigger:  triggerDaily,
		cadence:  Cadence{Offset: 1, Probability: 0.4, Hour: 18, Temperature: 0.5},
		category: models.CategoryMember,
	},
	models.EventAdherenceEscalation: {
		trigger:  triggerMissStreak,
		cadence:  Cadence{MinSpacing: 14, Hour: 21, Temperature: 0.2},
		category: models.CategoryClinical,
	},
	models.EventClinicalDecision: {
		trigger:  triggerDaily,
		cadence:  Cadence{Offset: 14, Probability: 0.02, MinSpacing: 21, Hour: 13},
		category: models.CategoryClinical,
	},
	models.EventCheckIn: {
		trigger:  triggerDaily,
		cadence:  Cadence{Offset: 1, Probability: 0.1, Hour: 9, Temperature: 0.2},
		category: models.CategoryRelationship,
	},
	models.EventQuestion: {
		trigger:  triggerDaily,
		cadence:  Cadence{Offset: 1, Probability: 0.3, Hour: 10, Temperature: 0.6},
		category: models.CategoryMember,
	},
}

const (
	supportHour     = 20
	replyTemp       = 0.2
	questionSpread  = 7 // questions land between Hour and Hour+6
	replyMaxDelayHr = 4
)

// roster indexes roles by category in configuration order
type roster struct {
	roles []models.Role
}

func (r roster) first(c models.RoleCategory) (models.Role, bool) {
	for _, role := range r.roles {
		if role.Category == c {
			return role, true
		}
	}
	return models.Role{}, false
}

func (r roster) all(cats ...models.RoleCategory) []models.Role {
	var out []models.Role
	for _, role := range r.roles {
		for _, c := range cats {
			if role.Category == c {
				out = append(out, role)
				break
			}
		}
	}
	return out
}

func (r roster) byName(name string) (models.Role, bool) {
	for _, role := range r.roles {
		if role.Name == name {
			return role, true
		}
	}
	return models.Role{}, false
}

// buildPolicies merges configuration overrides into the defaults and binds
// each event type to its speaker. Event types whose speaker category has no
// role in the roster are disabled.
func buildPolicies(cfg *config.Config, ros roster) []*policy {
	policies := make([]*policy, 0, len(models.EventTypes))
	for _, event := range models.EventTypes {
		p := defaultPolicies[event]
		p.event = event
		if event == models.EventTravelNotice {
			p.cadence.Probability = cfg.Travel.Probability
		}

		override, hasOverride := cfg.Events[string(event)]
		if hasOverride {
			applyOverride(&p.cadence, override)
			p.disabled = override.Disabled
		}

		var ok bool
		if hasOverride && override.Role != "" {
			p.speaker, ok = ros.byName(override.Role)
		} else {
			p.speaker, ok = ros.first(p.category)
		}
		if !ok {
			p.disabled = true
		}

		policies = append(policies, &p)
	}
	return policies
}

func applyOverride(c *Cadence, o config.EventConfig) {
	if o.Interval != nil {
		c.Interval = *o.Interval
	}
	if o.Jitter != nil {
		c.Jitter = *o.Jitter
	}
	if o.MinSpacing != nil {
		c.MinSpacing = *o.MinSpacing
	}
	if o.Offset != nil {
		c.Offset = *o.Offset
	}
	if o.Probability != nil {
		c.Probability = *o.Probability
	}
	if o.Hour != nil {
		c.Hour = *o.Hour
	}
	if o.Temperature != nil {
		c.Temperature = *o.Temperature
	}
}
