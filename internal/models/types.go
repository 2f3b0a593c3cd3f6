package models

import (
	"fmt"
	"strings"
	"time"
)

// RoleCategory is the function a roster role fills in the conversation
type RoleCategory string

const (
	CategoryMember       RoleCategory = "member"
	CategoryRelationship RoleCategory = "relationship"
	CategoryClinical     RoleCategory = "clinical"
	CategoryCoaching     RoleCategory = "coaching"
)

var categoryAliases = map[string]RoleCategory{
	"member":       CategoryMember,
	"relationship": CategoryRelationship,
	"concierge":    CategoryRelationship,
	"clinical":     CategoryClinical,
	"medical":      CategoryClinical,
	"coaching":     CategoryCoaching,
	"coach":        CategoryCoaching,
}

// ParseRoleCategory resolves a category name or one of its aliases
func ParseRoleCategory(s string) (RoleCategory, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// Role is one named participant of the conversation
type Role struct {
	Name     string       `yaml:"name" json:"name"`
	Category RoleCategory `yaml:"category" json:"category"`
}

// EventType identifies a kind of scheduled conversation event
type EventType string

const (
	EventOnboard             EventType = "onboard"
	EventPlanReview          EventType = "plan_review"
	EventExerciseNudge       EventType = "exercise_nudge"
	EventExerciseUpdate      EventType = "exercise_update"
	EventTestSchedule        EventType = "test_schedule"
	EventTestResult          EventType = "test_result"
	EventAdherenceCheckin    EventType = "adherence_checkin"
	EventAdherenceEscalation EventType = "adherence_escalation"
	EventQuestion            EventType = "question"
	EventTravelNotice        EventType = "travel_notice"
	EventClinicalDecision    EventType = "clinical_decision"
	EventCheckIn             EventType = "check_in"
)

// EventTypes lists every event type in scheduling order
var EventTypes = []EventType{
	EventOnboard,
	EventTravelNotice,
	EventPlanReview,
	EventExerciseNudge,
	EventExerciseUpdate,
	EventTestSchedule,
	EventTestResult,
	EventAdherenceCheckin,
	EventAdherenceEscalation,
	EventClinicalDecision,
	EventCheckIn,
	EventQuestion,
}

// ParseEventType resolves a configuration key to an event type
func ParseEventType(s string) (EventType, bool) {
	for _, e := range EventTypes {
		if string(e) == s {
			return e, true
		}
	}
	return "", false
}

// Topic tags attached to turns
const (
	TagOnboard        = "ONBOARD"
	TagPlan           = "PLAN"
	TagExercise       = "EXERCISE"
	TagExerciseUpdate = "EXERCISE_UPDATE"
	TagTravelAdapt    = "TRAVEL_ADAPT"
	TagTestSchedule   = "TEST_SCHEDULE"
	TagTestResult     = "TEST_RESULT"
	TagStatus         = "STATUS"
	TagAdherence      = "ADHERENCE"
	TagMissed         = "MISSED"
	TagReply          = "REPLY"
	TagSupport        = "SUPPORT"
	TagEscalation     = "ESCALATION"
	TagQuestion       = "QUESTION"
	TagTravel         = "TRAVEL"
	TagDecision       = "DECISION"
	TagCheckin        = "CHECKIN"
)

// Message types carried on each turn
const (
	MessageSystem   = "system"
	MessageReport   = "report"
	MessagePlan     = "plan"
	MessageChat     = "chat"
	MessageDecision = "decision"
)

// DecisionCategory classifies a decision rationale
type DecisionCategory string

const (
	DecisionPlan     DecisionCategory = "plan"
	DecisionTest     DecisionCategory = "test"
	DecisionExercise DecisionCategory = "exercise"
	DecisionOther    DecisionCategory = "other"
)

// decisionTags maps decision-bearing tags to the category of their rationale
var decisionTags = map[string]DecisionCategory{
	TagPlan:           DecisionPlan,
	TagDecision:       DecisionPlan,
	TagTestSchedule:   DecisionTest,
	TagExerciseUpdate: DecisionExercise,
	TagEscalation:     DecisionOther,
}

// DecisionCategoryFor returns the rationale category a turn's tags require.
// The first decision-bearing tag wins.
func DecisionCategoryFor(tags []string) (DecisionCategory, bool) {
	for _, t := range tags {
		if c, ok := decisionTags[t]; ok {
			return c, true
		}
	}
	return "", false
}

// Quality records how a turn's text was produced
type Quality string

const (
	QualityGenerated   Quality = "generated"
	QualityParaphrased Quality = "paraphrased"
	QualityFallback    Quality = "fallback"
	QualityVariant     Quality = "variant"
)

// TurnMeta carries per-turn annotations
type TurnMeta struct {
	MemberInitiated bool    `json:"member_initiated"`
	AdherenceFlag   *bool   `json:"adherence_flag"`
	TravelWeek      bool    `json:"travel_week"`
	Location        string  `json:"location,omitempty"`
	Quality         Quality `json:"quality"`
}

// Turn is one timestamped message in the generated conversation
type Turn struct {
	ID          int          `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Speaker     string       `json:"sender"`
	Role        RoleCategory `json:"sender_role"`
	Text        string       `json:"text"`
	Tags        []string     `json:"tags"`
	DecisionRef string       `json:"decision_id,omitempty"`
	MessageType string       `json:"message_type"`
	Event       EventType    `json:"event"`
	Meta        TurnMeta     `json:"meta"`
}

// HasTag reports whether the turn carries tag
func (t Turn) HasTag(tag string) bool {
	for _, x := range t.Tags {
		if x == tag {
			return true
		}
	}
	return false
}

// TurnRef is the back-reference from a decision to its triggering turn
type TurnRef struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"sender"`
	Tags      []string  `json:"tags"`
}

// Decision rationale sources
const (
	SourceBackend  = "backend"
	SourceFallback = "fallback"
)

// DecisionRecord justifies one decision-bearing turn
type DecisionRecord struct {
	ID         string           `json:"decision_id"`
	Category   DecisionCategory `json:"category"`
	Rationale  string           `json:"rationale"`
	Confidence string           `json:"confidence"`
	NextSteps  []string         `json:"next_steps"`
	Turn       TurnRef          `json:"turn"`
	Source     string           `json:"source"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Snapshot is a read-only view of the schedule context handed to generators
type Snapshot struct {
	Date            time.Time
	DayIndex        int
	Week            int
	Travelling      bool
	Location        string
	AdherenceStreak int
	MissStreak      int
	Checkins        int
	Adherent        int
}

// AdherencePct returns the observed adherence ratio, or -1 with no check-ins
func (s Snapshot) AdherencePct() float64 {
	if s.Checkins == 0 {
		return -1
	}
	return float64(s.Adherent) / float64(s.Checkins)
}

// AdherenceSummary describes adherence in prompt-friendly words
func (s Snapshot) AdherenceSummary() string {
	if s.Checkins == 0 {
		return "no check-ins yet"
	}
	summary := fmt.Sprintf("%d of %d check-ins on plan", s.Adherent, s.Checkins)
	if s.MissStreak > 0 {
		summary += fmt.Sprintf(", %d missed in a row", s.MissStreak)
	} else if s.AdherenceStreak > 1 {
		summary += fmt.Sprintf(", %d on plan in a row", s.AdherenceStreak)
	}
	return summary
}

// TravelSummary describes the travel state in prompt-friendly words
func (s Snapshot) TravelSummary() string {
	if !s.Travelling {
		return "at home"
	}
	return "travelling in " + s.Location
}

// Member describes the person the conversation is generated for
type Member struct {
	ID               string `yaml:"id" json:"id" envconfig:"ID"`
	Name             string `yaml:"name" json:"name" envconfig:"NAME"`
	Age              int    `yaml:"age" json:"age" envconfig:"AGE"`
	Location         string `yaml:"location" json:"location" envconfig:"LOCATION"`
	ChronicCondition string `yaml:"chronic_condition" json:"chronic_condition" envconfig:"CHRONIC_CONDITION"`
}

// Profile is a one-line description of the member
func (m Member) Profile() string {
	var parts []string
	if m.Age > 0 {
		parts = append(parts, fmt.Sprintf("%d", m.Age))
	}
	if m.Location != "" {
		parts = append(parts, "lives in "+m.Location)
	}
	if m.ChronicCondition != "" {
		parts = append(parts, strings.ToLower(m.ChronicCondition))
	}
	return strings.Join(parts, ", ")
}

// Period is the generated date range
type Period struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Days      int    `json:"days"`
}

// TimelineMeta summarizes a generated timeline
type TimelineMeta struct {
	TotalMessages        int      `json:"total_messages"`
	MemberMessages       int      `json:"member_messages"`
	Decisions            int      `json:"decisions"`
	DegradedTurns        int      `json:"degraded_turns"`
	AdherencePctObserved *float64 `json:"adherence_pct_observed"`
	Seed                 int64    `json:"seed"`
	Backend              string   `json:"backend"`
	RunID                string   `json:"run_id,omitempty"`
}

// Timeline is the persisted conversation artifact
type Timeline struct {
	Member      Member       `json:"member"`
	GeneratedAt time.Time    `json:"generated_at"`
	Period      Period       `json:"period"`
	Meta        TimelineMeta `json:"meta"`
	Messages    []Turn       `json:"messages"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status   string `json:"status"`
	Backend  string `json:"backend"`
	Timeline string `json:"timeline"`
	Version  string `json:"version"`
}

// RunSummary is one generation run as recorded in the ledger
type RunSummary struct {
	ID         string     `json:"id"`
	Seed       int64      `json:"seed"`
	StartDate  string     `json:"start_date"`
	EndDate    string     `json:"end_date"`
	Backend    string     `json:"backend"`
	Status     string     `json:"status"`
	Turns      int        `json:"turns"`
	Decisions  int        `json:"decisions"`
	Degraded   int        `json:"degraded"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Run statuses
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Degradation kinds logged during a run
const (
	DegradedFallback           = "fallback"
	DegradedDuplicateExhausted = "duplicate_exhausted"
	DegradedRationaleFallback  = "rationale_fallback"
)

// Degradation records one quality downgrade during generation
type Degradation struct {
	Kind    string    `json:"kind"`
	TurnID  int       `json:"turn_id"`
	Event   EventType `json:"event"`
	At      time.Time `json:"at"`
	Speaker string    `json:"speaker"`
	Detail  string    `json:"detail,omitempty"`
}

// PromptUsage is one rendered prompt as appended to the usage log
type PromptUsage struct {
	Timestamp time.Time      `json:"timestamp"`
	Name      string         `json:"prompt_name"`
	Prompt    string         `json:"prompt"`
	Meta      map[string]any `json:"meta"`
}
