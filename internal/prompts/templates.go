package prompts

// Template names beyond the per-event templates
const (
	QuestionReply    = "question_reply"
	AdherenceSupport = "adherence_support"
	Rationale        = "rationale"
	Paraphrase       = "paraphrase"
)

// Variables every template may reference. Render fills missing ones with
// empty strings so a template never fails on an unused optional field.
var Variables = []string{
	"member",
	"member_profile",
	"speaker",
	"role",
	"date",
	"weekday",
	"week",
	"travel",
	"location",
	"previous_topic",
	"recent_topics",
	"topic",
	"adherence",
	"adherence_pct",
	"context_text",
	"text",
	"category",
	"recent_turns",
}

type template struct {
	system string
	user   string
}

const advisorSystem = `You write one short WhatsApp-style message from {speaker}, the {role} on a health coaching team, to {member} ({member_profile}).
Write one or two sentences in plain English. Do not prefix the message with a name, do not use quotes, and do not sign off.`

const memberSystem = `You write one short WhatsApp-style message from {member} ({member_profile}), a member of a health coaching program, to the coaching team.
Write one or two sentences in a casual, first-person voice. Do not prefix the message with a name and do not use quotes.`

var defaults = map[string]template{
	"onboard": {
		system: advisorSystem,
		user:   `It is {weekday} {date}, the first day of the program. Welcome {member}, introduce yourself as their concierge and explain what the first week looks like.`,
	},
	"plan_review": {
		system: advisorSystem,
		user:   `Date: {date} (week {week}). Review the current health plan for {member}. Adherence so far: {adherence}. Your previous topic was {previous_topic}. State one concrete change to the plan.`,
	},
	"exercise_nudge": {
		system: advisorSystem,
		user:   `Date: {date} (week {week}). Travel: {travel}. Send a brief nudge about today's exercise session. Avoid repeating these recent topics: {recent_topics}.`,
	},
	"exercise_update": {
		system: advisorSystem,
		user:   `Date: {date} (week {week}). Travel: {travel}. Share the exercise plan for the next two weeks, adapted to the travel situation if any. Your previous topic was {previous_topic}.`,
	},
	"test_schedule": {
		system: advisorSystem,
		user:   `Date: {date} (week {week}). Schedule the next blood panel for {member} and say briefly why it is due now. Adherence so far: {adherence}.`,
	},
	"test_result": {
		system: advisorSystem,
		user:   `Date: {date} (week {week}). Report the results of yesterday's blood panel in plain terms and say whether the plan changes. Scheduling message: {context_text}`,
	},
	"adherence_checkin": {
		system: memberSystem,
		user:   `Date: {date} (week {week}). Travel: {travel}. Report on today's plan: {adherence}. Mention one specific detail about the day.`,
	},
	"adherence_escalation": {
		system: advisorSystem,
		user:   `Date: {date} (week {week}). {member} has missed the plan several days in a row ({adherence}). Raise the concern and propose an adjustment to the plan.`,
	},
	"question": {
		system: memberSystem,
		user:   `Date: {date} (week {week}). Travel: {travel}. Ask the team a question about {topic}. Recent topics you already asked about: {recent_topics}.`,
	},
	"travel_notice": {
		system: memberSystem,
		user:   `Date: {date} (week {week}). You are travelling to {location} this week. Let the team know and mention how it affects your routine.`,
	},
	"clinical_decision": {
		system: advisorSystem,
		user:   `Date: {date} (week {week}). Make a clinical decision for {member} given a mild lipid rise and adherence of {adherence}: a supplement, medication or referral. Your previous topic was {previous_topic}.`,
	},
	"check_in": {
		system: advisorSystem,
		user:   `Date: {date} (week {week}). Send a short proactive check-in to {member}. Travel: {travel}. Avoid these recent topics: {recent_topics}.`,
	},
	QuestionReply: {
		system: advisorSystem,
		user:   `Date: {date}. {member} asked about {topic}: {context_text}
Answer helpfully and specifically.`,
	},
	AdherenceSupport: {
		system: advisorSystem,
		user:   `Date: {date}. {member} reported missing today's plan: {context_text}
Reply supportively and suggest one small step for tomorrow.`,
	},
	Rationale: {
		system: `You document clinical and coaching decisions for a health program. Reply with a JSON object only, using the keys rationale (string), confidence (low, medium or high) and next_steps (array of short strings).`,
		user: `Decision category: {category}
Decision message from {speaker} ({role}) on {date}, week {week}: {text}
Member: {member} ({member_profile})
Travel: {travel}. Adherence: {adherence} (observed {adherence_pct}).
Recent conversation:
{recent_turns}`,
	},
	Paraphrase: {
		system: `You rewrite short chat messages so they say the same thing in clearly different words. Reply with the rewritten message only.`,
		user:   `Rewrite this message from {speaker}, keeping its meaning but changing its wording and sentence structure: {text}`,
	},
}
