package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"How often should I exercise?", "how often should i exercise"},
		{"  how   often\tshould i exercise  ", "how often should i exercise"},
		{"Don't skip -- today's session!!!", "dont skip todays session"},
		{"LDL: 3.4 mmol/L", "ldl 3 4 mmol l"},
		{"", ""},
		{"?!...", ""},
		{"Café ☕ time", "café time"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"How often should I exercise?",
		"  Multiple   SPACES,, and; punctuation...  ",
		"Ünïcödé — dashes “quotes” and 'ticks'",
		"Tabs\tand\nnewlines",
		"123 go!",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), in)
	}
}

func TestCheckAndRecordCaseVariant(t *testing.T) {
	ix := New(0.8, 50)

	v := ix.CheckAndRecord("How often should I exercise?")
	assert.False(t, v.Duplicate)

	v = ix.CheckAndRecord("how often should i exercise")
	assert.True(t, v.Duplicate)
	assert.Equal(t, 1.0, v.Similarity)
	assert.Equal(t, 2, v.Count)
}

func TestCheckAndRecordNearDuplicate(t *testing.T) {
	ix := New(0.8, 50)

	require.False(t, ix.CheckAndRecord("Your lipid panel is booked for Tuesday morning at the clinic.").Duplicate)

	v := ix.CheckAndRecord("Your lipid panel is booked for Tuesday morning at the clinic downtown.")
	assert.True(t, v.Duplicate)
	assert.GreaterOrEqual(t, v.Similarity, 0.8)

	// a near-duplicate is not recorded
	_, ok := ix.Lookup("Your lipid panel is booked for Tuesday morning at the clinic downtown.")
	assert.False(t, ok)
}

func TestRepeatedInsertDoesNotEscalateDistinctText(t *testing.T) {
	ix := New(0.8, 50)
	distinct := "Remember to pack resistance bands for the Tokyo trip."

	before := ix.Check(distinct)
	require.False(t, before.Duplicate)

	ix.CheckAndRecord("Great job hitting your step goal today.")
	ix.CheckAndRecord("Great job hitting your step goal today.")
	ix.Record("great job hitting your step goal today")

	after := ix.CheckAndRecord(distinct)
	assert.False(t, after.Duplicate)
	assert.Equal(t, before.Similarity, after.Similarity)

	e, ok := ix.Lookup("Great job hitting your step goal today!")
	require.True(t, ok)
	assert.Equal(t, 3, e.Count)
	assert.Equal(t, 2, ix.Len())
}

func TestWindowBoundsNearDuplicateHistory(t *testing.T) {
	ix := New(0.8, 2)

	ix.CheckAndRecord("Morning walk completed before breakfast as planned.")
	ix.CheckAndRecord("Swapped rice for quinoa at lunch today.")
	ix.CheckAndRecord("Slept seven hours and felt rested this morning.")

	// the first text fell out of the window, so only exact repeats match it
	v := ix.CheckAndRecord("Morning walk completed before breakfast as planned, felt good.")
	assert.False(t, v.Duplicate)

	v = ix.CheckAndRecord("morning walk completed before breakfast as planned")
	assert.True(t, v.Duplicate)
}

func TestRecordForcesAcceptance(t *testing.T) {
	ix := New(0.8, 50)
	ix.CheckAndRecord("Your plan for the next two weeks is ready.")

	variant := "Your plan for the next two weeks is ready now."
	require.True(t, ix.Check(variant).Duplicate)

	assert.Equal(t, 1, ix.Record(variant))
	assert.Equal(t, 2, ix.Record(variant))
}

func TestJaccard(t *testing.T) {
	a := Tokens(Normalize("exercise plan updated"))
	b := Tokens(Normalize("updated exercise plan"))
	c := Tokens(Normalize("blood test booked"))

	assert.Equal(t, 1.0, Jaccard(a, b))
	assert.Equal(t, 0.0, Jaccard(a, c))
	assert.Equal(t, 1.0, Jaccard(map[string]struct{}{}, map[string]struct{}{}))
}

func TestTokensOnlyStopwords(t *testing.T) {
	tokens := Tokens("it is what it is")
	assert.Contains(t, tokens, "what")

	tokens = Tokens("it is")
	assert.Len(t, tokens, 2)
}
