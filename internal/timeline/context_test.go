package timeline

import (
	"testing"

	"github.com/mrwolf/journeygen/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTravelPlanPeriodic(t *testing.T) {
	plan, err := newTravelPlan(config.TravelConfig{EveryNWeeks: 4, Locations: []string{"London", "Tokyo"}})
	require.NoError(t, err)
	start := date("2025-01-01")

	at := func(day int) travelState { return plan.at(start.AddDate(0, 0, day), day) }

	assert.False(t, at(0).active)
	assert.False(t, at(20).active)

	s := at(21) // first day of week 4
	assert.True(t, s.active)
	assert.True(t, s.first)
	assert.Equal(t, "London", s.location)

	s = at(24)
	assert.True(t, s.active)
	assert.False(t, s.first)

	assert.False(t, at(28).active)
	assert.Equal(t, "Tokyo", at(49).location)
	assert.Equal(t, "London", at(77).location)
}

func TestTravelPlanTrips(t *testing.T) {
	plan, err := newTravelPlan(config.TravelConfig{
		EveryNWeeks: 1,
		Trips:       []config.Trip{{Start: "2025-02-10", End: "2025-02-12", Location: "Jakarta"}},
	})
	require.NoError(t, err)

	assert.False(t, plan.at(date("2025-02-09"), 39).active)
	s := plan.at(date("2025-02-10"), 40)
	assert.True(t, s.active)
	assert.True(t, s.first)
	assert.Equal(t, "Jakarta", s.location)
	assert.False(t, plan.at(date("2025-02-11"), 41).first)
	assert.True(t, plan.at(date("2025-02-12"), 42).active)
	assert.False(t, plan.at(date("2025-02-13"), 43).active)

	_, err = newTravelPlan(config.TravelConfig{Trips: []config.Trip{{Start: "soon", End: "2025-02-12"}}})
	assert.Error(t, err)
}
