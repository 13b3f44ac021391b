package ruleengine

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanwu/vessel-notifier/internal/vessel"
)

func squareFence() *Geofence {
	return &Geofence{
		ID:   "fence-1",
		Name: "Port Approach",
		Type: GeofenceTypePolygon,
		Coordinates: [][2]float64{
			{0, 0}, {10, 0}, {10, 10}, {0, 10},
		},
	}
}

func ruleWithTriggerOn(triggerOn TriggerOn) ClientRule {
	cond, _ := json.Marshal(GeofenceCondition{TriggerOn: triggerOn})
	return ClientRule{ID: "r1", ConditionRaw: cond}
}

func TestEvaluateGeofence_FirstObservationSeedsSilently(t *testing.T) {
	rule := ruleWithTriggerOn(TriggerOnBoth)
	rec := &vessel.Record{IMO: 1, Latitude: 5, Longitude: 5}

	d, err := EvaluateGeofence(rule, squareFence(), rec, nil)
	require.NoError(t, err)
	assert.False(t, d.Triggered)
	require.NotNil(t, d.NewState)

	var st GeofenceState
	require.NoError(t, json.Unmarshal(d.NewState, &st))
	assert.True(t, st.IsInside)
}

func TestEvaluateGeofence_EnterFires(t *testing.T) {
	rule := ruleWithTriggerOn(TriggerOnEnter)
	prevRaw, _ := json.Marshal(GeofenceState{IsInside: false})
	prev := &RuleState{State: prevRaw}
	rec := &vessel.Record{IMO: 1, Latitude: 5, Longitude: 5}

	d, err := EvaluateGeofence(rule, squareFence(), rec, prev)
	require.NoError(t, err)
	assert.True(t, d.Triggered)
	assert.Equal(t, "enter", d.Transition)
}

func TestEvaluateGeofence_ExitNotRequestedDoesNotFire(t *testing.T) {
	rule := ruleWithTriggerOn(TriggerOnEnter)
	prevRaw, _ := json.Marshal(GeofenceState{IsInside: true})
	prev := &RuleState{State: prevRaw}
	rec := &vessel.Record{IMO: 1, Latitude: 50, Longitude: 50}

	d, err := EvaluateGeofence(rule, squareFence(), rec, prev)
	require.NoError(t, err)
	assert.False(t, d.Triggered)

	var st GeofenceState
	require.NoError(t, json.Unmarshal(d.NewState, &st))
	assert.False(t, st.IsInside)
}

func TestEvaluateGeofence_ExitOnlyFiresOnExit(t *testing.T) {
	rule := ruleWithTriggerOn(TriggerOnExit)
	prevRaw, _ := json.Marshal(GeofenceState{IsInside: true})
	prev := &RuleState{State: prevRaw}
	rec := &vessel.Record{IMO: 1, Latitude: 50, Longitude: 50}

	d, err := EvaluateGeofence(rule, squareFence(), rec, prev)
	require.NoError(t, err)
	assert.True(t, d.Triggered, "exit-only rule must fire when leaving the fence")
	assert.Equal(t, "exit", d.Transition)
}

func TestEvaluateGeofence_NoTransitionNoFire(t *testing.T) {
	rule := ruleWithTriggerOn(TriggerOnBoth)
	prevRaw, _ := json.Marshal(GeofenceState{IsInside: true})
	prev := &RuleState{State: prevRaw}
	rec := &vessel.Record{IMO: 1, Latitude: 5, Longitude: 5}

	d, err := EvaluateGeofence(rule, squareFence(), rec, prev)
	require.NoError(t, err)
	assert.False(t, d.Triggered)
}

func TestEvaluateGeofence_InvalidPositionSkips(t *testing.T) {
	rule := ruleWithTriggerOn(TriggerOnBoth)
	rec := &vessel.Record{IMO: 1, Latitude: math.NaN(), Longitude: 5}

	d, err := EvaluateGeofence(rule, squareFence(), rec, nil)
	require.NoError(t, err)
	assert.False(t, d.Triggered)
	assert.Nil(t, d.NewState)
}

func TestEvaluateGeofence_MissingConditionDefaultsToBoth(t *testing.T) {
	rule := ClientRule{ID: "r1"}
	prevRaw, _ := json.Marshal(GeofenceState{IsInside: true})
	prev := &RuleState{State: prevRaw}
	rec := &vessel.Record{IMO: 1, Latitude: 50, Longitude: 50}

	d, err := EvaluateGeofence(rule, squareFence(), rec, prev)
	require.NoError(t, err)
	assert.True(t, d.Triggered, "absent condition document defaults to both")
	assert.Equal(t, "exit", d.Transition)
}

func TestEvaluateGeofence_Scenario1_EnterEmitsLiteralPayload(t *testing.T) {
	fence := &Geofence{
		ID:   "fence-1",
		Name: "Approach",
		Type: GeofenceTypePolygon,
		Coordinates: [][2]float64{
			{103.7, 1.2}, {103.9, 1.2}, {103.9, 1.4}, {103.7, 1.4},
		},
	}
	rule := ruleWithTriggerOn(TriggerOnEnter)

	first := &vessel.Record{IMO: 9000001, Longitude: 103.6, Latitude: 1.3}
	d1, err := EvaluateGeofence(rule, fence, first, nil)
	require.NoError(t, err)
	assert.False(t, d1.Triggered)

	prev := &RuleState{State: d1.NewState}
	second := &vessel.Record{IMO: 9000001, Longitude: 103.8, Latitude: 1.3}
	d2, err := EvaluateGeofence(rule, fence, second, prev)
	require.NoError(t, err)
	require.True(t, d2.Triggered)
	assert.Equal(t, true, d2.Context["isInside"])
	assert.Equal(t, "entered", d2.Context["action"])
}

func TestEvaluateGeofence_Scenario5_IdempotentReplay(t *testing.T) {
	fence := &Geofence{
		ID:   "fence-1",
		Name: "Approach",
		Type: GeofenceTypePolygon,
		Coordinates: [][2]float64{
			{103.7, 1.2}, {103.9, 1.2}, {103.9, 1.4}, {103.7, 1.4},
		},
	}
	rule := ruleWithTriggerOn(TriggerOnEnter)
	prevRaw, _ := json.Marshal(GeofenceState{IsInside: false})
	prev := &RuleState{State: prevRaw}
	rec := &vessel.Record{IMO: 9000001, Longitude: 103.8, Latitude: 1.3}

	d, err := EvaluateGeofence(rule, fence, rec, prev)
	require.NoError(t, err)
	require.True(t, d.Triggered)

	var st GeofenceState
	require.NoError(t, json.Unmarshal(d.NewState, &st))
	replayPrev := &RuleState{State: d.NewState}

	d2, err := EvaluateGeofence(rule, fence, rec, replayPrev)
	require.NoError(t, err)
	assert.False(t, d2.Triggered)
}

func TestEvaluateGeofence_Circle(t *testing.T) {
	radius := 100.0
	lat, lng := 1.0, 1.0
	fence := &Geofence{ID: "c1", Name: "Anchorage", Type: GeofenceTypeCircle, CenterLat: &lat, CenterLng: &lng, RadiusKm: &radius}
	rule := ruleWithTriggerOn(TriggerOnBoth)
	rec := &vessel.Record{IMO: 1, Latitude: 1.1, Longitude: 1.1}

	d, err := EvaluateGeofence(rule, fence, rec, nil)
	require.NoError(t, err)
	var st GeofenceState
	require.NoError(t, json.Unmarshal(d.NewState, &st))
	assert.True(t, st.IsInside)
}
