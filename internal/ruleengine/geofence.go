package ruleengine

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/fanwu/vessel-notifier/internal/vessel"
)

const earthRadiusKm = 6371.0

// GeofenceCondition is the decoded shape of a geofence rule's
// ClientRule.ConditionRaw (spec §4.5.1). TriggerOn selects which
// transitions fire a notification; an absent/empty value defaults to
// "both".
type GeofenceCondition struct {
	TriggerOn TriggerOn `json:"triggerOn,omitempty"`
}

// EvaluateGeofence implements spec §4.5.1: point-in-polygon via ray
// casting for polygon fences, haversine great-circle distance for
// circle fences, and enter/exit/both transition semantics driven by
// the previous RuleState. The first observation for a (rule, entity)
// pair seeds state silently without triggering (spec §4.5.1 "unknown
// to inside/outside").
func EvaluateGeofence(rule ClientRule, fence *Geofence, rec *vessel.Record, prev *RuleState) (Decision, error) {
	if fence == nil {
		return Decision{}, fmt.Errorf("ruleengine: geofence evaluator requires a geofence, rule %s has none", rule.ID)
	}
	if !rec.HasValidPosition() {
		return Decision{}, nil
	}

	triggerOn := TriggerOnBoth
	if len(rule.ConditionRaw) > 0 {
		var cond GeofenceCondition
		if err := json.Unmarshal(rule.ConditionRaw, &cond); err != nil {
			return Decision{}, fmt.Errorf("ruleengine: decode geofence condition for rule %s: %w", rule.ID, err)
		}
		if cond.TriggerOn != "" {
			triggerOn = cond.TriggerOn
		}
	}

	isInside := pointInFence(*fence, rec.Latitude, rec.Longitude)

	var hadPrev bool
	var wasInside bool
	if prev != nil && len(prev.State) > 0 {
		var st GeofenceState
		if err := json.Unmarshal(prev.State, &st); err != nil {
			return Decision{}, fmt.Errorf("ruleengine: decode geofence state for rule %s entity %d: %w", rule.ID, rec.IMO, err)
		}
		hadPrev = true
		wasInside = st.IsInside
	}

	newState, err := json.Marshal(GeofenceState{IsInside: isInside})
	if err != nil {
		return Decision{}, err
	}

	if !hadPrev {
		return Decision{NewState: newState}, nil
	}

	if wasInside == isInside {
		return Decision{NewState: newState}, nil
	}

	transition := "exit"
	action := "exited"
	if isInside {
		transition = "enter"
		action = "entered"
	}

	fires := triggerOn == TriggerOnBoth ||
		(triggerOn == TriggerOnEnter && transition == "enter") ||
		(triggerOn == TriggerOnExit && transition == "exit")

	if !fires {
		return Decision{NewState: newState}, nil
	}

	return Decision{
		Triggered:  true,
		Transition: transition,
		NewState:   newState,
		Context: map[string]interface{}{
			"isInside":     isInside,
			"action":       action,
			"geofenceName": fence.Name,
			"latitude":     rec.Latitude,
			"longitude":    rec.Longitude,
		},
	}, nil
}

func pointInFence(fence Geofence, lat, lng float64) bool {
	switch fence.Type {
	case GeofenceTypeCircle:
		if fence.CenterLat == nil || fence.CenterLng == nil || fence.RadiusKm == nil {
			return false
		}
		return haversineKm(lat, lng, *fence.CenterLat, *fence.CenterLng) <= *fence.RadiusKm
	default:
		return pointInPolygon(fence.Coordinates, lat, lng)
	}
}

// pointInPolygon is the standard ray-casting (even-odd) test. ring is
// a list of [lng, lat] pairs. Per spec §4.5.1, a ring whose first
// coordinate differs from its last is closed by appending the first
// point, and a polygon needs at least 4 coordinates (after closure)
// to be valid; anything shorter yields isInsideNow = false.
func pointInPolygon(ring [][2]float64, lat, lng float64) bool {
	ring = closeRing(ring)
	n := len(ring)
	if n < 4 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		intersects := ((yi > lat) != (yj > lat)) &&
			(lng < (xj-xi)*(lat-yi)/(yj-yi)+xi)
		if intersects {
			inside = !inside
		}
	}
	return inside
}

func closeRing(ring [][2]float64) [][2]float64 {
	if len(ring) == 0 {
		return ring
	}
	first, last := ring[0], ring[len(ring)-1]
	if first == last {
		return ring
	}
	closed := make([][2]float64, len(ring)+1)
	copy(closed, ring)
	closed[len(ring)] = first
	return closed
}

// haversineKm returns the great-circle distance between two
// lat/lng points in kilometers.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
