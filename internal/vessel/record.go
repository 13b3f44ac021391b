// Package vessel defines the wire shape of an AIS-derived vessel state
// record and the helpers the rule engine needs to read it generically.
package vessel

import (
	"encoding/json"
	"math"
	"strconv"
)

// Record is one vessel position/state observation. IMO is the entity
// identity; records for the same IMO arrive in log order on one
// partition (see spec §3, §5).
type Record struct {
	IMO       int64   `json:"imo"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	Speed   float64 `json:"speed"`
	Heading float64 `json:"heading"`
	Course  float64 `json:"course"`
	Draught float64 `json:"draught"`

	VesselType         string `json:"vesselType"`
	VesselClass        string `json:"vesselClass"`
	VesselStatus       string `json:"vesselStatus"`
	VesselVoyageStatus string `json:"vesselVoyageStatus"`

	AISDestination string `json:"aisDestination"`
	AreaName       string `json:"areaName"`
	AreaNameLevel1 string `json:"areaNameLevel1"`
	IsSeagoing     bool   `json:"isSeagoing"`
	VesselName     string `json:"vesselName"`

	ClientID string `json:"clientId,omitempty"`

	// Extra carries opaque passthrough fields the producer sends that
	// this system does not model explicitly. Evaluators may still read
	// them by name via field_resolver.go.
	Extra json.RawMessage `json:"extra,omitempty"`
}

// HasValidPosition reports whether Latitude/Longitude are both finite
// numbers, per spec §4.5.5.
func (r *Record) HasValidPosition() bool {
	return isFiniteCoordinate(r.Latitude) && isFiniteCoordinate(r.Longitude)
}

func isFiniteCoordinate(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// TrackedFields is the fixed set of scalar fields whose previous value
// is kept per IMO (spec §4.5.4). Order is stable for deterministic
// iteration in tests and logs.
var TrackedFields = []string{
	"VesselName",
	"Speed",
	"VesselVoyageStatus",
	"VesselStatus",
	"AISDestination",
	"AreaName",
	"AreaNameLevel1",
	"Heading",
	"Draught",
	"Course",
	"IsSeagoing",
}

// TrackedSnapshot extracts the fixed tracked-field set as a generic
// string-keyed map suitable for state-store persistence (spec §3
// "Tracked-fields snapshot").
func (r *Record) TrackedSnapshot() map[string]string {
	out := make(map[string]string, len(TrackedFields))
	for _, f := range TrackedFields {
		out[f] = r.FieldString(f)
	}
	return out
}

// FieldString returns the string representation of one of the fixed
// tracked fields (case-sensitive field name). Returns "" for unknown
// fields; callers needing passthrough/arbitrary field lookup should
// use ruleengine's field resolver instead, which also covers Extra.
func (r *Record) FieldString(field string) string {
	switch field {
	case "VesselName":
		return r.VesselName
	case "Speed":
		return formatFloat(r.Speed)
	case "VesselVoyageStatus":
		return r.VesselVoyageStatus
	case "VesselStatus":
		return r.VesselStatus
	case "AISDestination":
		return r.AISDestination
	case "AreaName":
		return r.AreaName
	case "AreaNameLevel1":
		return r.AreaNameLevel1
	case "Heading":
		return formatFloat(r.Heading)
	case "Draught":
		return formatFloat(r.Draught)
	case "Course":
		return formatFloat(r.Course)
	case "IsSeagoing":
		if r.IsSeagoing {
			return "true"
		}
		return "false"
	case "VesselType":
		return r.VesselType
	case "VesselClass":
		return r.VesselClass
	case "IMO":
		return formatInt(r.IMO)
	default:
		return ""
	}
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
