package catalog

import (
	"encoding/json"

	"github.com/fanwu/vessel-notifier/internal/ruleengine"
)

func decodeTemplate(raw []byte) (ruleengine.Template, error) {
	var t ruleengine.Template
	if len(raw) == 0 {
		return t, nil
	}
	err := json.Unmarshal(raw, &t)
	return t, err
}

// decodeCoordinates decodes a polygon ring stored as a JSON array of
// [lng, lat] pairs (spec §3 Geofence.coordinates).
func decodeCoordinates(raw []byte) ([][2]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var coords [][2]float64
	if err := json.Unmarshal(raw, &coords); err != nil {
		return nil, err
	}
	return coords, nil
}
