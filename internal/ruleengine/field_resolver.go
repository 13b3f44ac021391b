package ruleengine

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/fanwu/vessel-notifier/internal/vessel"
)

// resolveJSONPath handles Field names written as a JSONPath
// expression ("$.nested.value") against Extra, for passthrough
// documents too irregularly shaped for a flat gjson dotted path (spec
// §3 "Extra"). gjson covers the common case; jsonpath covers the rest.
func resolveJSONPath(rec *vessel.Record, field string) (interface{}, bool) {
	if !strings.HasPrefix(field, "$.") || len(rec.Extra) == 0 {
		return nil, false
	}
	var doc interface{}
	if err := json.Unmarshal(rec.Extra, &doc); err != nil {
		return nil, false
	}
	v, err := jsonpath.Get(field, doc)
	if err != nil {
		return nil, false
	}
	return v, true
}

// resolveStringField resolves a condition's Field name against a
// record: first the fixed scalar fields vessel.Record knows about,
// then (for opaque passthrough fields the producer sends but this
// system does not model, spec §3 "Extra") the Extra JSON document via
// gjson dotted-path lookup. Returns ok=false when the field is absent
// entirely, which evaluators treat as "filter miss" rather than an
// error (spec §4.6 edge case table).
func resolveStringField(rec *vessel.Record, field string) (string, bool) {
	if s := rec.FieldString(field); s != "" {
		return s, true
	}
	if len(rec.Extra) == 0 {
		return "", false
	}
	res := gjson.GetBytes(rec.Extra, field)
	if res.Exists() {
		return res.String(), true
	}
	if v, ok := resolveJSONPath(rec, field); ok {
		return jsonPathValueToString(v), true
	}
	return "", false
}

func jsonPathValueToString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// resolveNumericField resolves a condition's Field name to a float64,
// trying the fixed scalar fields first and falling back to Extra.
func resolveNumericField(rec *vessel.Record, field string) (float64, bool) {
	switch field {
	case "Speed":
		return rec.Speed, true
	case "Heading":
		return rec.Heading, true
	case "Course":
		return rec.Course, true
	case "Draught":
		return rec.Draught, true
	case "Latitude":
		return rec.Latitude, true
	case "Longitude":
		return rec.Longitude, true
	case "IMO":
		return float64(rec.IMO), true
	}
	if len(rec.Extra) == 0 {
		return 0, false
	}
	res := gjson.GetBytes(rec.Extra, field)
	if !res.Exists() {
		return 0, false
	}
	if res.Type == gjson.Number {
		return res.Float(), true
	}
	if f, err := strconv.ParseFloat(res.String(), 64); err == nil {
		return f, true
	}
	return 0, false
}
