package ruleengine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fanwu/vessel-notifier/internal/vessel"
)

// DynamicOperator is the closed set of operators the dynamic
// evaluator supports (spec §4.5.4).
type DynamicOperator string

const (
	DynEq           DynamicOperator = "eq"
	DynNeq          DynamicOperator = "neq"
	DynGt           DynamicOperator = "gt"
	DynGte          DynamicOperator = "gte"
	DynLt           DynamicOperator = "lt"
	DynLte          DynamicOperator = "lte"
	DynIn           DynamicOperator = "in"
	DynNotIn        DynamicOperator = "not_in"
	DynContains     DynamicOperator = "contains"
	DynStartsWith   DynamicOperator = "starts_with"
	DynChanged      DynamicOperator = "changed"
	DynChangedTo    DynamicOperator = "changed_to"
	DynChangedFrom  DynamicOperator = "changed_from"
	DynChangedBy    DynamicOperator = "changed_by"
	DynCrossedAbove DynamicOperator = "crossed_above"
	DynCrossedBelow DynamicOperator = "crossed_below"
)

// DynamicLogic joins a rule's leaf conditions (spec §4.5.4).
type DynamicLogic string

const (
	LogicAND DynamicLogic = "AND"
	LogicOR  DynamicLogic = "OR"
)

// DynamicCondition is one leaf test in a composite dynamic rule.
// Value carries a scalar operand (eq/neq/gt/.../crossed_above/
// crossed_below/contains/starts_with); Values carries a list operand
// (in/not_in/changed_to/changed_from — spec §4.5.4 "changed AND
// current/previous ∈ values").
type DynamicCondition struct {
	ID        string          `json:"id"`
	Field     string          `json:"field"`
	Operator  DynamicOperator `json:"operator"`
	Value     json.RawMessage `json:"value,omitempty"`
	Values    json.RawMessage `json:"values,omitempty"`
	Tolerance float64         `json:"tolerance,omitempty"`
}

// DynamicRoot is the decoded shape of a dynamic rule's
// ClientRule.ConditionRaw (spec §4.5.4).
type DynamicRoot struct {
	Logic      DynamicLogic       `json:"logic"`
	Conditions []DynamicCondition `json:"conditions"`
}

// EntityTrackedState is the generic per-entity field-value snapshot
// the dynamic evaluator reads and writes (spec §3 "Tracked-fields
// snapshot"), persisted at vessel:fullstate:{IMO} in the state store
// and shared by every dynamic rule evaluated against that entity.
type EntityTrackedState struct {
	Fields map[string]string `json:"fields"`
}

// conditionResult is per-leaf bookkeeping merged into the final
// Decision.Context (spec §4.5.4 "context includes per-condition
// result details").
type conditionResult struct {
	ok       bool
	current  string
	previous string
	hadPrev  bool
}

// EvaluateDynamic implements spec §4.5.4: a composite of leaf
// conditions joined by AND (all must hold) or OR (any must hold).
// State-dependent operators (changed*, crossed_*) short-circuit to
// not-triggered when no previous tracked-fields snapshot exists,
// since a transition needs two observations.
func EvaluateDynamic(rule ClientRule, rec *vessel.Record, prevState *EntityTrackedState) (Decision, error) {
	var root DynamicRoot
	if err := json.Unmarshal(rule.ConditionRaw, &root); err != nil {
		return Decision{}, fmt.Errorf("ruleengine: decode dynamic condition for rule %s: %w", rule.ID, err)
	}
	if len(root.Conditions) == 0 {
		return Decision{}, fmt.Errorf("ruleengine: dynamic rule %s has no conditions", rule.ID)
	}

	results := make(map[string]conditionResult, len(root.Conditions))
	for _, cond := range root.Conditions {
		res, err := evalDynamicLeaf(cond, rec, prevState)
		if err != nil {
			return Decision{}, fmt.Errorf("ruleengine: dynamic rule %s: %w", rule.ID, err)
		}
		key := cond.ID
		if key == "" {
			key = cond.Field
		}
		results[key] = res
	}

	var triggered bool
	if root.Logic == LogicOR {
		for _, res := range results {
			if res.ok {
				triggered = true
				break
			}
		}
	} else {
		triggered = true
		for _, res := range results {
			if !res.ok {
				triggered = false
				break
			}
		}
	}

	ctx := make(map[string]interface{}, len(results)*2)
	for field, res := range results {
		ctx[field] = res.current
		if res.hadPrev {
			ctx["previous_"+field] = res.previous
		}
	}

	if !triggered {
		return Decision{Context: ctx}, nil
	}
	return Decision{Triggered: true, Context: ctx}, nil
}

func evalDynamicLeaf(cond DynamicCondition, rec *vessel.Record, prevState *EntityTrackedState) (conditionResult, error) {
	current, ok := resolveStringField(rec, cond.Field)
	if !ok {
		return conditionResult{}, nil
	}

	var previous string
	var hadPrev bool
	if prevState != nil {
		previous, hadPrev = prevState.Fields[cond.Field]
	}

	res := conditionResult{current: current, previous: previous, hadPrev: hadPrev}

	switch cond.Operator {
	case DynEq, DynNeq, DynGt, DynGte, DynLt, DynLte:
		ok, err := evalDynamicCompare(cond, current)
		res.ok = ok
		return res, err
	case DynIn, DynNotIn:
		ok, err := evalDynamicSet(cond, current)
		res.ok = ok
		return res, err
	case DynContains:
		needle, err := decodeScalarString(cond.Value)
		if err != nil {
			return res, fmt.Errorf("field %s: %w", cond.Field, err)
		}
		res.ok = strings.Contains(strings.ToLower(current), strings.ToLower(needle))
		return res, nil
	case DynStartsWith:
		needle, err := decodeScalarString(cond.Value)
		if err != nil {
			return res, fmt.Errorf("field %s: %w", cond.Field, err)
		}
		res.ok = strings.HasPrefix(strings.ToLower(current), strings.ToLower(needle))
		return res, nil
	case DynChanged:
		res.ok = hadPrev && previous != "" && current != "" && previous != current
		return res, nil
	case DynChangedTo:
		inSet, err := stringInValues(cond.Values, current)
		if err != nil {
			return res, fmt.Errorf("field %s: %w", cond.Field, err)
		}
		res.ok = hadPrev && previous != "" && current != "" && previous != current && inSet
		return res, nil
	case DynChangedFrom:
		inSet, err := stringInValues(cond.Values, previous)
		if err != nil {
			return res, fmt.Errorf("field %s: %w", cond.Field, err)
		}
		res.ok = hadPrev && previous != "" && current != "" && previous != current && inSet
		return res, nil
	case DynChangedBy:
		if !hadPrev {
			return res, nil
		}
		curNum, err1 := strconv.ParseFloat(current, 64)
		prevNum, err2 := strconv.ParseFloat(previous, 64)
		if err1 != nil || err2 != nil {
			return res, nil
		}
		res.ok = math.Abs(curNum-prevNum) >= cond.Tolerance
		return res, nil
	case DynCrossedAbove:
		ok, err := evalCrossed(cond, current, previous, hadPrev, true)
		res.ok = ok
		return res, err
	case DynCrossedBelow:
		ok, err := evalCrossed(cond, current, previous, hadPrev, false)
		res.ok = ok
		return res, err
	default:
		return res, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

func decodeScalarString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func evalDynamicCompare(cond DynamicCondition, current string) (bool, error) {
	curNum, errNum := strconv.ParseFloat(current, 64)
	if errNum == nil {
		var target float64
		if err := json.Unmarshal(cond.Value, &target); err != nil {
			return false, fmt.Errorf("field %s: %w", cond.Field, err)
		}
		switch cond.Operator {
		case DynEq:
			return curNum == target, nil
		case DynNeq:
			return curNum != target, nil
		case DynGt:
			return curNum > target, nil
		case DynGte:
			return curNum >= target, nil
		case DynLt:
			return curNum < target, nil
		case DynLte:
			return curNum <= target, nil
		}
	}
	target, err := decodeScalarString(cond.Value)
	if err != nil {
		return false, fmt.Errorf("field %s: %w", cond.Field, err)
	}
	switch cond.Operator {
	case DynEq:
		return current == target, nil
	case DynNeq:
		return current != target, nil
	default:
		return false, fmt.Errorf("operator %q requires a numeric field %s", cond.Operator, cond.Field)
	}
}

func evalDynamicSet(cond DynamicCondition, current string) (bool, error) {
	member, err := stringInValues(cond.Values, current)
	if err != nil {
		return false, fmt.Errorf("field %s: %w", cond.Field, err)
	}
	if cond.Operator == DynNotIn {
		return !member, nil
	}
	return member, nil
}

// stringInValues reports whether value is a member of the JSON array
// in raw (spec §4.5.4 "changed_to(values)"/"changed_from(values)" and
// "in"/"not_in" all read a list operand).
func stringInValues(raw json.RawMessage, value string) (bool, error) {
	var set []string
	if err := json.Unmarshal(raw, &set); err != nil {
		return false, err
	}
	for _, v := range set {
		if v == value {
			return true, nil
		}
	}
	return false, nil
}

func evalCrossed(cond DynamicCondition, current, previous string, hadPrev bool, above bool) (bool, error) {
	if !hadPrev {
		return false, nil
	}
	var threshold float64
	if err := json.Unmarshal(cond.Value, &threshold); err != nil {
		return false, fmt.Errorf("field %s: %w", cond.Field, err)
	}
	curNum, err1 := strconv.ParseFloat(current, 64)
	prevNum, err2 := strconv.ParseFloat(previous, 64)
	if err1 != nil || err2 != nil {
		return false, nil
	}
	if above {
		return prevNum <= threshold && curNum > threshold, nil
	}
	return prevNum >= threshold && curNum < threshold, nil
}
