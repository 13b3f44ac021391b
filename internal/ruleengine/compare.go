package ruleengine

import (
	"encoding/json"
	"fmt"

	"github.com/fanwu/vessel-notifier/internal/vessel"
)

// CompareOperator is the closed set of operators the compare
// evaluator supports (spec §4.5.2).
type CompareOperator string

const (
	CompareEq  CompareOperator = "eq"
	CompareGt  CompareOperator = "gt"
	CompareGte CompareOperator = "gte"
	CompareLt  CompareOperator = "lt"
	CompareLte CompareOperator = "lte"
)

// CompareCondition is the decoded shape of a compare rule's
// ClientRule.ConditionRaw.
type CompareCondition struct {
	Field    string          `json:"field"`
	Operator CompareOperator `json:"operator"`
	Value    json.Number     `json:"value"`
}

// EvaluateCompare implements spec §4.5.2: a stateless numeric
// comparison against the current record only. It never reads or
// writes RuleState.
func EvaluateCompare(rule ClientRule, rec *vessel.Record) (Decision, error) {
	var cond CompareCondition
	if err := json.Unmarshal(rule.ConditionRaw, &cond); err != nil {
		return Decision{}, fmt.Errorf("ruleengine: decode compare condition for rule %s: %w", rule.ID, err)
	}

	actual, ok := resolveNumericField(rec, cond.Field)
	if !ok {
		return Decision{}, nil
	}

	target, err := cond.Value.Float64()
	if err != nil {
		return Decision{}, fmt.Errorf("ruleengine: compare condition for rule %s has non-numeric value: %w", rule.ID, err)
	}

	if !compareNumbers(actual, target, cond.Operator) {
		return Decision{}, nil
	}

	return Decision{
		Triggered: true,
		Context: map[string]interface{}{
			"field":        cond.Field,
			"operator":     string(cond.Operator),
			"threshold":    target,
			"currentValue": actual,
		},
	}, nil
}

func compareNumbers(actual, target float64, op CompareOperator) bool {
	switch op {
	case CompareEq:
		return actual == target
	case CompareGt:
		return actual > target
	case CompareGte:
		return actual >= target
	case CompareLt:
		return actual < target
	case CompareLte:
		return actual <= target
	default:
		return false
	}
}
