package ruleengine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fanwu/vessel-notifier/internal/vessel"
)

// ChangeCondition is the decoded shape of a change rule's
// ClientRule.ConditionRaw (spec §4.5.3). From/To are optional
// wildcard-pattern filters; an empty list matches anything.
type ChangeCondition struct {
	Field string   `json:"field"`
	From  []string `json:"from,omitempty"`
	To    []string `json:"to,omitempty"`
}

// EvaluateChange implements spec §4.5.3: fires when the tracked
// field's value differs from the previous observation AND both the
// old and new values satisfy their respective wildcard filters (when
// present). The first observation seeds state silently.
func EvaluateChange(rule ClientRule, rec *vessel.Record, prev *RuleState) (Decision, error) {
	var cond ChangeCondition
	if err := json.Unmarshal(rule.ConditionRaw, &cond); err != nil {
		return Decision{}, fmt.Errorf("ruleengine: decode change condition for rule %s: %w", rule.ID, err)
	}

	current, ok := resolveStringField(rec, cond.Field)
	if !ok {
		return Decision{}, nil
	}

	newState, err := json.Marshal(ChangeState{Value: current})
	if err != nil {
		return Decision{}, err
	}

	var hadPrev bool
	var previous string
	if prev != nil && len(prev.State) > 0 {
		var st ChangeState
		if err := json.Unmarshal(prev.State, &st); err != nil {
			return Decision{}, fmt.Errorf("ruleengine: decode change state for rule %s entity %d: %w", rule.ID, rec.IMO, err)
		}
		hadPrev = true
		previous = st.Value
	}

	if !hadPrev || previous == "" || current == "" {
		return Decision{NewState: newState}, nil
	}

	if previous == current {
		return Decision{NewState: newState}, nil
	}

	if !matchesAny(cond.From, previous) || !matchesAny(cond.To, current) {
		return Decision{NewState: newState}, nil
	}

	return Decision{
		Triggered: true,
		NewState:  newState,
		Context: map[string]interface{}{
			"field":        cond.Field,
			"previousValue": previous,
			"currentValue":  current,
		},
	}, nil
}

// matchesAny reports whether value matches at least one pattern in
// patterns. An empty pattern list matches any value (spec §4.5.3).
func matchesAny(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if wildcardMatch(p, value) {
			return true
		}
	}
	return false
}

// wildcardMatch implements the closed 4-case pattern grammar from
// spec §4.5.3: "*x*" (contains), "*x" (suffix), "x*" (prefix), and
// "x" (exact). Matching is case-insensitive; this is intentionally
// not a regex engine.
func wildcardMatch(pattern, value string) bool {
	pattern = strings.ToLower(pattern)
	value = strings.ToLower(value)

	hasPrefixStar := strings.HasPrefix(pattern, "*")
	hasSuffixStar := strings.HasSuffix(pattern, "*")

	switch {
	case hasPrefixStar && hasSuffixStar && len(pattern) >= 2:
		needle := pattern[1 : len(pattern)-1]
		return strings.Contains(value, needle)
	case hasPrefixStar:
		needle := pattern[1:]
		return strings.HasSuffix(value, needle)
	case hasSuffixStar:
		needle := pattern[:len(pattern)-1]
		return strings.HasPrefix(value, needle)
	default:
		return pattern == value
	}
}
