package ruleengine

import (
	"fmt"
	"strings"
)

// RenderTemplate implements spec §4.5.6: a closed "{{key}}" string
// replacement grammar, deliberately not a general template engine
// (spec REDESIGN FLAGS — no text/template, no scripting). Unknown
// keys are left as-is rather than erroring, so a rule referencing a
// context key an evaluator didn't populate degrades to visible
// placeholder text instead of failing the whole notification.
func RenderTemplate(tmpl string, ctx map[string]interface{}) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	var b strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])
		key := strings.TrimSpace(rest[start+2 : end])
		if v, ok := ctx[key]; ok {
			b.WriteString(stringifyContextValue(v))
		} else {
			b.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
	return b.String()
}

func stringifyContextValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
