package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate_SubstitutesKnownKeys(t *testing.T) {
	out := RenderTemplate("Vessel entered {{geofenceName}} at {{latitude}},{{longitude}}", map[string]interface{}{
		"geofenceName": "Port Approach",
		"latitude":     1.23,
		"longitude":    103.45,
	})
	assert.Equal(t, "Vessel entered Port Approach at 1.23,103.45", out)
}

func TestRenderTemplate_UnknownKeyLeftVerbatim(t *testing.T) {
	out := RenderTemplate("Hello {{missing}}", map[string]interface{}{})
	assert.Equal(t, "Hello {{missing}}", out)
}

func TestRenderTemplate_NoPlaceholders(t *testing.T) {
	out := RenderTemplate("plain text", map[string]interface{}{"x": 1})
	assert.Equal(t, "plain text", out)
}
