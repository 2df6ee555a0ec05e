package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgumentsEmptyString(t *testing.T) {
	args, err := ParseArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestParseArgumentsRejectsNonObject(t *testing.T) {
	_, err := ParseArguments(`[1,2,3]`)
	assert.Error(t, err)
}

func TestValidateArgsTable(t *testing.T) {
	schema := InputSchema{
		Type: "object",
		Properties: map[string]Property{
			"name":  {Type: "string"},
			"count": {Type: "integer"},
			"ratio": {Type: "number"},
			"force": {Type: "boolean"},
			"mode":  {Type: "string", Enum: []string{"fast", "safe"}},
			"tags":  {Type: "array", Items: &Property{Type: "string"}},
			"opts": {Type: "object", Properties: map[string]*Property{
				"depth": {Type: "integer"},
			}},
		},
		Required: []string{"name"},
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid minimal", map[string]any{"name": "a"}, false},
		{"missing required", map[string]any{"count": float64(1)}, true},
		{"wrong string type", map[string]any{"name": 7}, true},
		{"integer accepts whole float", map[string]any{"name": "a", "count": float64(3)}, false},
		{"integer rejects fraction", map[string]any{"name": "a", "count": 3.5}, true},
		{"number ok", map[string]any{"name": "a", "ratio": 0.25}, false},
		{"boolean wrong type", map[string]any{"name": "a", "force": "yes"}, true},
		{"enum member", map[string]any{"name": "a", "mode": "fast"}, false},
		{"enum violation", map[string]any{"name": "a", "mode": "reckless"}, true},
		{"array item type", map[string]any{"name": "a", "tags": []any{"x", 1}}, true},
		{"nested object field", map[string]any{"name": "a", "opts": map[string]any{"depth": 1.5}}, true},
		{"unknown field ignored", map[string]any{"name": "a", "extra": "anything"}, false},
		{"null value skipped", map[string]any{"name": "a", "count": nil}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(&schema, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
