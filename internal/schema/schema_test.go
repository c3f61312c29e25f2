package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"travelers": {"type": "integer", "minimum": 1},
		"budget": {"type": ["number", "null"]}
	},
	"required": ["title"]
}`

func TestValidate(t *testing.T) {
	s := MustCompile(planSchema)

	require.NoError(t, s.Validate(json.RawMessage(`{"title":"Tokyo","travelers":2}`)))
	assert.Error(t, s.Validate(json.RawMessage(`{"travelers":2}`)), "missing required field")
	assert.Error(t, s.Validate(json.RawMessage(`{"title":"Tokyo","travelers":"2"}`)), "wrong type")
	assert.Error(t, s.Validate(json.RawMessage(`{not json`)))
}

func TestNilSchemaAcceptsAnything(t *testing.T) {
	var s *Schema
	assert.NoError(t, s.Validate(json.RawMessage(`{"anything":true}`)))

	empty, err := Compile(nil)
	require.NoError(t, err)
	assert.NoError(t, empty.ValidateValue(42))
	assert.JSONEq(t, `{"type":"object"}`, string(empty.Raw()))
}

func TestProperties(t *testing.T) {
	props := MustCompile(planSchema).Properties()
	assert.Equal(t, map[string]string{
		"title":     "string",
		"travelers": "integer",
		"budget":    "number",
	}, props)
}
