// Package schema compiles JSON Schema documents once and validates raw JSON
// payloads against them. Tool input validation, tool-call repair and
// structured model output all share it.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is a compiled JSON Schema. The zero value and nil accept anything.
type Schema struct {
	raw      json.RawMessage
	resolved *jsonschema.Resolved
}

// Compile parses and resolves a JSON Schema document.
func Compile(raw json.RawMessage) (*Schema, error) {
	if len(raw) == 0 {
		return &Schema{}, nil
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	rs, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return &Schema{raw: raw, resolved: rs}, nil
}

// MustCompile is Compile for package-level schema literals.
func MustCompile(raw string) *Schema {
	s, err := Compile(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns the schema document as given to Compile.
func (s *Schema) Raw() json.RawMessage {
	if s == nil || len(s.raw) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return s.raw
}

// Validate checks a raw JSON document against the schema.
func (s *Schema) Validate(data json.RawMessage) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return s.ValidateValue(v)
}

// ValidateValue checks an already-decoded JSON value (map[string]any etc.).
func (s *Schema) ValidateValue(v any) error {
	if s == nil || s.resolved == nil {
		return nil
	}
	return s.resolved.Validate(v)
}

// Properties returns the declared top-level property types, keyed by name.
// Used by local repair to coerce scalar mismatches.
func (s *Schema) Properties() map[string]string {
	if s == nil || len(s.raw) == 0 {
		return nil
	}
	var doc struct {
		Properties map[string]struct {
			Type any `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(s.raw, &doc); err != nil {
		return nil
	}
	out := make(map[string]string, len(doc.Properties))
	for name, p := range doc.Properties {
		switch t := p.Type.(type) {
		case string:
			out[name] = t
		case []any:
			for _, x := range t {
				if str, ok := x.(string); ok && str != "null" {
					out[name] = str
					break
				}
			}
		}
	}
	return out
}
