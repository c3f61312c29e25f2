package model

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/schema"
)

// GenerateObject asks m for a JSON object conforming to s, validates the
// reply and decodes it into out. req is not modified.
func GenerateObject(ctx context.Context, m LanguageModel, req *Request, s *schema.Schema, out any) (*Response, error) {
	r := *req
	r.ResponseSchema = s.Raw()
	r.Tools = nil

	resp, err := m.Generate(ctx, &r)
	if err != nil {
		return nil, err
	}

	raw := ExtractJSON(resp.Text)
	if raw == nil {
		return resp, cerr.New(cerr.ModelInvalidResponse, "model did not return a JSON object", nil).
			WithMeta("text", truncate(resp.Text, 200))
	}
	if err := s.Validate(raw); err != nil {
		return resp, cerr.New(cerr.ModelInvalidResponse, "model output does not match schema", err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, cerr.New(cerr.ModelInvalidResponse, "decode model output", err)
		}
	}
	return resp, nil
}

// ExtractJSON pulls the first JSON object out of model text, tolerating
// markdown code fences and leading prose. Returns nil if none is found.
func ExtractJSON(text string) json.RawMessage {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```json")
		t = strings.TrimPrefix(t, "```")
		if i := strings.LastIndex(t, "```"); i >= 0 {
			t = t[:i]
		}
		t = strings.TrimSpace(t)
	}
	if json.Valid([]byte(t)) && strings.HasPrefix(t, "{") {
		return json.RawMessage(t)
	}

	start := strings.IndexByte(t, '{')
	end := strings.LastIndexByte(t, '}')
	if start < 0 || end <= start {
		return nil
	}
	candidate := t[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil
	}
	return json.RawMessage(candidate)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
